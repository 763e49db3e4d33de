package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homebid/internal/config"
	"homebid/internal/notify"
)

type captureEmailSender struct {
	to      []string
	subject string
	raw     []byte
	err     error
}

func (s *captureEmailSender) Send(ctx context.Context, to []string, subject string, rawMessage []byte) error {
	s.to = to
	s.subject = subject
	s.raw = rawMessage
	return s.err
}

type captureSMSSender struct {
	phone string
	text  string
	err   error
}

func (s *captureSMSSender) Send(ctx context.Context, phone, text string) error {
	s.phone = phone
	s.text = text
	return s.err
}

func emailTask(t *testing.T, msg notify.Message) *asynq.Task {
	payload, err := json.Marshal(msg)
	require.NoError(t, err)
	return asynq.NewTask(notify.TypeEmailNotify, payload)
}

func TestHandleEmailNotifyTask(t *testing.T) {
	sender := &captureEmailSender{}
	processor := NewTaskProcessor(&config.Config{SmtpFromAddress: "noreply@homebid.example.com"}, sender, &captureSMSSender{})

	task := emailTask(t, notify.Message{
		Recipients: []string{"winner@example.com"},
		CC:         []string{"records@example.com"},
		Subject:    "You won the bidding for Seaside bach",
		HTMLBody:   "<p>Congratulations!</p>",
	})
	require.NoError(t, processor.HandleEmailNotifyTask(context.Background(), task))

	assert.Equal(t, []string{"winner@example.com", "records@example.com"}, sender.to)
	assert.Equal(t, "You won the bidding for Seaside bach", sender.subject)

	raw := string(sender.raw)
	assert.Contains(t, raw, "To: winner@example.com\r\n")
	assert.Contains(t, raw, "Cc: records@example.com\r\n")
	assert.Contains(t, raw, "From: noreply@homebid.example.com\r\n")
	assert.Contains(t, raw, "Content-Type: text/html")
	assert.Contains(t, raw, "<p>Congratulations!</p>")
}

func TestHandleEmailNotifyTaskNeverRetries(t *testing.T) {
	sender := &captureEmailSender{err: errors.New("smtp: connection refused")}
	processor := NewTaskProcessor(&config.Config{}, sender, &captureSMSSender{})

	err := processor.HandleEmailNotifyTask(context.Background(), emailTask(t, notify.Message{
		Recipients: []string{"winner@example.com"},
		Subject:    "subject",
	}))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleEmailNotifyTaskMalformedPayload(t *testing.T) {
	processor := NewTaskProcessor(&config.Config{}, &captureEmailSender{}, &captureSMSSender{})

	err := processor.HandleEmailNotifyTask(context.Background(), asynq.NewTask(notify.TypeEmailNotify, []byte("{not json")))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleSMSNotifyTask(t *testing.T) {
	sms := &captureSMSSender{}
	processor := NewTaskProcessor(&config.Config{}, &captureEmailSender{}, sms)

	payload, err := json.Marshal(notify.SMSTaskPayload{Phone: "+6421000000", Text: "You won at 250.00/day."})
	require.NoError(t, err)
	require.NoError(t, processor.HandleSMSNotifyTask(context.Background(), asynq.NewTask(notify.TypeSMSNotify, payload)))

	assert.Equal(t, "+6421000000", sms.phone)
	assert.Equal(t, "You won at 250.00/day.", sms.text)
}
