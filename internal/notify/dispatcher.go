package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"homebid/internal/utils"
)

// Attachment is an optional file attached to an email message.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

// Message is the send-only email contract. Failures are logged by the
// caller and never retried.
type Message struct {
	Recipients  []string     `json:"recipients"`
	Subject     string       `json:"subject"`
	HTMLBody    string       `json:"html_body"`
	Attachments []Attachment `json:"attachments,omitempty"`
	CC          []string     `json:"cc,omitempty"`
	ReplyTo     string       `json:"reply_to,omitempty"`
}

// Dispatcher is the outbound notification contract.
type Dispatcher interface {
	SendEmail(ctx context.Context, msg Message) error
	SendSMS(ctx context.Context, phone, text string) error
}

// Task type names understood by the background worker.
const (
	TypeEmailNotify = "notify:email"
	TypeSMSNotify   = "notify:sms"
)

// SMSTaskPayload is the queued form of an SMS notification.
type SMSTaskPayload struct {
	Phone string `json:"phone"`
	Text  string `json:"text"`
}

// queueDispatcher hands notifications to the background worker over asynq.
// Tasks are enqueued with zero retries: a failed delivery is logged by the
// worker, not re-attempted.
type queueDispatcher struct {
	client *asynq.Client
}

// NewQueueDispatcher creates a Dispatcher backed by the task queue.
func NewQueueDispatcher(client *asynq.Client) Dispatcher {
	return &queueDispatcher{client: client}
}

func (d *queueDispatcher) SendEmail(ctx context.Context, msg Message) error {
	if len(msg.Recipients) == 0 {
		return fmt.Errorf("notification has no recipients")
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal email notification: %w", err)
	}
	task := asynq.NewTask(TypeEmailNotify, payload)
	if _, err := d.client.EnqueueContext(ctx, task, asynq.MaxRetry(0)); err != nil {
		return fmt.Errorf("failed to enqueue email notification: %w", err)
	}
	return nil
}

func (d *queueDispatcher) SendSMS(ctx context.Context, phone, text string) error {
	if phone == "" {
		return fmt.Errorf("notification has no phone number")
	}
	payload, err := json.Marshal(SMSTaskPayload{Phone: phone, Text: text})
	if err != nil {
		return fmt.Errorf("failed to marshal sms notification: %w", err)
	}
	task := asynq.NewTask(TypeSMSNotify, payload)
	if _, err := d.client.EnqueueContext(ctx, task, asynq.MaxRetry(0)); err != nil {
		return fmt.Errorf("failed to enqueue sms notification: %w", err)
	}
	return nil
}

// SMSSender is the transport contract for SMS delivery.
type SMSSender interface {
	Send(ctx context.Context, phone, text string) error
}

// LoggingSMSSender logs SMS messages instead of sending them. Used in
// development and when no SMS gateway is configured.
type LoggingSMSSender struct{}

func (LoggingSMSSender) Send(ctx context.Context, phone, text string) error {
	utils.Info("sms logged (not sent)", map[string]any{"phone": phone, "text": text})
	return nil
}
