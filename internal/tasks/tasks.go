package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"homebid/internal/config"
	"homebid/internal/email"
	"homebid/internal/notify"
	"homebid/internal/utils"
)

// NewClient creates an asynq client for enqueuing tasks.
func NewClient(rdb *redis.Client) *asynq.Client {
	clientOpt := asynq.RedisClientOpt{
		Addr:     rdb.Options().Addr,
		Password: rdb.Options().Password,
		DB:       rdb.Options().DB,
	}
	return asynq.NewClient(clientOpt)
}

// TaskProcessor holds the dependencies needed by task handlers.
type TaskProcessor struct {
	cfg         *config.Config
	emailSender email.Sender
	smsSender   notify.SMSSender
}

// NewTaskProcessor creates a new TaskProcessor.
func NewTaskProcessor(cfg *config.Config, emailSender email.Sender, smsSender notify.SMSSender) *TaskProcessor {
	return &TaskProcessor{
		cfg:         cfg,
		emailSender: emailSender,
		smsSender:   smsSender,
	}
}

// SetupServer configures an asynq server for the background worker.
func SetupServer(rdb *redis.Client) *asynq.Server {
	serverOpt := asynq.RedisClientOpt{
		Addr:     rdb.Options().Addr,
		Password: rdb.Options().Password,
		DB:       rdb.Options().DB,
	}

	return asynq.NewServer(
		serverOpt,
		asynq.Config{
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				utils.Error("task failed", map[string]any{
					"type":    task.Type(),
					"payload": string(task.Payload()),
					"error":   err.Error(),
				})
			}),
		},
	)
}

// NewMux registers the background worker's task handlers.
func NewMux(processor *TaskProcessor) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(notify.TypeEmailNotify, processor.HandleEmailNotifyTask)
	mux.HandleFunc(notify.TypeSMSNotify, processor.HandleSMSNotifyTask)
	return mux
}

// HandleEmailNotifyTask renders and delivers a queued email notification.
// Delivery failures are logged and not retried.
func (p *TaskProcessor) HandleEmailNotifyTask(ctx context.Context, t *asynq.Task) error {
	var msg notify.Message
	if err := json.Unmarshal(t.Payload(), &msg); err != nil {
		return fmt.Errorf("failed to unmarshal email notification payload: %v: %w", err, asynq.SkipRetry)
	}

	fromAddress := p.cfg.SmtpFromAddress
	if fromAddress == "" {
		fromAddress = "noreply@homebid.example.com"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(msg.Recipients, ", ")))
	sb.WriteString(fmt.Sprintf("From: %s\r\n", fromAddress))
	if len(msg.CC) > 0 {
		sb.WriteString(fmt.Sprintf("Cc: %s\r\n", strings.Join(msg.CC, ", ")))
	}
	if msg.ReplyTo != "" {
		sb.WriteString(fmt.Sprintf("Reply-To: %s\r\n", msg.ReplyTo))
	}
	sb.WriteString(fmt.Sprintf("Subject: %s\r\n", msg.Subject))
	sb.WriteString("Date: " + time.Now().Format(time.RFC1123Z) + "\r\n")
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(msg.HTMLBody)
	sb.WriteString("\r\n")

	recipients := append([]string{}, msg.Recipients...)
	recipients = append(recipients, msg.CC...)

	if err := p.emailSender.Send(ctx, recipients, msg.Subject, []byte(sb.String())); err != nil {
		utils.Error("email notification delivery failed", map[string]any{
			"to":      msg.Recipients,
			"subject": msg.Subject,
			"error":   err.Error(),
		})
		return fmt.Errorf("email delivery failed: %v: %w", err, asynq.SkipRetry)
	}
	return nil
}

// HandleSMSNotifyTask delivers a queued SMS notification.
func (p *TaskProcessor) HandleSMSNotifyTask(ctx context.Context, t *asynq.Task) error {
	var payload notify.SMSTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal sms notification payload: %v: %w", err, asynq.SkipRetry)
	}

	if err := p.smsSender.Send(ctx, payload.Phone, payload.Text); err != nil {
		utils.Error("sms notification delivery failed", map[string]any{
			"phone": payload.Phone,
			"error": err.Error(),
		})
		return fmt.Errorf("sms delivery failed: %v: %w", err, asynq.SkipRetry)
	}
	return nil
}
