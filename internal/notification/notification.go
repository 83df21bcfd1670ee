// Package notification fans execution results and audit events out to the
// configured channels. Delivery is strictly fire-and-forget: a failed send
// is logged and dropped, it never affects the job that produced it.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gsoultan/gsmail"
	"github.com/gsoultan/gsmail/smtp"

	queryportal "github.com/harshg-zluri/db-query-portal-sub000"
)

type Provider interface {
	Send(ctx context.Context, kind queryportal.NotificationKind, subject, message string) error
	Type() string
}

type Service struct {
	providers []Provider
	logger    queryportal.Logger
}

func NewService(logger queryportal.Logger) *Service {
	return &Service{logger: logger}
}

func (s *Service) AddProvider(p Provider) {
	s.providers = append(s.providers, p)
}

// Notify renders the event once and hands it to every provider. Errors are
// logged per provider and swallowed.
func (s *Service) Notify(ctx context.Context, kind queryportal.NotificationKind, req *queryportal.ExecutionRequest, executorID string, outcome *queryportal.Outcome, reason string) {
	subject, message := render(kind, req, executorID, outcome, reason)
	for _, p := range s.providers {
		if err := p.Send(ctx, kind, subject, message); err != nil {
			s.logger.Warn("notification delivery failed",
				"provider", p.Type(), "kind", string(kind), "request_id", req.ID, "error", err)
		}
	}
}

func render(kind queryportal.NotificationKind, req *queryportal.ExecutionRequest, executorID string, outcome *queryportal.Outcome, reason string) (string, string) {
	switch kind {
	case queryportal.NotifyAudit:
		return fmt.Sprintf("Execution audit: %s", req.ID),
			fmt.Sprintf("Request %s on %s/%s was executed by %s. Reason: %s",
				req.ID, req.InstanceID, req.Database, executorID, reason)
	default:
		status := "succeeded"
		detail := ""
		if outcome != nil && !outcome.Success {
			status = "failed"
			detail = "\nError: " + outcome.Error
		}
		if outcome != nil && outcome.Success {
			detail = fmt.Sprintf("\nRows: %d", outcome.RowCount)
		}
		return fmt.Sprintf("Execution %s: %s", status, req.ID),
			fmt.Sprintf("Request %s (%s %s on %s/%s) %s.%s",
				req.ID, req.Kind, req.Backend, req.InstanceID, req.Database, status, detail)
	}
}

type SlackProvider struct {
	webhookURL string
	client     *http.Client
}

func NewSlackProvider(webhookURL string) *SlackProvider {
	return &SlackProvider{webhookURL: webhookURL, client: &http.Client{Timeout: 10 * time.Second}}
}

func (p *SlackProvider) Send(ctx context.Context, kind queryportal.NotificationKind, subject, message string) error {
	body, _ := json.Marshal(map[string]string{
		"text": fmt.Sprintf("*%s*\n%s", subject, message),
	})
	return postJSON(ctx, p.client, p.webhookURL, body)
}

func (p *SlackProvider) Type() string { return "slack" }

type WebhookProvider struct {
	url    string
	client *http.Client
}

func NewWebhookProvider(url string) *WebhookProvider {
	return &WebhookProvider{url: url, client: &http.Client{Timeout: 10 * time.Second}}
}

func (p *WebhookProvider) Send(ctx context.Context, kind queryportal.NotificationKind, subject, message string) error {
	body, _ := json.Marshal(map[string]string{
		"kind":    string(kind),
		"subject": subject,
		"message": message,
	})
	return postJSON(ctx, p.client, p.url, body)
}

func (p *WebhookProvider) Type() string { return "webhook" }

func postJSON(ctx context.Context, client *http.Client, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status: %d", resp.StatusCode)
	}
	return nil
}

type EmailSettings struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	To       string
	SSL      bool
}

type EmailProvider struct {
	settings EmailSettings
}

func NewEmailProvider(settings EmailSettings) *EmailProvider {
	return &EmailProvider{settings: settings}
}

func (p *EmailProvider) Send(ctx context.Context, kind queryportal.NotificationKind, subject, message string) error {
	if p.settings.Host == "" || p.settings.To == "" {
		return nil
	}

	sender := smtp.NewSender(p.settings.Host, p.settings.Port, p.settings.User, p.settings.Password, p.settings.SSL)
	email := gsmail.Email{
		From:    p.settings.From,
		To:      []string{p.settings.To},
		Subject: subject,
		Body:    []byte(message),
	}
	return sender.Send(ctx, email)
}

func (p *EmailProvider) Type() string { return "email" }

// LogProvider writes every event to the structured log. Always registered
// so an unconfigured deployment still records an audit trail.
type LogProvider struct {
	logger queryportal.Logger
}

func NewLogProvider(logger queryportal.Logger) *LogProvider {
	return &LogProvider{logger: logger}
}

func (p *LogProvider) Send(ctx context.Context, kind queryportal.NotificationKind, subject, message string) error {
	p.logger.Info("notification", "kind", string(kind), "subject", subject, "message", message)
	return nil
}

func (p *LogProvider) Type() string { return "log" }
