// Package notify posts failed-job alerts to Slack and, optionally, an
// email digest — the Go form of fail-watcher.py.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/distgpu/runner/internal/domain"
	"github.com/resend/resend-go/v2"
)

// Sender abstracts "deliver a digest email", the same shape the teacher's
// magic-link mailer used, so swapping LogSender/ResendSender needs no
// change to the notifier itself.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogSender logs the digest instead of sending it — used when no Resend
// API key is configured.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender { return &LogSender{logger: logger} }

func (s *LogSender) Send(_ context.Context, to, subject, body string) error {
	s.logger.Info("failure digest email (no RESEND_API_KEY configured)", "to", to, "subject", subject)
	return nil
}

// ResendSender sends the digest via the Resend API.
type ResendSender struct {
	client *resend.Client
	from   string
}

func NewResendSender(apiKey, from string) *ResendSender {
	return &ResendSender{client: resend.NewClient(apiKey), from: from}
}

func (s *ResendSender) Send(ctx context.Context, to, subject, body string) error {
	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{to},
		Subject: subject,
		Html:    body,
	}
	_, err := s.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		return fmt.Errorf("send digest email: %w", err)
	}
	return nil
}

// NewSender returns a LogSender when apiKey is empty, ResendSender otherwise.
func NewSender(apiKey, from string, logger *slog.Logger) Sender {
	if apiKey == "" {
		return NewLogSender(logger)
	}
	return NewResendSender(apiKey, from)
}

// Notifier polls for newly failed jobs and posts each to Slack, plus an
// optional batched email digest every cycle.
type Notifier struct {
	jobs       JobSource
	httpClient *http.Client
	logger     *slog.Logger

	slackWebhookURL string
	digestSender    Sender
	digestTo        string

	pollInterval time.Duration
	since        time.Time
}

// JobSource is the one JobRepository method the notifier needs.
type JobSource interface {
	FailedJobsSince(ctx context.Context, since time.Time) ([]*domain.Job, error)
}

func NewNotifier(jobs JobSource, slackWebhookURL string, digestSender Sender, digestTo string, pollInterval time.Duration, logger *slog.Logger) *Notifier {
	return &Notifier{
		jobs:            jobs,
		httpClient:      &http.Client{Timeout: 10 * time.Second},
		logger:          logger.With("component", "notifier"),
		slackWebhookURL: slackWebhookURL,
		digestSender:    digestSender,
		digestTo:        digestTo,
		pollInterval:    pollInterval,
		since:           time.Now(),
	}
}

// Run polls FailedJobsSince every pollInterval until ctx is cancelled,
// posting each newly failed job to Slack and, if configured, emailing a
// digest of the batch.
func (n *Notifier) Run(ctx context.Context) {
	ticker := time.NewTicker(n.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.poll(ctx)
		}
	}
}

func (n *Notifier) poll(ctx context.Context) {
	now := time.Now()
	failed, err := n.jobs.FailedJobsSince(ctx, n.since)
	if err != nil {
		n.logger.Error("poll failed jobs", "error", err)
		return
	}
	n.since = now

	for _, job := range failed {
		if n.slackWebhookURL != "" {
			if err := n.postSlack(ctx, job); err != nil {
				n.logger.Error("post slack alert", "job_id", job.ID, "error", err)
			}
		}
	}

	if len(failed) > 0 && n.digestSender != nil {
		if err := n.sendDigest(ctx, failed); err != nil {
			n.logger.Error("send failure digest", "error", err)
		}
	}
}

type slackAttachment struct {
	Title    string   `json:"title"`
	Text     string   `json:"text"`
	MrkdwnIn []string `json:"mrkdwn_in,omitempty"`
	Color    string   `json:"color,omitempty"`
}

type slackPayload struct {
	Text        string             `json:"text"`
	Attachments []slackAttachment `json:"attachments"`
}

func (n *Notifier) postSlack(ctx context.Context, job *domain.Job) error {
	payload := slackPayload{
		Text: "a job failed :ghost:",
		Attachments: []slackAttachment{
			{Title: "host", Text: job.Host},
			{Title: "command", Text: "```\n" + job.Command + "\n```", MrkdwnIn: []string{"text"}},
			{Title: "error", Text: "```\n" + job.Message + "\n```", MrkdwnIn: []string{"text"}, Color: "danger"},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.slackWebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post to slack: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (n *Notifier) sendDigest(ctx context.Context, failed []*domain.Job) error {
	var b strings.Builder
	fmt.Fprintf(&b, "<h3>%d job(s) failed</h3><ul>", len(failed))
	for _, j := range failed {
		fmt.Fprintf(&b, "<li><b>%s</b> on %s: %s</li>", j.Command, j.Host, j.Message)
	}
	b.WriteString("</ul>")

	subject := fmt.Sprintf("%d job failure(s)", len(failed))
	return n.digestSender.Send(ctx, n.digestTo, subject, b.String())
}
