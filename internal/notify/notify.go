// Package notify renders and delivers account emails.
package notify

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/url"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Notifier is told about account events that warrant an email.
type Notifier interface {
	PasswordReset(ctx context.Context, email, name, token string) error
	PasswordChanged(ctx context.Context, email, name string) error
}

// Message is one rendered email.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

// Mailer delivers a rendered message.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Renderer builds messages. FrontendURL is the base of reset links.
type Renderer struct {
	FrontendURL string
	ResetTTL    time.Duration
}

func (r Renderer) PasswordReset(email, name, token string) (Message, error) {
	link := strings.TrimRight(r.FrontendURL, "/") + "/reset-password?token=" + url.QueryEscape(token)
	body, err := render("password_reset.html", map[string]any{
		"Name":     name,
		"Link":     link,
		"ValidFor": humanize(r.ResetTTL),
	})
	if err != nil {
		return Message{}, err
	}
	return Message{To: email, Subject: "Reset Your Password", HTML: body}, nil
}

func (r Renderer) PasswordChanged(email, name string) (Message, error) {
	body, err := render("password_changed.html", map[string]any{"Name": name})
	if err != nil {
		return Message{}, err
	}
	return Message{To: email, Subject: "Your Password Was Changed", HTML: body}, nil
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

func humanize(d time.Duration) string {
	switch {
	case d <= 0:
		return "1 hour"
	case d%time.Hour == 0:
		if d == time.Hour {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", d/time.Hour)
	default:
		return fmt.Sprintf("%d minutes", d/time.Minute)
	}
}

// MailNotifier renders messages and sends them synchronously.
type MailNotifier struct {
	renderer Renderer
	mailer   Mailer
}

func NewMailNotifier(renderer Renderer, mailer Mailer) *MailNotifier {
	return &MailNotifier{renderer: renderer, mailer: mailer}
}

var _ Notifier = (*MailNotifier)(nil)

func (n *MailNotifier) PasswordReset(ctx context.Context, email, name, token string) error {
	msg, err := n.renderer.PasswordReset(email, name, token)
	if err != nil {
		return err
	}
	return n.mailer.Send(ctx, msg)
}

func (n *MailNotifier) PasswordChanged(ctx context.Context, email, name string) error {
	msg, err := n.renderer.PasswordChanged(email, name)
	if err != nil {
		return err
	}
	return n.mailer.Send(ctx, msg)
}

// LogMailer writes messages to the log instead of sending them. Used when
// no SMTP server is configured.
type LogMailer struct {
	log *slog.Logger
}

func NewLogMailer(log *slog.Logger) *LogMailer {
	if log == nil {
		log = slog.Default()
	}
	return &LogMailer{log: log}
}

func (m *LogMailer) Send(_ context.Context, msg Message) error {
	m.log.Info("email not sent (no SMTP configured)", "to", msg.To, "subject", msg.Subject)
	m.log.Debug("email body", "to", msg.To, "html", msg.HTML)
	return nil
}
