package notify

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordingMailer struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (m *recordingMailer) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func TestMailNotifier_PasswordReset(t *testing.T) {
	mailer := &recordingMailer{}
	n := NewMailNotifier(Renderer{FrontendURL: "http://localhost:3000/", ResetTTL: time.Hour}, mailer)

	if err := n.PasswordReset(context.Background(), "a@example.com", "Ada", "tok-123_x"); err != nil {
		t.Fatalf("PasswordReset: %v", err)
	}
	if len(mailer.sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(mailer.sent))
	}
	msg := mailer.sent[0]
	if msg.To != "a@example.com" {
		t.Errorf("unexpected recipient %q", msg.To)
	}
	if !strings.Contains(msg.HTML, "http://localhost:3000/reset-password?token=tok-123_x") {
		t.Errorf("reset link missing from body: %s", msg.HTML)
	}
	if !strings.Contains(msg.HTML, "Hello Ada") || !strings.Contains(msg.HTML, "1 hour") {
		t.Errorf("expected greeting and validity in body: %s", msg.HTML)
	}
}

func TestMailNotifier_EscapesName(t *testing.T) {
	mailer := &recordingMailer{}
	n := NewMailNotifier(Renderer{FrontendURL: "http://x"}, mailer)

	_ = n.PasswordChanged(context.Background(), "a@example.com", "<script>")
	if strings.Contains(mailer.sent[0].HTML, "<script>") {
		t.Error("display name must be HTML-escaped")
	}
}

func TestMailNotifier_PropagatesMailerError(t *testing.T) {
	boom := errors.New("smtp down")
	n := NewMailNotifier(Renderer{}, &recordingMailer{err: boom})
	if err := n.PasswordChanged(context.Background(), "a@example.com", ""); !errors.Is(err, boom) {
		t.Fatalf("expected mailer error, got %v", err)
	}
}

func TestSMTPMailer_BuildsMessage(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	m := NewSMTPMailer(SMTPConfig{Host: "smtp.example.com", Port: 587, Username: "u", Password: "p", From: "noreply@example.com"})
	m.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	err := m.Send(context.Background(), Message{To: "a@example.com", Subject: "Hi", HTML: "<p>x</p>"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotAddr != "smtp.example.com:587" || gotFrom != "noreply@example.com" || len(gotTo) != 1 || gotTo[0] != "a@example.com" {
		t.Errorf("unexpected envelope: %s %s %v", gotAddr, gotFrom, gotTo)
	}
	body := string(gotMsg)
	if !strings.Contains(body, "Content-Type: text/html") || !strings.HasSuffix(body, "<p>x</p>") {
		t.Errorf("unexpected message: %s", body)
	}
}
