// Package jobs runs background work on River: email delivery and the
// periodic token sweep.
package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/paperlens/backend/internal/notify"
)

type EmailArgs struct {
	Message notify.Message `json:"message"`
}

func (EmailArgs) Kind() string { return "send_email" }

func (EmailArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 5}
}

type EmailWorker struct {
	river.WorkerDefaults[EmailArgs]
	mailer notify.Mailer
}

func NewEmailWorker(mailer notify.Mailer) *EmailWorker {
	return &EmailWorker{mailer: mailer}
}

func (w *EmailWorker) Work(ctx context.Context, job *river.Job[EmailArgs]) error {
	if job.Args.Message.To == "" {
		return river.JobCancel(errors.New("email job has no recipient"))
	}
	if err := w.mailer.Send(ctx, job.Args.Message); err != nil {
		return fmt.Errorf("deliver %q: %w", job.Args.Message.Subject, err)
	}
	return nil
}

// Inserter is the slice of river.Client used to enqueue jobs.
type Inserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// RiverNotifier renders messages up front and hands delivery to EmailWorker.
type RiverNotifier struct {
	renderer notify.Renderer
	inserter Inserter
}

func NewRiverNotifier(renderer notify.Renderer, inserter Inserter) *RiverNotifier {
	return &RiverNotifier{renderer: renderer, inserter: inserter}
}

var _ notify.Notifier = (*RiverNotifier)(nil)

func (n *RiverNotifier) PasswordReset(ctx context.Context, email, name, token string) error {
	msg, err := n.renderer.PasswordReset(email, name, token)
	if err != nil {
		return err
	}
	return n.enqueue(ctx, msg)
}

func (n *RiverNotifier) PasswordChanged(ctx context.Context, email, name string) error {
	msg, err := n.renderer.PasswordChanged(email, name)
	if err != nil {
		return err
	}
	return n.enqueue(ctx, msg)
}

func (n *RiverNotifier) enqueue(ctx context.Context, msg notify.Message) error {
	if _, err := n.inserter.Insert(ctx, EmailArgs{Message: msg}, nil); err != nil {
		return fmt.Errorf("enqueue email: %w", err)
	}
	return nil
}
