// Package notifier drives the end-of-day guardian absence notifications.
// The engine is a pure run(date) entry point; whatever schedules it (a
// cron, the schedule loop, an admin endpoint) lives outside.
package notifier

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"chamada/internal/roster"
)

// Mailer is the outbound channel. Validate must fail before the first send
// when credentials are missing; a half-notified recipient set is worse
// than none.
type Mailer interface {
	Validate() error
	Send(ctx context.Context, to, subject, body string) error
}

// Store is the slice of the roster the notifier reads.
type Store interface {
	AbsentStudents(ctx context.Context, date time.Time, turno string) ([]roster.Absentee, error)
}

// Options tune one run.
type Options struct {
	// DryRun logs intended sends without any network I/O.
	DryRun bool
	// Turno restricts the run to one shift when non-empty.
	Turno string
}

// Service sends one message per absent student.
type Service struct {
	store    Store
	mailer   Mailer
	template string
	delay    time.Duration
	sleep    func(time.Duration)
}

// NewService creates a notifier. delay is applied between successive live
// sends to respect outbound rate limits; template is the message body with
// ${aluno_nome}, ${data} and ${turno} placeholders.
func NewService(store Store, mailer Mailer, template string, delay time.Duration) *Service {
	if template == "" {
		template = DefaultTemplate
	}
	return &Service{
		store:    store,
		mailer:   mailer,
		template: template,
		delay:    delay,
		sleep:    time.Sleep,
	}
}

// Run notifies the guardians of every student absent on date and returns
// how many messages went out. In dry-run mode it returns how many would
// have gone out. A send failure for one recipient is logged and does not
// abort the batch; only missing mail credentials fail the whole run.
func (s *Service) Run(ctx context.Context, date time.Time, opts Options) (int, error) {
	if !opts.DryRun {
		if err := s.mailer.Validate(); err != nil {
			return 0, err
		}
	}

	absentees, err := s.store.AbsentStudents(ctx, date, opts.Turno)
	if err != nil {
		return 0, fmt.Errorf("absent query failed: %w", err)
	}
	if len(absentees) == 0 {
		log.Printf("notifier: no absentees on %s", date.Format("2006-01-02"))
		return 0, nil
	}

	sent := 0
	for _, ab := range absentees {
		if !strings.Contains(ab.GuardianEmail, "@") {
			log.Printf("notifier: %s: invalid guardian email (%q), skipped", ab.Name, ab.GuardianEmail)
			continue
		}

		if opts.DryRun {
			log.Printf("notifier: [dry-run] would send to %s (%s) -> %s", ab.Name, ab.Turno, ab.GuardianEmail)
			sent++
			continue
		}

		subject := fmt.Sprintf("Aviso de ausência - %s (%s)", ab.Name, ab.Turno)
		body := Render(s.template, ab.Name, date, ab.Turno)
		if err := s.mailer.Send(ctx, ab.GuardianEmail, subject, body); err != nil {
			log.Printf("notifier: %s (%s): send failed: %v", ab.Name, ab.GuardianEmail, err)
			continue
		}
		sent++
		log.Printf("notifier: sent -> %s (%s) -> %s", ab.Name, ab.Turno, ab.GuardianEmail)
		if s.delay > 0 {
			s.sleep(s.delay)
		}
	}
	return sent, nil
}
