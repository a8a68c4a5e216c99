package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chamada/internal/config"
	"chamada/internal/mailer"
	"chamada/internal/notifier"
	"chamada/internal/roster"
	"chamada/internal/schedule"
	"chamada/internal/store"
)

// The notifier either runs once for a date (default) or, with
// EMAIL_SCHEDULE=true, stays up and fires every day at the configured
// hour/minute in the configured timezone.
func main() {
	cfg := config.Load()

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Printf("invalid TIMEZONE %q (%v), using local time", cfg.Timezone, err)
		loc = time.Local
	}

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	repo := roster.NewRepository(db.Client)
	outbound := mailer.NewSMTP(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPFrom)
	notify := notifier.NewService(repo, outbound, notifier.LoadTemplate(cfg.TemplatePath), cfg.SendDelay)
	opts := notifier.Options{DryRun: cfg.DryRun, Turno: cfg.TurnoFilter}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	if cfg.ScheduleEnabled {
		log.Printf("scheduled daily run at %02d:%02d (%s)", cfg.ScheduleHour, cfg.ScheduleMinute, cfg.Timezone)
		schedule.Daily(ctx, cfg.ScheduleHour, cfg.ScheduleMinute, loc, func(date time.Time) {
			sent, err := notify.Run(ctx, date, opts)
			if err != nil {
				log.Printf("run for %s failed: %v", date.Format("2006-01-02"), err)
				return
			}
			log.Printf("run for %s: %d notification(s) sent", date.Format("2006-01-02"), sent)
		})
		return
	}

	date := runDate(cfg.RunDate, loc)
	sent, err := notify.Run(ctx, date, opts)
	if err != nil {
		log.Fatalf("run for %s failed: %v", date.Format("2006-01-02"), err)
	}
	if opts.DryRun {
		log.Printf("dry-run for %s: %d notification(s) would be sent", date.Format("2006-01-02"), sent)
		return
	}
	log.Printf("run for %s: %d notification(s) sent", date.Format("2006-01-02"), sent)
}

// runDate parses EMAIL_RUN_DATE (YYYY-MM-DD) or falls back to today in
// the school's timezone.
func runDate(override string, loc *time.Location) time.Time {
	if override != "" {
		d, err := time.Parse("2006-01-02", override)
		if err == nil {
			return d
		}
		log.Printf("invalid EMAIL_RUN_DATE %q (use YYYY-MM-DD), using today", override)
	}
	y, m, d := time.Now().In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
