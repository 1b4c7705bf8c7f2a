// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package update

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"
)

// schedulePattern validates "HH:MM" in 24-hour time.
var schedulePattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// Scheduler triggers a full reindex once per day at a fixed local
// time.
//
// # Description
//
// The loop wakes every minute and compares the wall clock against the
// configured HH:MM. Firing is tracked per calendar day, so a reindex
// that takes longer than a minute does not re-trigger, and a process
// started after the scheduled time waits for the next day.
//
// # Thread Safety
//
// Safe for concurrent use.
type Scheduler struct {
	at      string
	trigger func(context.Context) error
	logger  *slog.Logger

	done     chan struct{}
	stopOnce sync.Once

	mu        sync.Mutex
	running   bool
	lastFired string // "2006-01-02" of the last trigger day

	// now and interval are injectable for tests.
	now      func() time.Time
	interval time.Duration
}

// NewScheduler creates a daily scheduler. at is "HH:MM" 24-hour local
// time; trigger is invoked once per day at that time.
func NewScheduler(at string, trigger func(context.Context) error, logger *slog.Logger) (*Scheduler, error) {
	if !schedulePattern.MatchString(at) {
		return nil, fmt.Errorf("invalid schedule %q, want HH:MM", at)
	}
	if trigger == nil {
		return nil, fmt.Errorf("trigger is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		at:       at,
		trigger:  trigger,
		logger:   logger.With(slog.String("component", "scheduler")),
		done:     make(chan struct{}),
		now:      time.Now,
		interval: time.Minute,
	}, nil
}

// Start launches the polling loop. It runs until Stop is called or
// ctx is canceled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("scheduler started", slog.String("daily_at", s.at))
	go s.loop(ctx)
	return nil
}

// Stop halts the polling loop.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	})
}

// IsRunning reports whether the loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// loop polls the clock once per interval.
func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick fires the trigger when the wall clock matches the schedule and
// it has not fired today.
func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()
	if now.Format("15:04") != s.at {
		return
	}

	today := now.Format("2006-01-02")
	s.mu.Lock()
	if s.lastFired == today {
		s.mu.Unlock()
		return
	}
	s.lastFired = today
	s.mu.Unlock()

	s.logger.Info("scheduled reindex triggered", slog.String("at", s.at))
	if err := s.trigger(ctx); err != nil {
		s.logger.Error("scheduled reindex failed", slog.String("error", err.Error()))
	}
}
