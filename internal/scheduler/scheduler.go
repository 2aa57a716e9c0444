// Package scheduler publishes custom events on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// CustomPublisher publishes a custom event
type CustomPublisher interface {
	Custom(ctx context.Context, name, message string) error
}

// Scheduler manages cron entries that publish custom events
type Scheduler struct {
	cron      *cron.Cron
	parser    cron.Parser
	publisher CustomPublisher
	entries   map[string]cron.EntryID // event name -> cron entry
	mu        sync.Mutex
	paused    atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates a scheduler. Both 5-field expressions and 6-field
// expressions with leading seconds are accepted, as are descriptors such as
// "@hourly" and "@every 30s".
func New(publisher CustomPublisher) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	parser := cron.NewParser(
		cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)

	return &Scheduler{
		cron:      cron.New(cron.WithParser(parser)),
		parser:    parser,
		publisher: publisher,
		entries:   make(map[string]cron.EntryID),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Schedule adds or replaces the schedule for a named custom event
func (s *Scheduler) Schedule(name, spec, payload string) error {
	if name == "" {
		return fmt.Errorf("custom event name is required")
	}
	schedule, err := s.parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("invalid schedule %q for custom event %s: %w", spec, name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[name]; ok {
		s.cron.Remove(existing)
	}
	s.entries[name] = s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.fire(name, payload)
	}))

	log.Info().Str("event", name).Str("schedule", spec).Msg("Custom event scheduled")
	return nil
}

// Unschedule removes a named custom event
func (s *Scheduler) Unschedule(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.entries[name]; ok {
		s.cron.Remove(id)
		delete(s.entries, name)
		log.Info().Str("event", name).Msg("Custom event unscheduled")
	}
}

// Names lists the scheduled custom events
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start runs the cron loop in the background
func (s *Scheduler) Start() {
	s.cron.Start()
	log.Info().Int("scheduled_events", len(s.Names())).Msg("Custom event scheduler started")
}

// Stop halts scheduling and waits for running jobs until ctx is done
func (s *Scheduler) Stop(ctx context.Context) {
	s.cancel()

	done := s.cron.Stop()
	select {
	case <-done.Done():
		log.Info().Msg("Custom event scheduler stopped")
	case <-ctx.Done():
		log.Warn().Msg("Custom event scheduler shutdown timeout")
	}
}

// Pause keeps the cron loop running but skips every firing until Resume.
// Replicas that are not the elected leader stay paused.
func (s *Scheduler) Pause() {
	if !s.paused.Swap(true) {
		log.Info().Msg("Custom event scheduler paused")
	}
}

// Resume undoes Pause
func (s *Scheduler) Resume() {
	if s.paused.Swap(false) {
		log.Info().Msg("Custom event scheduler resumed")
	}
}

func (s *Scheduler) fire(name, payload string) {
	if s.ctx.Err() != nil || s.paused.Load() {
		return
	}
	if err := s.publisher.Custom(s.ctx, name, payload); err != nil {
		log.Error().Err(err).Str("event", name).Msg("Scheduled custom event failed")
		return
	}
	log.Debug().Str("event", name).Msg("Scheduled custom event published")
}
