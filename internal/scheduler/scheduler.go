// Package scheduler maintains the process-wide registry mapping schedule
// descriptor ids to live cron triggers. The registry is rebuilt from
// storage at startup; it is never the source of truth.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"sql-workbench/internal/models"
	"sql-workbench/internal/telemetry"
)

// Store is the slice of persistence the scheduler replays at startup.
type Store interface {
	ListRunnableSchedules(ctx context.Context) ([]models.ScheduleDescriptor, error)
}

// FireFunc submits one schedule run. Implementations must not block the
// scheduler goroutine; submission is fire-and-forget.
type FireFunc func(models.ScheduleDescriptor)

// Scheduler wraps a cron runner with a per-descriptor entry registry.
// Register and Deregister serialize on an internal lock; fires happen on
// cron's own goroutine.
type Scheduler struct {
	store Store
	fire  FireFunc

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[int64]cron.EntryID
}

func New(store Store, fire FireFunc) *Scheduler {
	return &Scheduler{
		store:   store,
		fire:    fire,
		cron:    cron.New(),
		entries: make(map[int64]cron.EntryID),
	}
}

// Start replays every approved+active descriptor from storage into the
// registry and begins firing triggers.
func (s *Scheduler) Start(ctx context.Context) error {
	descriptors, err := s.store.ListRunnableSchedules(ctx)
	if err != nil {
		return fmt.Errorf("load schedules: %w", err)
	}
	for _, d := range descriptors {
		if err := s.Register(d); err != nil {
			log.Printf("scheduler: skip schedule %d: %v", d.ID, err)
		}
	}
	s.cron.Start()
	log.Printf("scheduler: started with %d registrations", len(descriptors))
	return nil
}

// Stop halts the cron runner and waits for in-progress fires to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Register installs a trigger for the descriptor, replacing any prior
// registration for the same id. One-shot descriptors fire at their NextRun
// and never again; recurring ones fire at fixed intervals anchored there.
func (s *Scheduler) Register(d models.ScheduleDescriptor) error {
	schedule, err := triggerFor(d)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prior, ok := s.entries[d.ID]; ok {
		s.cron.Remove(prior)
	}
	s.entries[d.ID] = s.cron.Schedule(schedule, cron.FuncJob(func() {
		telemetry.ScheduleFires.Inc()
		s.fire(d)
	}))
	return nil
}

// Deregister removes the descriptor's trigger. Unknown ids are tolerated
// silently so delete paths need not care whether a trigger was live.
func (s *Scheduler) Deregister(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.entries[id]; ok {
		s.cron.Remove(entry)
		delete(s.entries, id)
	}
}

// RunNow fires the descriptor immediately on its own goroutine without
// touching the registered trigger.
func (s *Scheduler) RunNow(d models.ScheduleDescriptor) {
	go s.fire(d)
}

// Registered reports whether a live trigger exists for the id.
func (s *Scheduler) Registered(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	return ok
}

func triggerFor(d models.ScheduleDescriptor) (cron.Schedule, error) {
	if d.Frequency == models.FreqOnce {
		return onceSchedule{at: d.NextRun}, nil
	}
	every, ok := models.FrequencyInterval(d.Frequency)
	if !ok {
		return nil, fmt.Errorf("unknown frequency %q", d.Frequency)
	}
	return intervalSchedule{anchor: d.NextRun, every: every}, nil
}

// intervalSchedule fires at anchor, anchor+every, anchor+2*every, ...
type intervalSchedule struct {
	anchor time.Time
	every  time.Duration
}

func (s intervalSchedule) Next(t time.Time) time.Time {
	if t.Before(s.anchor) {
		return s.anchor
	}
	elapsed := t.Sub(s.anchor)
	steps := elapsed/s.every + 1
	return s.anchor.Add(steps * s.every)
}

// onceSchedule fires exactly once at its absolute time. Returning the zero
// time afterwards tells cron the entry never runs again.
type onceSchedule struct {
	at time.Time
}

func (s onceSchedule) Next(t time.Time) time.Time {
	if t.Before(s.at) {
		return s.at
	}
	return time.Time{}
}
