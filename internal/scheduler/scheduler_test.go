package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sql-workbench/internal/models"
)

type fakeStore struct {
	descriptors []models.ScheduleDescriptor
}

func (f *fakeStore) ListRunnableSchedules(context.Context) ([]models.ScheduleDescriptor, error) {
	return f.descriptors, nil
}

type fireRecorder struct {
	mu    sync.Mutex
	fired []int64
}

func (r *fireRecorder) fire(d models.ScheduleDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fired = append(r.fired, d.ID)
}

func (r *fireRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fired)
}

func daily(id int64, next time.Time) models.ScheduleDescriptor {
	return models.ScheduleDescriptor{
		ID: id, Owner: "alice", Frequency: models.FreqDaily,
		NextRun: next, IsActive: true, IsApproved: true,
	}
}

func TestIntervalScheduleAnchoredAtNextRun(t *testing.T) {
	anchor := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := intervalSchedule{anchor: anchor, every: 24 * time.Hour}

	// Before the anchor, the first fire is the anchor itself.
	assert.Equal(t, anchor, s.Next(anchor.Add(-time.Hour)))

	// At or after the anchor, fires land on anchor + n*interval.
	assert.Equal(t, anchor.Add(24*time.Hour), s.Next(anchor))
	assert.Equal(t, anchor.Add(24*time.Hour), s.Next(anchor.Add(time.Minute)))
	assert.Equal(t, anchor.Add(48*time.Hour), s.Next(anchor.Add(25*time.Hour)))
}

func TestOnceScheduleNeverRepeats(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := onceSchedule{at: at}

	assert.Equal(t, at, s.Next(at.Add(-time.Second)))
	assert.True(t, s.Next(at).IsZero())
	assert.True(t, s.Next(at.Add(time.Hour)).IsZero())
}

func TestRegisterReplacesPriorTrigger(t *testing.T) {
	rec := &fireRecorder{}
	s := New(&fakeStore{}, rec.fire)

	d := daily(1, time.Now().Add(time.Hour))
	require.NoError(t, s.Register(d))
	require.NoError(t, s.Register(daily(1, time.Now().Add(2*time.Hour))))

	s.mu.Lock()
	entryCount := len(s.entries)
	s.mu.Unlock()
	assert.Equal(t, 1, entryCount, "re-registration must replace, not duplicate")
	assert.True(t, s.Registered(1))
}

func TestRegisterRejectsUnknownFrequency(t *testing.T) {
	s := New(&fakeStore{}, (&fireRecorder{}).fire)
	d := models.ScheduleDescriptor{ID: 1, Frequency: "fortnightly", NextRun: time.Now()}
	assert.Error(t, s.Register(d))
}

func TestDeregisterToleratesUnknownID(t *testing.T) {
	s := New(&fakeStore{}, (&fireRecorder{}).fire)
	s.Deregister(42)

	require.NoError(t, s.Register(daily(1, time.Now().Add(time.Hour))))
	s.Deregister(1)
	assert.False(t, s.Registered(1))
	s.Deregister(1)
}

func TestStartReplaysRunnableDescriptors(t *testing.T) {
	store := &fakeStore{descriptors: []models.ScheduleDescriptor{
		daily(1, time.Now().Add(time.Hour)),
		daily(2, time.Now().Add(time.Hour)),
	}}
	rec := &fireRecorder{}
	s := New(store, rec.fire)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.True(t, s.Registered(1))
	assert.True(t, s.Registered(2))
}

func TestRunNowFiresWithoutTrigger(t *testing.T) {
	rec := &fireRecorder{}
	s := New(&fakeStore{}, rec.fire)

	s.RunNow(daily(7, time.Now().Add(time.Hour)))

	deadline := time.After(time.Second)
	for rec.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("RunNow never fired")
		case <-time.After(5 * time.Millisecond):
		}
	}
	assert.False(t, s.Registered(7))
}

func TestOneShotFires(t *testing.T) {
	rec := &fireRecorder{}
	s := New(&fakeStore{}, rec.fire)

	d := models.ScheduleDescriptor{
		ID: 3, Owner: "alice", Frequency: models.FreqOnce,
		NextRun: time.Now().Add(50 * time.Millisecond), IsActive: true, IsApproved: true,
	}
	require.NoError(t, s.Register(d))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	deadline := time.After(3 * time.Second)
	for rec.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("one-shot trigger never fired")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
