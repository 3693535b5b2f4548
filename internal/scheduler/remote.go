package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/redis/go-redis/v9"

	"sql-workbench/internal/models"
	"sql-workbench/internal/store"
)

// The API process and the worker-hosted scheduler live in different
// binaries. Descriptor changes cross that gap over a Redis channel: the
// API publishes an id, the worker re-reads the row and reconciles its
// registry against what storage now says.
const eventChannel = "workbench:schedule-events"

const (
	actionSync = "sync"
	actionRun  = "run"
)

type scheduleEvent struct {
	ScheduleID int64  `json:"schedule_id"`
	Action     string `json:"action"`
}

// RemoteRegistry satisfies the approval service's registry surface from a
// process without a live cron runner.
type RemoteRegistry struct {
	client *redis.Client
}

func NewRemoteRegistry(client *redis.Client) *RemoteRegistry {
	return &RemoteRegistry{client: client}
}

func (r *RemoteRegistry) publish(id int64, action string) error {
	payload, err := json.Marshal(scheduleEvent{ScheduleID: id, Action: action})
	if err != nil {
		return err
	}
	return r.client.Publish(context.Background(), eventChannel, payload).Err()
}

// Register asks the scheduler host to reconcile the descriptor.
func (r *RemoteRegistry) Register(d models.ScheduleDescriptor) error {
	return r.publish(d.ID, actionSync)
}

// Deregister asks the scheduler host to reconcile the descriptor. Dropped
// events are tolerated; the host converges on the next replay.
func (r *RemoteRegistry) Deregister(id int64) {
	if err := r.publish(id, actionSync); err != nil {
		log.Printf("scheduler: publish deregister for %d: %v", id, err)
	}
}

// RunNow asks the scheduler host to fire the descriptor immediately.
func (r *RemoteRegistry) RunNow(id int64) error {
	return r.publish(id, actionRun)
}

// DescriptorStore is the read surface Listen reconciles against.
type DescriptorStore interface {
	GetSchedule(ctx context.Context, id int64) (models.ScheduleDescriptor, error)
}

// Listen consumes schedule events and reconciles the local registry.
// Storage is authoritative: a sync re-reads the row and registers or
// deregisters accordingly. Blocks until the context is cancelled.
func Listen(ctx context.Context, client *redis.Client, s *Scheduler, st DescriptorStore) error {
	sub := client.Subscribe(ctx, eventChannel)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-sub.Channel():
			if !ok {
				return nil
			}
			var ev scheduleEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Printf("scheduler: bad event %q: %v", msg.Payload, err)
				continue
			}
			handleEvent(ctx, s, st, ev)
		}
	}
}

func handleEvent(ctx context.Context, s *Scheduler, st DescriptorStore, ev scheduleEvent) {
	d, err := st.GetSchedule(ctx, ev.ScheduleID)
	if errors.Is(err, store.ErrNotFound) {
		s.Deregister(ev.ScheduleID)
		return
	}
	if err != nil {
		log.Printf("scheduler: read schedule %d: %v", ev.ScheduleID, err)
		return
	}

	switch ev.Action {
	case actionRun:
		if d.Runnable() {
			s.RunNow(d)
		}
	case actionSync:
		if !d.Runnable() {
			s.Deregister(d.ID)
			return
		}
		if err := s.Register(d); err != nil {
			log.Printf("scheduler: register schedule %d: %v", d.ID, err)
		}
	}
}
