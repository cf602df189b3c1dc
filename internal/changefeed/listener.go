// Package changefeed turns appointment-table mutations into queue
// recalculation jobs without polling. The callback only enqueues work;
// it never mutates state directly, preserving the single-writer
// discipline of the per-key serialized recalculation.
package changefeed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/healthdesk/clinic-api/internal/jobqueue"
	"github.com/healthdesk/clinic-api/internal/model"
	"github.com/healthdesk/clinic-api/pkg/logger"
)

// Channel is the Postgres NOTIFY channel fired by the appointments
// table trigger on insert, update and delete.
const Channel = "appointment_events"

// Event is the trigger's notification payload.
type Event struct {
	DoctorID   uuid.UUID        `json:"doctor_id"`
	ServiceDay model.ServiceDay `json:"service_day"`
	Operation  string           `json:"op,omitempty"`
}

type Listener struct {
	listener *pq.Listener
	queue    *jobqueue.Queue
	logger   *logger.Logger
	// Optional doctor filter; empty means all doctors.
	doctorIDs map[uuid.UUID]bool
}

type Option func(*Listener)

// WithDoctorFilter restricts the feed to the given doctors.
func WithDoctorFilter(ids ...uuid.UUID) Option {
	return func(l *Listener) {
		l.doctorIDs = make(map[uuid.UUID]bool, len(ids))
		for _, id := range ids {
			l.doctorIDs[id] = true
		}
	}
}

func NewListener(dsn string, queue *jobqueue.Queue, logger *logger.Logger, opts ...Option) *Listener {
	pl := pq.NewListener(dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Error(err, "change feed listener event", "event", int(ev))
		}
	})

	l := &Listener{
		listener: pl,
		queue:    queue,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start subscribes to the channel and blocks until ctx is cancelled.
func (l *Listener) Start(ctx context.Context) error {
	if err := l.listener.Listen(Channel); err != nil {
		return err
	}
	defer l.listener.Close()

	l.logger.Info("change feed listener started", "channel", Channel)

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("change feed listener stopped")
			return nil
		case n := <-l.listener.Notify:
			if n == nil {
				// Reconnect; pq delivers nil after connection loss.
				continue
			}
			l.handle(ctx, []byte(n.Extra))
		case <-time.After(90 * time.Second):
			if err := l.listener.Ping(); err != nil {
				l.logger.Error(err, "change feed ping failed")
			}
		}
	}
}

func (l *Listener) handle(ctx context.Context, payload []byte) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		l.logger.Error(err, "malformed change feed payload")
		return
	}
	if event.DoctorID == uuid.Nil || event.ServiceDay == "" {
		l.logger.Warn("change feed payload missing doctor or day")
		return
	}
	if l.doctorIDs != nil && !l.doctorIDs[event.DoctorID] {
		return
	}

	if _, err := l.queue.EnqueueRecalculation(ctx, event.DoctorID, event.ServiceDay); err != nil {
		l.logger.Error(err, "failed to enqueue recalculation from change feed",
			"doctor_id", event.DoctorID.String(),
			"service_day", event.ServiceDay.String())
	}
}
