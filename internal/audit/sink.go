// internal/audit/sink.go
package audit

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"nlq-router/internal/common/logger"
	"nlq-router/internal/models"
)

const insertEvent = `INSERT INTO nlq_audit_events
(id, tenant_id, action, error_kind, relation, descriptor, detail, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

// Sink persists audit events asynchronously. Record never blocks the request
// path: events go into a buffered channel and a single writer goroutine
// drains it. When the buffer is full or the insert fails, the event is
// logged instead of dropped silently.
type Sink struct {
	db     *sql.DB
	events chan models.AuditEvent
	logger logger.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func NewSink(db *sql.DB, bufferSize int, log logger.Logger) *Sink {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	s := &Sink{
		db:     db,
		events: make(chan models.AuditEvent, bufferSize),
		logger: log.WithFields(map[string]interface{}{
			"component": "audit-sink",
		}),
		done: make(chan struct{}),
	}
	go s.drain()
	return s
}

// Record enqueues an event. Non-blocking: on a full buffer the event falls
// back to the log.
func (s *Sink) Record(event models.AuditEvent) {
	select {
	case s.events <- event:
	default:
		s.logOnly(event, "audit buffer full")
	}
}

func (s *Sink) drain() {
	defer close(s.done)
	for event := range s.events {
		s.write(event)
	}
}

func (s *Sink) write(event models.AuditEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, insertEvent,
		event.ID, event.TenantID, event.Action, event.ErrorKind,
		event.Relation, event.Descriptor, event.Detail, event.OccurredAt)
	if err != nil {
		s.logOnly(event, "audit insert failed: "+err.Error())
	}
}

func (s *Sink) logOnly(event models.AuditEvent, reason string) {
	s.logger.Warn(reason, map[string]interface{}{
		"event_id":   event.ID,
		"tenant_id":  event.TenantID,
		"action":     event.Action,
		"error_kind": event.ErrorKind,
		"relation":   event.Relation,
		"detail":     event.Detail,
	})
}

// Close stops accepting events and waits for the writer to flush the buffer.
func (s *Sink) Close() {
	s.closeOnce.Do(func() {
		close(s.events)
		<-s.done
	})
}
