// internal/audit/sink_test.go
package audit

import (
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nlq-router/internal/common/logger"
	"nlq-router/internal/models"
)

func sampleEvent(id string) models.AuditEvent {
	return models.AuditEvent{
		ID:         id,
		TenantID:   "tenant-1",
		Action:     "rejected",
		ErrorKind:  "DANGEROUS_CONSTRUCT",
		Relation:   "scout_agg.sales_by_brand",
		Descriptor: "sum(sales) by brand",
		Detail:     "dimension contains disallowed fragment",
		OccurredAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSink_WritesEventToDatabase(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	event := sampleEvent("evt-1")
	mock.ExpectExec("INSERT INTO nlq_audit_events").
		WithArgs(event.ID, event.TenantID, event.Action, event.ErrorKind,
			event.Relation, event.Descriptor, event.Detail, event.OccurredAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	sink := NewSink(db, 4, logger.NewTestLogger(t))
	sink.Record(event)
	sink.Close()

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSink_FlushesBufferOnClose(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	for i := 0; i < 3; i++ {
		mock.ExpectExec("INSERT INTO nlq_audit_events").
			WillReturnResult(sqlmock.NewResult(0, 1))
	}

	sink := NewSink(db, 8, logger.NewTestLogger(t))
	sink.Record(sampleEvent("evt-1"))
	sink.Record(sampleEvent("evt-2"))
	sink.Record(sampleEvent("evt-3"))
	sink.Close()

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSink_InsertFailureDoesNotPanic(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO nlq_audit_events").
		WillReturnError(errors.New("relation does not exist"))

	sink := NewSink(db, 4, logger.NewTestLogger(t))
	sink.Record(sampleEvent("evt-1"))
	sink.Close() // flushes; the failed insert is logged, not fatal
}

func TestSink_CloseIsIdempotent(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sink := NewSink(db, 4, logger.NewTestLogger(t))
	sink.Close()
	sink.Close()
}
