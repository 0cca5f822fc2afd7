// internal/router/recovery/recovery.go
package recovery

import (
	"time"

	"github.com/google/uuid"

	stderrors "nlq-router/internal/common/errors"
	"nlq-router/internal/common/logger"
	"nlq-router/internal/common/metrics"
	"nlq-router/internal/models"
)

// Action names what the recovery manager decided to do about a stage failure.
type Action string

const (
	// ActionKeywordOnly routes with keyword matching when intent
	// classification is unavailable.
	ActionKeywordOnly Action = "keyword_only"
	// ActionIntentOnly skips similarity stages when embedding is unavailable.
	ActionIntentOnly Action = "intent_only"
	// ActionRetrySimplified retries a failed query once with a simplified
	// spec.
	ActionRetrySimplified Action = "retry_simplified"
	// ActionFail gives up; the error is fatal or already retried.
	ActionFail Action = "fail"
)

// Auditor receives recovery events off the request path.
type Auditor interface {
	Record(event models.AuditEvent)
}

// Manager decides how the pipeline degrades when a stage fails. Every
// decision is logged, counted, and audited so silent degradation is
// impossible.
type Manager struct {
	auditor Auditor
	logger  logger.Logger
}

func New(auditor Auditor, log logger.Logger) *Manager {
	return &Manager{
		auditor: auditor,
		logger: log.WithFields(map[string]interface{}{
			"component": "recovery-manager",
		}),
	}
}

// OnStageFailure maps a stage failure to a degradation action. Fatal errors
// (input and security codes) never recover.
func (m *Manager) OnStageFailure(stage, tenantID string, err error) Action {
	code := stderrors.CodeOf(err)
	if stderrors.IsFatal(code) {
		return ActionFail
	}

	var action Action
	switch stage {
	case "intent":
		action = ActionKeywordOnly
	case "embedding", "similarity":
		action = ActionIntentOnly
	case "execute":
		if stderrors.GetRetryCount(code) > 0 {
			action = ActionRetrySimplified
		} else {
			action = ActionFail
		}
	default:
		action = ActionFail
	}

	m.record(stage, tenantID, err, action)
	return action
}

// SimplifySpec strips the expensive parts of a spec for the single retry
// after a query execution failure: split_by and non-entity filters drop, and
// the row limit halves (floor 10).
func (m *Manager) SimplifySpec(spec models.Spec) models.Spec {
	out := spec.Clone()
	out.SplitBy = ""
	if out.Filters != nil {
		kept := make(map[string]string, len(out.Filters))
		for k, v := range out.Filters {
			switch k {
			case "brand", "category", "region", "time":
				kept[k] = v
			}
		}
		out.Filters = kept
	}
	if out.RowLimit > 20 {
		out.RowLimit /= 2
	} else if out.RowLimit > 10 {
		// Never raise the limit: a role ceiling under 10 must survive the
		// retry's validation pass.
		out.RowLimit = 10
	}
	return out
}

func (m *Manager) record(stage, tenantID string, err error, action Action) {
	code := string(stderrors.CodeOf(err))
	metrics.RecoveryActions.WithLabelValues(code, string(action)).Inc()
	m.logger.Warn("stage failure recovered", map[string]interface{}{
		"stage":     stage,
		"tenant_id": tenantID,
		"error":     err.Error(),
		"action":    string(action),
	})
	if m.auditor != nil {
		m.auditor.Record(models.AuditEvent{
			ID:         uuid.New().String(),
			TenantID:   tenantID,
			Action:     "recovered",
			ErrorKind:  code,
			Detail:     string(action) + ": " + err.Error(),
			OccurredAt: time.Now().UTC(),
		})
	}
}
