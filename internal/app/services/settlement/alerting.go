package settlement

import (
	"context"
	"time"

	"github.com/Aureus-Network/settlement_layer/pkg/logger"
)

// Event is a structured notification or audit record emitted by the
// orchestrator. Severity is "info", "warning", "critical" or "fatal".
type Event struct {
	Time     time.Time `json:"time"`
	RunID    string    `json:"run_id"`
	Kind     string    `json:"kind"`
	Severity string    `json:"severity"`
	Message  string    `json:"message"`
}

// NotificationSink receives operator-facing alerts. Delivery mechanics are
// owned by an external collaborator.
type NotificationSink interface {
	NotifyAdmins(ctx context.Context, event Event)
}

// AuditSink receives every run state transition for the audit trail.
type AuditSink interface {
	Record(ctx context.Context, event Event)
}

// LogNotifier is the default NotificationSink, writing alerts to the log.
type LogNotifier struct {
	log *logger.Logger
}

// NewLogNotifier creates a log-backed notification sink.
func NewLogNotifier(log *logger.Logger) *LogNotifier {
	if log == nil {
		log = logger.NewDefault("settlement-notify")
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) NotifyAdmins(_ context.Context, event Event) {
	entry := n.log.WithField("run_id", event.RunID).
		WithField("kind", event.Kind).
		WithField("severity", event.Severity)
	switch event.Severity {
	case "critical", "fatal":
		entry.Error(event.Message)
	case "warning":
		entry.Warn(event.Message)
	default:
		entry.Info(event.Message)
	}
}

// LogAudit is the default AuditSink, writing audit records to the log.
type LogAudit struct {
	log *logger.Logger
}

// NewLogAudit creates a log-backed audit sink.
func NewLogAudit(log *logger.Logger) *LogAudit {
	if log == nil {
		log = logger.NewDefault("settlement-audit")
	}
	return &LogAudit{log: log}
}

func (a *LogAudit) Record(_ context.Context, event Event) {
	a.log.WithField("run_id", event.RunID).
		WithField("kind", event.Kind).
		Info(event.Message)
}
