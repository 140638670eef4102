package httpapi

import (
	"context"
	"sync"

	settlementsvc "github.com/Aureus-Network/settlement_layer/internal/app/services/settlement"
)

// AuditRing keeps the most recent settlement audit events in memory for the
// audit endpoint. Durable audit storage is the collaborator's concern; this
// is the operator-facing tail.
type AuditRing struct {
	mu      sync.Mutex
	entries []settlementsvc.Event
	max     int
}

var _ settlementsvc.AuditSink = (*AuditRing)(nil)

// NewAuditRing creates a ring keeping at most max events.
func NewAuditRing(max int) *AuditRing {
	if max <= 0 {
		max = 200
	}
	return &AuditRing{max: max}
}

// Record implements settlement.AuditSink.
func (l *AuditRing) Record(_ context.Context, event settlementsvc.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, event)
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
}

func (l *AuditRing) list() []settlementsvc.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]settlementsvc.Event, len(l.entries))
	copy(out, l.entries)
	return out
}
