package webhook

import (
	"context"
	"sync"
	"time"
)

// EventLog is the dedup ledger of received processor events, keyed by
// source and event id.
type EventLog interface {
	// Record stores rec unless an entry for the same event exists. It returns
	// the stored entry and whether it was inserted by this call.
	Record(ctx context.Context, rec Record) (Record, bool, error)
	// MarkProcessed sets the processing result of a recorded event.
	MarkProcessed(ctx context.Context, source, eventID string, result Record) error
}

// MemoryEventLog is an in-memory EventLog.
type MemoryEventLog struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryEventLog creates an empty event log.
func NewMemoryEventLog() *MemoryEventLog {
	return &MemoryEventLog{records: make(map[string]Record)}
}

func (l *MemoryEventLog) Record(_ context.Context, rec Record) (Record, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := rec.Source + ":" + rec.EventID
	if existing, ok := l.records[key]; ok {
		return existing, false, nil
	}
	l.records[key] = rec
	return rec, true, nil
}

func (l *MemoryEventLog) MarkProcessed(_ context.Context, source, eventID string, result Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := source + ":" + eventID
	rec, ok := l.records[key]
	if !ok {
		return ErrEventNotFound
	}
	processedAt := time.Now().UTC()
	if result.ProcessedAt != nil {
		processedAt = *result.ProcessedAt
	}
	rec.ProcessedAt = &processedAt
	rec.Outcome = result.Outcome
	rec.SubscriptionID = result.SubscriptionID
	rec.Detail = result.Detail
	l.records[key] = rec
	return nil
}

// Get returns the record of an event.
func (l *MemoryEventLog) Get(source, eventID string) (Record, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[source+":"+eventID]
	return rec, ok
}
