package store

import (
	"context"
	"fmt"
)

// RecordEvent upserts the event ledger row. isNew is true on first insert;
// redeliveries bump delivery_count and last_seen_at. The payload is stored
// as the exact received bytes and never overwritten.
func (s *Store) RecordEvent(ctx context.Context, eventID, eventType string, payload []byte) (bool, error) {
	var isNew bool
	err := s.db.GetContext(ctx, &isNew, `
		INSERT INTO processor_events (event_id, event_type, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id) DO UPDATE
		SET last_seen_at = NOW(), delivery_count = processor_events.delivery_count + 1
		RETURNING (xmax = 0)`,
		eventID, eventType, payload)
	if err != nil {
		return false, fmt.Errorf("failed to record event %s: %w", eventID, err)
	}
	return isNew, nil
}

