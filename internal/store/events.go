package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/camerarecorder/mediamtx-camera-service-go/internal/apierrors"
)

// CreateEvent inserts an event row.
func (s *Store) CreateEvent(ctx context.Context, e *Event) error {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return apierrors.Wrap(apierrors.KindValidationError, "CreateEvent", "failed to encode event metadata", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (event_id, camera_id, event_type, severity, start_time, end_time, confidence, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.EventID, e.CameraID, e.EventType, e.Severity, e.StartTime, e.EndTime, e.Confidence, meta)
	if err != nil {
		return apierrors.Wrap(apierrors.KindStoreUnavailable, "CreateEvent", "failed to insert event", err)
	}
	return nil
}

// CloseEvent sets end_time on an in-progress event, used when a
// motion/audio/analytics event that triggered a recording resolves
// (spec.md §4.5 "stops event_post_roll after the matching event's end_time").
func (s *Store) CloseEvent(ctx context.Context, eventID string, endTime interface{}) error {
	res, err := s.db.ExecContext(ctx, `UPDATE events SET end_time = $2 WHERE event_id = $1`, eventID, endTime)
	if err != nil {
		return apierrors.Wrap(apierrors.KindStoreUnavailable, "CloseEvent", "failed to close event", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierrors.New(apierrors.KindNotFound, "CloseEvent", fmt.Sprintf("event %s not found", eventID))
	}
	return nil
}

// UnresolvedEventsForCamera returns events for cameraID with the given
// type that have not yet closed (end_time IS NULL) — the Schedule
// Evaluator's "unresolved matching event" predicate (§4.5 step 3).
func (s *Store) UnresolvedEventsForCamera(ctx context.Context, cameraID, eventType string) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, camera_id, event_type, severity, start_time, end_time, confidence, metadata, created_at
		FROM events WHERE camera_id = $1 AND event_type = $2 AND end_time IS NULL
		ORDER BY start_time`, cameraID, eventType)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindStoreUnavailable, "UnresolvedEventsForCamera", "failed to query events", err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		e := &Event{}
		var meta []byte
		var end sql.NullTime
		if err := rows.Scan(&e.EventID, &e.CameraID, &e.EventType, &e.Severity, &e.StartTime, &end, &e.Confidence, &meta, &e.CreatedAt); err != nil {
			return nil, apierrors.Wrap(apierrors.KindStoreUnavailable, "UnresolvedEventsForCamera", "failed to scan event", err)
		}
		if end.Valid {
			e.EndTime = &end.Time
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &e.Metadata)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
