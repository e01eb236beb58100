package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/camerarecorder/mediamtx-camera-service-go/internal/apierrors"
)

// CreateParentRecording inserts the open parent row start_recording
// creates before any segment exists (spec.md §4.2: "inserts a parent
// recording row with end_time=NULL and segment_id=NULL").
func (s *Store) CreateParentRecording(ctx context.Context, r *Recording) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recordings (recording_id, camera_id, stream_id, start_time, file_path, format, event_type, schedule_id, retention_days)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		r.RecordingID, r.CameraID, r.StreamID, r.StartTime, r.FilePath, r.Format, r.EventType, r.ScheduleID, r.RetentionDays)
	if err != nil {
		return apierrors.Wrap(apierrors.KindStoreUnavailable, "CreateParentRecording", "failed to insert parent recording", err)
	}
	return nil
}

// AppendSegment performs the single transaction spec.md §4.2 describes
// for each completed segment: insert the sub-segment row with the next
// contiguous segment_id, then add its size/duration to the parent's
// cumulative totals. The segment_id is computed inside the transaction
// from MAX(segment_id)+1, with the parent row locked FOR UPDATE (Postgres
// does not allow FOR UPDATE on the aggregate itself), so invariant
// (ii) — "segment_id strictly
// increases by 1 within a parent_recording_id" — holds under
// concurrent completions of the same parent (which cannot happen in
// practice since one segmenter owns one parent, but the query is
// still race-safe).
func (s *Store) AppendSegment(ctx context.Context, parentRecordingID string, seg *Recording) (int, error) {
	var nextSegmentID int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(segment_id), -1) + 1 FROM recordings WHERE parent_recording_id =
				(SELECT recording_id FROM recordings WHERE recording_id = $1 FOR UPDATE)`,
			parentRecordingID)
		if err := row.Scan(&nextSegmentID); err != nil {
			return fmt.Errorf("compute next segment id: %w", err)
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO recordings
				(recording_id, camera_id, stream_id, start_time, end_time, file_path, file_size,
				 duration_ms, format, event_type, parent_recording_id, segment_id)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
			seg.RecordingID, seg.CameraID, seg.StreamID, seg.StartTime, seg.EndTime, seg.FilePath, seg.FileSize,
			seg.Duration.Milliseconds(), seg.Format, seg.EventType, parentRecordingID, nextSegmentID)
		if err != nil {
			return fmt.Errorf("insert segment: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE recordings SET file_size = file_size + $2, duration_ms = duration_ms + $3
			WHERE recording_id = $1`,
			parentRecordingID, seg.FileSize, seg.Duration.Milliseconds())
		if err != nil {
			return fmt.Errorf("update parent totals: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, apierrors.Wrap(apierrors.KindStoreUnavailable, "AppendSegment", "failed to persist segment", err)
	}
	return nextSegmentID, nil
}

// CloseParentRecording sets end_time on the parent row (stop_recording, §4.2).
func (s *Store) CloseParentRecording(ctx context.Context, recordingID string, endTime time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE recordings SET end_time = $2 WHERE recording_id = $1 AND end_time IS NULL`,
		recordingID, endTime)
	if err != nil {
		return apierrors.Wrap(apierrors.KindStoreUnavailable, "CloseParentRecording", "failed to close recording", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierrors.New(apierrors.KindNotFound, "CloseParentRecording", fmt.Sprintf("active recording %s not found", recordingID))
	}
	return nil
}

// DeleteParentRecording removes a parent row inserted by a start_recording
// call that was then cancelled before any segment existed (spec.md §5:
// "a pending start_recording removes any inserted parent row").
func (s *Store) DeleteParentRecording(ctx context.Context, recordingID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM recordings WHERE recording_id = $1`, recordingID)
	if err != nil {
		return apierrors.Wrap(apierrors.KindStoreUnavailable, "DeleteParentRecording", "failed to delete parent recording", err)
	}
	return nil
}

// GetRecording fetches a single recording row (parent or segment) by ID.
func (s *Store) GetRecording(ctx context.Context, recordingID string) (*Recording, error) {
	row := s.db.QueryRowContext(ctx, recordingSelectColumns+` WHERE recording_id = $1`, recordingID)
	r, err := scanRecording(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierrors.New(apierrors.KindNotFound, "GetRecording", fmt.Sprintf("recording %s not found", recordingID))
		}
		return nil, apierrors.Wrap(apierrors.KindStoreUnavailable, "GetRecording", "failed to query recording", err)
	}
	return r, nil
}

// ActiveRecordings returns parent rows with end_time IS NULL, optionally
// narrowed by camera or stream — the active_recordings snapshot (§4.2).
func (s *Store) ActiveRecordings(ctx context.Context, filter RecordingFilter) ([]*Recording, error) {
	query := recordingSelectColumns + ` WHERE end_time IS NULL AND parent_recording_id IS NULL`
	args := []interface{}{}
	if filter.CameraID != "" {
		args = append(args, filter.CameraID)
		query += fmt.Sprintf(" AND camera_id = $%d", len(args))
	}
	if filter.StreamID != "" {
		args = append(args, filter.StreamID)
		query += fmt.Sprintf(" AND stream_id = $%d", len(args))
	}
	query += " ORDER BY start_time DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindStoreUnavailable, "ActiveRecordings", "failed to query active recordings", err)
	}
	defer rows.Close()
	return scanRecordings(rows)
}

// SegmentsOf returns every sub-segment of a parent recording, ordered
// by segment_id (spec.md §8: "sub-segment segment_ids form a contiguous
// sequence 0..N-1").
func (s *Store) SegmentsOf(ctx context.Context, parentRecordingID string) ([]*Recording, error) {
	rows, err := s.db.QueryContext(ctx, recordingSelectColumns+`
		WHERE parent_recording_id = $1 ORDER BY segment_id ASC`, parentRecordingID)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindStoreUnavailable, "SegmentsOf", "failed to query segments", err)
	}
	defer rows.Close()
	return scanRecordings(rows)
}

// RecordingsForCamera returns every parent recording for a camera
// ordered by start_time — the HLS Packager's camera-timeline query (§4.4).
func (s *Store) RecordingsForCamera(ctx context.Context, cameraID string) ([]*Recording, error) {
	rows, err := s.db.QueryContext(ctx, recordingSelectColumns+`
		WHERE camera_id = $1 AND parent_recording_id IS NULL ORDER BY start_time ASC`, cameraID)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindStoreUnavailable, "RecordingsForCamera", "failed to query camera recordings", err)
	}
	defer rows.Close()
	return scanRecordings(rows)
}

// Search implements the search_recordings control-plane operation (§6).
func (s *Store) Search(ctx context.Context, filter RecordingFilter) ([]*Recording, error) {
	query := recordingSelectColumns + ` WHERE parent_recording_id IS NULL`
	args := []interface{}{}
	if filter.CameraID != "" {
		args = append(args, filter.CameraID)
		query += fmt.Sprintf(" AND camera_id = $%d", len(args))
	}
	if filter.StreamID != "" {
		args = append(args, filter.StreamID)
		query += fmt.Sprintf(" AND stream_id = $%d", len(args))
	}
	if filter.EventType != "" {
		args = append(args, filter.EventType)
		query += fmt.Sprintf(" AND event_type = $%d", len(args))
	}
	if filter.Start != nil {
		args = append(args, *filter.Start)
		query += fmt.Sprintf(" AND start_time >= $%d", len(args))
	}
	if filter.End != nil {
		args = append(args, *filter.End)
		query += fmt.Sprintf(" AND start_time < $%d", len(args))
	}
	query += " ORDER BY start_time DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindStoreUnavailable, "Search", "failed to search recordings", err)
	}
	defer rows.Close()
	return scanRecordings(rows)
}

// AgedOut returns non-tombstoned parent recordings whose start_time
// precedes its own retention_days cutoff, oldest first — the age-based
// cleanup predicate (§4.2 predicate 1), resolved per recording rather
// than against one global cutoff, since retention_days is a
// schedule-or-global value fixed at start_recording time.
func (s *Store) AgedOut(ctx context.Context, now time.Time) ([]*Recording, error) {
	rows, err := s.db.QueryContext(ctx, recordingSelectColumns+`
		WHERE parent_recording_id IS NULL AND tombstoned = false
			AND start_time < $1 - (retention_days || ' days')::interval
		ORDER BY start_time ASC`, now)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindStoreUnavailable, "AgedOut", "failed to query recordings", err)
	}
	defer rows.Close()
	return scanRecordings(rows)
}

// AllOldestFirst returns every non-tombstoned parent recording ordered
// by start_time ascending, for disk-pressure cleanup's "iterate
// oldest-first" rule (§4.2).
func (s *Store) AllOldestFirst(ctx context.Context) ([]*Recording, error) {
	rows, err := s.db.QueryContext(ctx, recordingSelectColumns+`
		WHERE parent_recording_id IS NULL AND tombstoned = false
		ORDER BY start_time ASC`)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindStoreUnavailable, "AllOldestFirst", "failed to query recordings", err)
	}
	defer rows.Close()
	return scanRecordings(rows)
}

// DeleteRecording removes a recording row and its segments (cascade via
// parent_recording_id FK) after its file has already been deleted from
// disk (spec.md §4.2: "The file is deleted first").
func (s *Store) DeleteRecording(ctx context.Context, recordingID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM recordings WHERE recording_id = $1 OR parent_recording_id = $1`, recordingID)
	if err != nil {
		return apierrors.Wrap(apierrors.KindStoreUnavailable, "DeleteRecording", "failed to delete recording", err)
	}
	return nil
}

// Tombstone marks a recording as tombstoned when its file was deleted
// but the row delete itself failed (§4.2: "the row is marked
// tombstoned and retried").
func (s *Store) Tombstone(ctx context.Context, recordingID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE recordings SET tombstoned = true WHERE recording_id = $1`, recordingID)
	if err != nil {
		return apierrors.Wrap(apierrors.KindStoreUnavailable, "Tombstone", "failed to tombstone recording", err)
	}
	return nil
}

// TombstonedRecordings returns rows still awaiting a retried row
// delete.
func (s *Store) TombstonedRecordings(ctx context.Context) ([]*Recording, error) {
	rows, err := s.db.QueryContext(ctx, recordingSelectColumns+` WHERE tombstoned = true`)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindStoreUnavailable, "TombstonedRecordings", "failed to query tombstoned recordings", err)
	}
	defer rows.Close()
	return scanRecordings(rows)
}

// FindByFilePath reports whether any row (parent or segment) already
// references filePath; the orphan reconciler deletes only files for
// which it reports false.
func (s *Store) FindByFilePath(ctx context.Context, filePath string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM recordings WHERE file_path = $1)`, filePath).Scan(&exists)
	if err != nil {
		return false, apierrors.Wrap(apierrors.KindStoreUnavailable, "FindByFilePath", "failed to check file path", err)
	}
	return exists, nil
}

const recordingSelectColumns = `
	SELECT recording_id, camera_id, stream_id, start_time, end_time, file_path, file_size, duration_ms,
		   format, resolution, event_type, schedule_id, parent_recording_id, segment_id, retention_days, tombstoned, created_at
	FROM recordings`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecording(row rowScanner) (*Recording, error) {
	r := &Recording{}
	var end sql.NullTime
	var durationMs int64
	var resolution, scheduleID, parentID sql.NullString
	var segmentID sql.NullInt32
	if err := row.Scan(&r.RecordingID, &r.CameraID, &r.StreamID, &r.StartTime, &end, &r.FilePath, &r.FileSize,
		&durationMs, &r.Format, &resolution, &r.EventType, &scheduleID, &parentID, &segmentID, &r.RetentionDays, &r.Tombstoned, &r.CreatedAt); err != nil {
		return nil, err
	}
	if end.Valid {
		r.EndTime = &end.Time
	}
	r.Duration = time.Duration(durationMs) * time.Millisecond
	r.Resolution = resolution.String
	if scheduleID.Valid {
		r.ScheduleID = &scheduleID.String
	}
	if parentID.Valid {
		r.ParentRecordingID = &parentID.String
	}
	if segmentID.Valid {
		v := int(segmentID.Int32)
		r.SegmentID = &v
	}
	return r, nil
}

func scanRecordings(rows *sql.Rows) ([]*Recording, error) {
	var out []*Recording
	for rows.Next() {
		r, err := scanRecording(rows)
		if err != nil {
			return nil, apierrors.Wrap(apierrors.KindStoreUnavailable, "scanRecordings", "failed to scan recording row", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
