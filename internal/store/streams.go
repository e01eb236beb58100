package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/camerarecorder/mediamtx-camera-service-go/internal/apierrors"
)

// CreateStream inserts a stream row. The unique partial index
// streams_one_primary_per_camera enforces spec.md §3's "at most one
// primary per camera" invariant; a conflicting insert surfaces as a
// Conflict error.
func (s *Store) CreateStream(ctx context.Context, st *Stream) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO streams (stream_id, camera_id, url, codec, is_primary, resolution, bitrate_kbps)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		st.StreamID, st.CameraID, st.URL, st.Codec, st.IsPrimary, st.Resolution, st.BitrateKbps)
	if err != nil {
		if isUniqueViolation(err) {
			return apierrors.New(apierrors.KindConflict, "CreateStream", "camera already has a primary stream")
		}
		return apierrors.Wrap(apierrors.KindStoreUnavailable, "CreateStream", "failed to insert stream", err)
	}
	return nil
}

// GetStream fetches a stream by ID.
func (s *Store) GetStream(ctx context.Context, streamID string) (*Stream, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT stream_id, camera_id, url, codec, is_primary, resolution, bitrate_kbps, created_at
		FROM streams WHERE stream_id = $1`, streamID)

	var st Stream
	if err := row.Scan(&st.StreamID, &st.CameraID, &st.URL, &st.Codec, &st.IsPrimary, &st.Resolution, &st.BitrateKbps, &st.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, apierrors.New(apierrors.KindNotFound, "GetStream", fmt.Sprintf("stream %s not found", streamID))
		}
		return nil, apierrors.Wrap(apierrors.KindStoreUnavailable, "GetStream", "failed to query stream", err)
	}
	return &st, nil
}

// PrimaryStream returns the primary stream for a camera, if any.
func (s *Store) PrimaryStream(ctx context.Context, cameraID string) (*Stream, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT stream_id, camera_id, url, codec, is_primary, resolution, bitrate_kbps, created_at
		FROM streams WHERE camera_id = $1 AND is_primary = true`, cameraID)

	var st Stream
	if err := row.Scan(&st.StreamID, &st.CameraID, &st.URL, &st.Codec, &st.IsPrimary, &st.Resolution, &st.BitrateKbps, &st.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, apierrors.New(apierrors.KindNotFound, "PrimaryStream", fmt.Sprintf("camera %s has no primary stream", cameraID))
		}
		return nil, apierrors.Wrap(apierrors.KindStoreUnavailable, "PrimaryStream", "failed to query primary stream", err)
	}
	return &st, nil
}

// isUniqueViolation reports whether err is a Postgres unique_violation
// (SQLSTATE 23505), lib/pq's error type for constraint conflicts.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
