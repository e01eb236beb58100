package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/camerarecorder/mediamtx-camera-service-go/internal/apierrors"
)

// CreateCamera inserts a camera row.
func (s *Store) CreateCamera(ctx context.Context, c *Camera) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cameras (camera_id, name, address, username, password, has_ptz, has_audio, has_analytics)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.CameraID, c.Name, c.Address, c.Username, c.Password, c.HasPTZ, c.HasAudio, c.HasAnalytics)
	if err != nil {
		return apierrors.Wrap(apierrors.KindStoreUnavailable, "CreateCamera", "failed to insert camera", err)
	}
	return nil
}

// GetCamera fetches a camera by ID, returning a NotFound apierrors.Error
// if it does not exist — the "camera destroyed cascades to streams,
// recordings, schedules" lifecycle (§3) is enforced by the schema's
// ON DELETE CASCADE, not by this method.
func (s *Store) GetCamera(ctx context.Context, cameraID string) (*Camera, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT camera_id, name, address, username, password, has_ptz, has_audio, has_analytics, created_at
		FROM cameras WHERE camera_id = $1`, cameraID)

	var c Camera
	if err := row.Scan(&c.CameraID, &c.Name, &c.Address, &c.Username, &c.Password, &c.HasPTZ, &c.HasAudio, &c.HasAnalytics, &c.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, apierrors.New(apierrors.KindNotFound, "GetCamera", fmt.Sprintf("camera %s not found", cameraID))
		}
		return nil, apierrors.Wrap(apierrors.KindStoreUnavailable, "GetCamera", "failed to query camera", err)
	}
	return &c, nil
}

// DeleteCamera removes a camera; cascades to streams/recordings/schedules/events
// via foreign keys (spec.md §3's camera lifecycle).
func (s *Store) DeleteCamera(ctx context.Context, cameraID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cameras WHERE camera_id = $1`, cameraID)
	if err != nil {
		return apierrors.Wrap(apierrors.KindStoreUnavailable, "DeleteCamera", "failed to delete camera", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierrors.New(apierrors.KindNotFound, "DeleteCamera", fmt.Sprintf("camera %s not found", cameraID))
	}
	return nil
}
