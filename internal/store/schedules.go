package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/camerarecorder/mediamtx-camera-service-go/internal/apierrors"
)

// CreateSchedule inserts a recording schedule, validating spec.md §3's
// invariant: "if continuous_recording=false then at least one event
// flag is true".
func (s *Store) CreateSchedule(ctx context.Context, sc *RecordingSchedule) error {
	if err := validateSchedule(sc); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recording_schedules
			(schedule_id, camera_id, stream_id, days_of_week, start_time, end_time, enabled,
			 retention_days, record_on_motion, record_on_audio, record_on_analytics, record_on_external, continuous_recording)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		sc.ScheduleID, sc.CameraID, sc.StreamID, pq.Array(sc.DaysOfWeek), sc.StartTime, sc.EndTime, sc.Enabled,
		sc.RetentionDays, sc.RecordOnMotion, sc.RecordOnAudio, sc.RecordOnAnalytics, sc.RecordOnExternal, sc.ContinuousRecording)
	if err != nil {
		return apierrors.Wrap(apierrors.KindStoreUnavailable, "CreateSchedule", "failed to insert schedule", err)
	}
	return nil
}

func validateSchedule(sc *RecordingSchedule) error {
	if !sc.ContinuousRecording && !sc.RecordOnMotion && !sc.RecordOnAudio && !sc.RecordOnAnalytics && !sc.RecordOnExternal {
		return apierrors.New(apierrors.KindValidationError, "CreateSchedule",
			"schedule must be continuous or set at least one event-trigger flag")
	}
	return nil
}

// UpdateSchedule replaces a schedule's mutable fields.
func (s *Store) UpdateSchedule(ctx context.Context, sc *RecordingSchedule) error {
	if err := validateSchedule(sc); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE recording_schedules SET
			days_of_week=$2, start_time=$3, end_time=$4, enabled=$5, retention_days=$6,
			record_on_motion=$7, record_on_audio=$8, record_on_analytics=$9, record_on_external=$10, continuous_recording=$11
		WHERE schedule_id=$1`,
		sc.ScheduleID, pq.Array(sc.DaysOfWeek), sc.StartTime, sc.EndTime, sc.Enabled, sc.RetentionDays,
		sc.RecordOnMotion, sc.RecordOnAudio, sc.RecordOnAnalytics, sc.RecordOnExternal, sc.ContinuousRecording)
	if err != nil {
		return apierrors.Wrap(apierrors.KindStoreUnavailable, "UpdateSchedule", "failed to update schedule", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierrors.New(apierrors.KindNotFound, "UpdateSchedule", fmt.Sprintf("schedule %s not found", sc.ScheduleID))
	}
	return nil
}

// DeleteSchedule removes a schedule by ID.
func (s *Store) DeleteSchedule(ctx context.Context, scheduleID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM recording_schedules WHERE schedule_id = $1`, scheduleID)
	if err != nil {
		return apierrors.Wrap(apierrors.KindStoreUnavailable, "DeleteSchedule", "failed to delete schedule", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierrors.New(apierrors.KindNotFound, "DeleteSchedule", fmt.Sprintf("schedule %s not found", scheduleID))
	}
	return nil
}

// SetScheduleEnabled implements the "toggle schedule" control-plane op (§6).
func (s *Store) SetScheduleEnabled(ctx context.Context, scheduleID string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE recording_schedules SET enabled = $2 WHERE schedule_id = $1`, scheduleID, enabled)
	if err != nil {
		return apierrors.Wrap(apierrors.KindStoreUnavailable, "SetScheduleEnabled", "failed to toggle schedule", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierrors.New(apierrors.KindNotFound, "SetScheduleEnabled", fmt.Sprintf("schedule %s not found", scheduleID))
	}
	return nil
}

// GetSchedule fetches a single schedule by ID, used to resolve its
// retention_days override (spec.md §4.2 retention resolution order:
// "schedule retention if attached, else camera default, else global
// default").
func (s *Store) GetSchedule(ctx context.Context, scheduleID string) (*RecordingSchedule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT schedule_id, camera_id, stream_id, days_of_week, start_time, end_time, enabled,
			   retention_days, record_on_motion, record_on_audio, record_on_analytics, record_on_external,
			   continuous_recording, created_at
		FROM recording_schedules WHERE schedule_id = $1`, scheduleID)

	sc := &RecordingSchedule{}
	var days pq.Int64Array
	var startT, endT sql.NullString
	var retention sql.NullInt32
	if err := row.Scan(&sc.ScheduleID, &sc.CameraID, &sc.StreamID, &days, &startT, &endT, &sc.Enabled,
		&retention, &sc.RecordOnMotion, &sc.RecordOnAudio, &sc.RecordOnAnalytics, &sc.RecordOnExternal,
		&sc.ContinuousRecording, &sc.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, apierrors.New(apierrors.KindNotFound, "GetSchedule", fmt.Sprintf("schedule %s not found", scheduleID))
		}
		return nil, apierrors.Wrap(apierrors.KindStoreUnavailable, "GetSchedule", "failed to query schedule", err)
	}
	sc.StartTime = startT.String
	sc.EndTime = endT.String
	if retention.Valid {
		v := int(retention.Int32)
		sc.RetentionDays = &v
	}
	for _, d := range days {
		sc.DaysOfWeek = append(sc.DaysOfWeek, int(d))
	}
	return sc, nil
}

// UpdateRecordingEventType changes the event_type of an active parent
// recording, implementing spec.md §4.5's tie-break carry: "the event
// flag is carried as the event_type on the active recording for its
// duration and reverts to continuous otherwise."
func (s *Store) UpdateRecordingEventType(ctx context.Context, recordingID string, eventType EventType) error {
	res, err := s.db.ExecContext(ctx, `UPDATE recordings SET event_type = $2 WHERE recording_id = $1`, recordingID, eventType)
	if err != nil {
		return apierrors.Wrap(apierrors.KindStoreUnavailable, "UpdateRecordingEventType", "failed to update event type", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierrors.New(apierrors.KindNotFound, "UpdateRecordingEventType", fmt.Sprintf("recording %s not found", recordingID))
	}
	return nil
}

// EnabledSchedules returns every schedule with enabled = true, the
// input to the Schedule Evaluator's tick (§4.5 step 1).
func (s *Store) EnabledSchedules(ctx context.Context) ([]*RecordingSchedule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT schedule_id, camera_id, stream_id, days_of_week, start_time, end_time, enabled,
			   retention_days, record_on_motion, record_on_audio, record_on_analytics, record_on_external,
			   continuous_recording, created_at
		FROM recording_schedules WHERE enabled = true`)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindStoreUnavailable, "EnabledSchedules", "failed to query schedules", err)
	}
	defer rows.Close()

	var out []*RecordingSchedule
	for rows.Next() {
		sc := &RecordingSchedule{}
		var days pq.Int64Array
		var startT, endT sql.NullString
		if err := rows.Scan(&sc.ScheduleID, &sc.CameraID, &sc.StreamID, &days, &startT, &endT, &sc.Enabled,
			&sc.RetentionDays, &sc.RecordOnMotion, &sc.RecordOnAudio, &sc.RecordOnAnalytics, &sc.RecordOnExternal,
			&sc.ContinuousRecording, &sc.CreatedAt); err != nil {
			return nil, apierrors.Wrap(apierrors.KindStoreUnavailable, "EnabledSchedules", "failed to scan schedule", err)
		}
		sc.StartTime = startT.String
		sc.EndTime = endT.String
		for _, d := range days {
			sc.DaysOfWeek = append(sc.DaysOfWeek, int(d))
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}
