package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camerarecorder/mediamtx-camera-service-go/internal/apierrors"
)

func TestAppendSegment_AssignsContiguousSegmentID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := New(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(segment_id\), -1\) \+ 1 FROM recordings`).
		WithArgs("parent-1").
		WillReturnRows(sqlmock.NewRows([]string{"next"}).AddRow(2))
	mock.ExpectExec(`INSERT INTO recordings`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`UPDATE recordings SET file_size`).
		WithArgs("parent-1", int64(1024), int64(5000)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	seg := &Recording{
		RecordingID: "seg-3",
		CameraID:    "cam-1",
		StreamID:    "stream-1",
		StartTime:   time.Now(),
		FilePath:    "/recordings/cam-1/seg3.mp4",
		FileSize:    1024,
		Duration:    5 * time.Second,
		Format:      "mp4",
		EventType:   EventTypeContinuous,
	}

	segmentID, err := s.AppendSegment(context.Background(), "parent-1", seg)
	require.NoError(t, err)
	assert.Equal(t, 2, segmentID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendSegment_RollsBackOnInsertFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := New(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(segment_id\), -1\) \+ 1 FROM recordings`).
		WillReturnRows(sqlmock.NewRows([]string{"next"}).AddRow(0))
	mock.ExpectExec(`INSERT INTO recordings`).WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, err = s.AppendSegment(context.Background(), "parent-1", &Recording{
		RecordingID: "seg-1", CameraID: "cam-1", StreamID: "stream-1", StartTime: time.Now(),
		FilePath: "/x.mp4", Format: "mp4", EventType: EventTypeContinuous,
	})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRecording_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := New(db)

	mock.ExpectQuery(`SELECT .* FROM recordings WHERE recording_id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(nil))

	_, err = s.GetRecording(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, apierrors.KindNotFound, apierrors.Of(err))
}
