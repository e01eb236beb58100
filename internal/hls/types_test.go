package hls

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlaybackID_CameraTimeline(t *testing.T) {
	id := PlaybackID("camera-cam-1")
	assert.True(t, id.IsCameraTimeline())
	assert.Equal(t, "cam-1", id.CameraID())
}

func TestPlaybackID_SingleRecording(t *testing.T) {
	id := PlaybackID("rec-123")
	assert.False(t, id.IsCameraTimeline())
}
