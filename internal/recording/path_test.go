package recording

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSegmentPath_LayoutAndZeroPadding(t *testing.T) {
	at := time.Date(2026, 3, 5, 7, 9, 0, 0, time.UTC)
	got := segmentPath("/recordings", "cam-1", at, 3)
	assert.Equal(t, "/recordings/cam-1/2026/03/05/07/cam_cam-1_20260305070900_3.mp4", got)
}

func TestSegmentPath_MonotonicWithinSameSecond(t *testing.T) {
	at := time.Date(2026, 3, 5, 7, 9, 0, 0, time.UTC)
	a := segmentPath("/recordings", "cam-1", at, 0)
	b := segmentPath("/recordings", "cam-1", at, 1)
	assert.NotEqual(t, a, b)
}

func TestPartName_AppendsSuffix(t *testing.T) {
	assert.Equal(t, "/x/y.mp4.part", partName("/x/y.mp4"))
}
