package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/camerarecorder/mediamtx-camera-service-go/internal/store"
)

func sched(days []int, start, end string) *store.RecordingSchedule {
	return &store.RecordingSchedule{DaysOfWeek: days, StartTime: start, EndTime: end}
}

func TestActiveNow_SimpleWindow(t *testing.T) {
	sc := sched([]int{3}, "09:00", "17:00") // Wednesday
	wed := time.Date(2026, 8, 5, 10, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Wednesday, wed.Weekday())
	assert.True(t, activeNow(sc, wed))

	before := time.Date(2026, 8, 5, 8, 59, 0, 0, time.UTC)
	assert.False(t, activeNow(sc, before))

	atEnd := time.Date(2026, 8, 5, 17, 0, 0, 0, time.UTC)
	assert.False(t, activeNow(sc, atEnd), "end is exclusive")
}

func TestActiveNow_WrongDay(t *testing.T) {
	sc := sched([]int{1}, "09:00", "17:00") // Monday only
	wed := time.Date(2026, 8, 5, 10, 0, 0, 0, time.UTC)
	assert.False(t, activeNow(sc, wed))
}

func TestActiveNow_MidnightStraddle(t *testing.T) {
	// 22:00 -> 02:00, enabled on Wednesday (3).
	sc := sched([]int{3}, "22:00", "02:00")

	lateWed := time.Date(2026, 8, 5, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Wednesday, lateWed.Weekday())
	assert.True(t, activeNow(sc, lateWed), "22:00-24:00 segment on the named day")

	earlyThu := time.Date(2026, 8, 6, 1, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Thursday, earlyThu.Weekday())
	assert.True(t, activeNow(sc, earlyThu), "00:00-02:00 segment rolls onto the next calendar day")

	midday := time.Date(2026, 8, 5, 12, 0, 0, 0, time.UTC)
	assert.False(t, activeNow(sc, midday))

	lateThu := time.Date(2026, 8, 6, 23, 0, 0, 0, time.UTC)
	assert.False(t, activeNow(sc, lateThu), "Thursday is not in days_of_week")
}
