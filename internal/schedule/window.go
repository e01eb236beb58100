package schedule

import (
	"strconv"
	"strings"
	"time"

	"github.com/camerarecorder/mediamtx-camera-service-go/internal/store"
)

// activeNow implements spec §4.5 step 2 and §8's boundary rule:
// "today ∈ days_of_week ∧ local_time ∈ [start, end)", with
// "start_time > end_time interpreted as two intervals [start, 24:00)
// and [00:00, end)" for schedules that straddle midnight.
func activeNow(sc *store.RecordingSchedule, now time.Time) bool {
	startMin, ok := parseHHMM(sc.StartTime)
	if !ok {
		return false
	}
	endMin, ok := parseHHMM(sc.EndTime)
	if !ok {
		return false
	}

	nowMin := now.Hour()*60 + now.Minute()
	today := int(now.Weekday())

	if startMin <= endMin {
		return dayEnabled(sc.DaysOfWeek, today) && nowMin >= startMin && nowMin < endMin
	}

	// Midnight-straddling schedule: [start, 24:00) belongs to "today"
	// as named in days_of_week; [00:00, end) belongs to the day after.
	if dayEnabled(sc.DaysOfWeek, today) && nowMin >= startMin {
		return true
	}
	yesterday := int(now.Add(-24 * time.Hour).Weekday())
	if dayEnabled(sc.DaysOfWeek, yesterday) && nowMin < endMin {
		return true
	}
	return false
}

func dayEnabled(days []int, day int) bool {
	for _, d := range days {
		if d == day {
			return true
		}
	}
	return false
}

// parseHHMM parses a "HH:MM" (optionally "HH:MM:SS") string into
// minutes since midnight.
func parseHHMM(s string) (int, bool) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) < 2 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, false
	}
	return h*60 + m, true
}
