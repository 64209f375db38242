package job

import "time"

// Window is one month of a sync job, as inclusive calendar dates
type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// MonthWindow returns the i-th month after periodStart. The window ending after
// now is clipped to today.
func MonthWindow(periodStart time.Time, i int, now time.Time) Window {
	from := monthStart(periodStart).AddDate(0, i, 0)
	to := from.AddDate(0, 1, -1)
	if today := dayStart(now.UTC()); to.After(today) {
		to = today
	}
	return Window{From: from, To: to}
}

// MonthWindows returns the total windows of a job in processing order, oldest first
func MonthWindows(periodStart time.Time, total int, now time.Time) []Window {
	windows := make([]Window, 0, total)
	for i := 0; i < total; i++ {
		windows = append(windows, MonthWindow(periodStart, i, now))
	}
	return windows
}
