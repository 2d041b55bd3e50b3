package scheduler

import "time"

// IntervalSchedule fires at a fixed period, measured from the previous
// firing rather than wall-clock alignment.
type IntervalSchedule struct {
	interval time.Duration
}

// NewIntervalSchedule returns a schedule firing every interval.
func NewIntervalSchedule(interval time.Duration) *IntervalSchedule {
	return &IntervalSchedule{interval: interval}
}

// Next returns t plus one interval.
func (s *IntervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.interval)
}

// String renders the schedule in cron's @every notation.
func (s *IntervalSchedule) String() string {
	return "@every " + s.interval.String()
}
