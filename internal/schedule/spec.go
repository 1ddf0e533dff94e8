package schedule

import "time"

// hourly is the default cadence for schedules without a cron expression.
var hourly = MustParse("0 * * * *")

// Spec is a job's schedule configuration.
type Spec struct {
	Enabled        bool
	CronExpression string
}

// Validate parses the expression when one is present.
func (s Spec) Validate() error {
	if s.CronExpression == "" {
		return nil
	}
	_, err := Parse(s.CronExpression)
	return err
}

// Next computes the first run strictly after t. Disabled schedules return
// FarFuture; a missing expression ticks hourly.
func (s Spec) Next(t time.Time) (time.Time, error) {
	if !s.Enabled {
		return FarFuture, nil
	}
	if s.CronExpression == "" {
		return hourly.Next(t), nil
	}
	expr, err := Parse(s.CronExpression)
	if err != nil {
		return FarFuture, err
	}
	return expr.Next(t), nil
}
