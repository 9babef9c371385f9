package runtime

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule yields the next run time after a given time.
type Schedule interface {
	Next(time.Time) time.Time
}

// ParseSchedule parses a schedule string.
// Supports:
//   - Descriptors: "@every 5m", "@hourly"
//   - Cron expressions: "0 */15 * * * *" (6-field) or "*/15 * * * *" (5-field)
//   - Go duration strings: "15m", "2h", "1h30m"
func ParseSchedule(schedule string) (Schedule, error) {
	if schedule == "" {
		return nil, fmt.Errorf("schedule string is empty")
	}

	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(schedule); err == nil {
		return sched, nil
	}

	duration, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("failed to parse schedule as cron expression or duration: %w", err)
	}
	if duration <= 0 {
		return nil, fmt.Errorf("schedule duration must be positive, got %s", duration)
	}

	return cron.Every(duration), nil
}
