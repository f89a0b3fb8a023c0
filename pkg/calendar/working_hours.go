package calendar

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jhjames1/leap-grit-forge-sub004/pkg/types"
)

// WorkingHours is the built-in availability computation: a specialist is
// online during their weekday working window and offline otherwise. Real
// calendar backends replace it behind the same interface.
type WorkingHours struct {
	loc         *time.Location
	startMinute int
	endMinute   int
}

func NewWorkingHours(start, end, timezone string) (*WorkingHours, error) {
	loc := time.Local
	if timezone != "" {
		var err error
		if loc, err = time.LoadLocation(timezone); err != nil {
			return nil, fmt.Errorf("invalid timezone %q, %w", timezone, err)
		}
	}

	startMinute, err := parseClock(start)
	if err != nil {
		return nil, err
	}
	endMinute, err := parseClock(end)
	if err != nil {
		return nil, err
	}
	if endMinute <= startMinute {
		return nil, fmt.Errorf("working hours end %q before start %q", end, start)
	}

	return &WorkingHours{
		loc:         loc,
		startMinute: startMinute,
		endMinute:   endMinute,
	}, nil
}

func parseClock(v string) (int, error) {
	parts := strings.SplitN(v, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock value %q, expected HH:MM", v)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid clock value %q, expected HH:MM", v)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid clock value %q, expected HH:MM", v)
	}
	return hour*60 + minute, nil
}

func (w *WorkingHours) Availability(ctx context.Context, specialistID string) (types.CalendarAvailability, error) {
	return w.availabilityAt(time.Now()), nil
}

func (w *WorkingHours) availabilityAt(now time.Time) types.CalendarAvailability {
	local := now.In(w.loc)

	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return types.CalendarAvailability{
			Status: types.PRESENCE_STATUS_OFFLINE,
			Reason: "outside working days",
		}
	}

	minute := local.Hour()*60 + local.Minute()
	if minute < w.startMinute || minute >= w.endMinute {
		return types.CalendarAvailability{
			Status: types.PRESENCE_STATUS_OFFLINE,
			Reason: "outside working hours",
		}
	}

	return types.CalendarAvailability{
		Status: types.PRESENCE_STATUS_ONLINE,
		Reason: "within working hours",
	}
}
