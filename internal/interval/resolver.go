// Package interval maps a task schedule and the current execution context
// to the slot the task becomes eligible in.
package interval

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/t77yq/croncat/internal/model"
)

// DefaultSlotGranularity is the width of a time slot: one minute in nanoseconds
const DefaultSlotGranularity uint64 = 60_000_000_000

// ErrInvalidSchedule is returned for schedules that cannot be resolved
var ErrInvalidSchedule = errors.New("invalid schedule")

var cronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Slot is a resolved placement. An ID of zero means the schedule has ended
// and must not be placed anywhere.
type Slot struct {
	ID   uint64
	Kind model.SlotKind
}

// Terminal reports whether the schedule has no further slot
func (s Slot) Terminal() bool {
	return s.ID == 0
}

// Validate reports whether the schedule is well formed
func Validate(schedule model.Schedule) bool {
	return validate(schedule) == nil
}

func validate(schedule model.Schedule) error {
	switch schedule.Kind {
	case model.ScheduleOnce, model.ScheduleImmediate:
		return nil
	case model.ScheduleBlock:
		if schedule.Blocks == 0 {
			return fmt.Errorf("%w: block interval must be positive", ErrInvalidSchedule)
		}
		return nil
	case model.ScheduleCron:
		if _, err := cronParser.Parse(schedule.Cron); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidSchedule, schedule.Kind)
	}
}

// Resolve computes the next slot for schedule. It performs no I/O and is safe
// to call inside a write transaction.
func Resolve(schedule model.Schedule, boundary model.Boundary, env model.Env, granularity uint64) (Slot, error) {
	if err := validate(schedule); err != nil {
		return Slot{}, err
	}
	if granularity == 0 {
		granularity = DefaultSlotGranularity
	}

	switch schedule.Kind {
	case model.ScheduleOnce, model.ScheduleImmediate:
		return limitHeight(env.Height+1, boundary, env), nil
	case model.ScheduleBlock:
		return limitHeight(env.Height+schedule.Blocks, boundary, env), nil
	default:
		return nextCron(schedule.Cron, boundary, env, granularity), nil
	}
}

func limitHeight(next uint64, boundary model.Boundary, env model.Env) Slot {
	if s := boundary.Start; s != nil && s.Kind == model.BoundaryHeight && s.Value > next {
		next = s.Value
	}
	if ended(next, model.BoundaryHeight, boundary, env) {
		return Slot{Kind: model.SlotHeight}
	}
	return Slot{ID: next, Kind: model.SlotHeight}
}

func nextCron(expr string, boundary model.Boundary, env model.Env, granularity uint64) Slot {
	// validated by the caller
	sched, _ := cronParser.Parse(expr)

	// Next is strictly after from; a fire on the start boundary itself counts
	from := env.Time
	if s := boundary.Start; s != nil && s.Kind == model.BoundaryTime && s.Value > from {
		from = s.Value - 1
	}
	fire := sched.Next(time.Unix(0, int64(from)).UTC())
	if fire.IsZero() {
		return Slot{Kind: model.SlotTime}
	}

	next := uint64(fire.UnixNano())
	if ended(next, model.BoundaryTime, boundary, env) {
		return Slot{Kind: model.SlotTime}
	}
	bucket := next - next%granularity
	if bucket == 0 {
		return Slot{Kind: model.SlotTime}
	}
	return Slot{ID: bucket, Kind: model.SlotTime}
}

// ended checks boundary.End. An end of the slot's own kind is compared with
// the resolved value, an end of the other kind with the current context.
func ended(next uint64, kind model.BoundaryKind, boundary model.Boundary, env model.Env) bool {
	end := boundary.End
	if end == nil {
		return false
	}
	if end.Kind == kind {
		return next > end.Value
	}
	switch end.Kind {
	case model.BoundaryHeight:
		return env.Height > end.Value
	case model.BoundaryTime:
		return env.Time > end.Value
	}
	return false
}
