package model

// ScheduleKind represents how a task recurs
type ScheduleKind string

const (
	ScheduleOnce      ScheduleKind = "once"
	ScheduleImmediate ScheduleKind = "immediate"
	ScheduleBlock     ScheduleKind = "block"
	ScheduleCron      ScheduleKind = "cron"
)

// Schedule is a tagged variant: Blocks is only meaningful for ScheduleBlock,
// Cron only for ScheduleCron.
type Schedule struct {
	Kind   ScheduleKind `json:"kind"`
	Blocks uint64       `json:"blocks,omitempty"`
	Cron   string       `json:"cron,omitempty"`
}

// RunOnce returns a one-shot schedule
func RunOnce() Schedule { return Schedule{Kind: ScheduleOnce} }

// RunImmediately returns a schedule due on the next block
func RunImmediately() Schedule { return Schedule{Kind: ScheduleImmediate} }

// EveryNBlocks returns a block-interval schedule
func EveryNBlocks(n uint64) Schedule { return Schedule{Kind: ScheduleBlock, Blocks: n} }

// CronExpression returns a cron schedule
func CronExpression(expr string) Schedule { return Schedule{Kind: ScheduleCron, Cron: expr} }

// BoundaryKind tells whether a boundary value is a height or a timestamp
type BoundaryKind string

const (
	BoundaryHeight BoundaryKind = "height"
	BoundaryTime   BoundaryKind = "time"
)

// BoundarySpec is a single limit. Time values are unix nanoseconds.
type BoundarySpec struct {
	Kind  BoundaryKind `json:"kind"`
	Value uint64       `json:"value"`
}

// HeightBoundary builds a height limit
func HeightBoundary(h uint64) *BoundarySpec {
	return &BoundarySpec{Kind: BoundaryHeight, Value: h}
}

// TimeBoundary builds a time limit
func TimeBoundary(nanos uint64) *BoundarySpec {
	return &BoundarySpec{Kind: BoundaryTime, Value: nanos}
}

// Boundary constrains when a schedule is active
type Boundary struct {
	Start *BoundarySpec `json:"start,omitempty"`
	End   *BoundarySpec `json:"end,omitempty"`
}

// SlotKind identifies which slot index a task lives in
type SlotKind string

const (
	SlotHeight SlotKind = "height"
	SlotTime   SlotKind = "time"
)

// Env is the execution context: current block height and block time
// in unix nanoseconds.
type Env struct {
	Height uint64 `json:"height"`
	Time   uint64 `json:"time"`
}
