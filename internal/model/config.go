package model

// Config is the scheduler-wide aggregate persisted next to the tasks
type Config struct {
	OwnerID          string `json:"owner_id"`
	Paused           bool   `json:"paused"`
	NativeDenom      string `json:"native_denom"`
	AvailableBalance Coins  `json:"available_balance"`
	MinTasksPerAgent uint64 `json:"min_tasks_per_agent"`
	// AgentNominationBeginTime is owned by the agent subsystem; the scheduler
	// only sets it when it is nil.
	AgentNominationBeginTime *uint64 `json:"agent_nomination_begin_time,omitempty"`
	// SlotGranularity is the width of a time slot in nanoseconds
	SlotGranularity uint64 `json:"slot_granularity"`
}

// Stats summarizes scheduler load
type Stats struct {
	TaskTotal        uint64 `json:"task_total"`
	ActiveTasks      uint64 `json:"active_tasks"`
	HeightSlots      int    `json:"height_slots"`
	TimeSlots        int    `json:"time_slots"`
	AvailableBalance Coins  `json:"available_balance"`
}
