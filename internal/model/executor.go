package model

import "time"

// ExecutorStatus represents the status of an executor agent
type ExecutorStatus string

const (
	ExecutorStatusHealthy   ExecutorStatus = "healthy"
	ExecutorStatusUnhealthy ExecutorStatus = "unhealthy"
	ExecutorStatusOffline   ExecutorStatus = "offline"
)

// Executor represents an agent that runs due tasks
type Executor struct {
	ID            string         `json:"id"`
	Address       string         `json:"address"`
	Status        ExecutorStatus `json:"status"`
	LastHeartbeat time.Time      `json:"last_heartbeat"`
	TaskCount     int            `json:"task_count"`
}

// Heartbeat is published by an executor to stay in the active set
type Heartbeat struct {
	ExecutorID string    `json:"executor_id"`
	Address    string    `json:"address"`
	TaskCount  int       `json:"task_count"`
	SentAt     time.Time `json:"sent_at"`
}
