// Package service exposes the scheduler over NATS: a request/reply API,
// refund publishing to JetStream and executor heartbeats.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/croncat/internal/model"
	"github.com/t77yq/croncat/internal/scheduler"
)

// Request subjects served by the API
const (
	SubjectCreateTask       = "croncat.task.create"
	SubjectRemoveTask       = "croncat.task.remove"
	SubjectRefillTask       = "croncat.task.refill"
	SubjectGetTask          = "croncat.task.get"
	SubjectListTasks        = "croncat.task.list"
	SubjectListByOwner      = "croncat.task.list_by_owner"
	SubjectHashOf           = "croncat.task.hash"
	SubjectValidateSchedule = "croncat.task.validate_schedule"
	SubjectNextDue          = "croncat.slot.next"
	SubjectSlotIDs          = "croncat.slot.ids"
	SubjectBalances         = "croncat.balances"
	SubjectConfig           = "croncat.config"
)

const (
	queueGroup     = "croncat-api"
	requestTimeout = 10 * time.Second
)

// Error codes carried in replies
const (
	CodeValidation   = "validation"
	CodeConflict     = "conflict"
	CodeNotFound     = "not_found"
	CodeUnauthorized = "unauthorized"
	CodeInternal     = "internal"
)

// CreateTaskRequest is the payload of SubjectCreateTask
type CreateTaskRequest struct {
	Sender string            `json:"sender"`
	Funds  model.Coins       `json:"funds"`
	Task   model.TaskRequest `json:"task"`
}

// RefillTaskRequest is the payload of SubjectRefillTask
type RefillTaskRequest struct {
	Sender   string      `json:"sender"`
	Funds    model.Coins `json:"funds"`
	TaskHash string      `json:"task_hash"`
}

// TaskHashRequest is the payload of SubjectRemoveTask and SubjectGetTask
type TaskHashRequest struct {
	TaskHash string `json:"task_hash"`
}

// ListTasksRequest is the payload of SubjectListTasks
type ListTasksRequest struct {
	FromIndex *uint64 `json:"from_index,omitempty"`
	Limit     *uint64 `json:"limit,omitempty"`
}

// OwnerRequest is the payload of SubjectListByOwner
type OwnerRequest struct {
	Owner string `json:"owner"`
}

// HashOfRequest is the payload of SubjectHashOf
type HashOfRequest struct {
	Task model.Task `json:"task"`
}

// ValidateScheduleRequest is the payload of SubjectValidateSchedule
type ValidateScheduleRequest struct {
	Schedule model.Schedule `json:"schedule"`
}

// NextDueRequest is the payload of SubjectNextDue
type NextDueRequest struct {
	SlotID *uint64 `json:"slot_id,omitempty"`
}

// CreateTaskResponse is returned by SubjectCreateTask
type CreateTaskResponse struct {
	TaskHash string `json:"task_hash"`
}

// RefillTaskResponse is returned by SubjectRefillTask
type RefillTaskResponse struct {
	TaskHash string      `json:"task_hash"`
	Deposit  model.Coins `json:"deposit"`
}

// ReplyError describes a failed request
type ReplyError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Reply wraps every API response
type Reply struct {
	Data  any         `json:"data,omitempty"`
	Error *ReplyError `json:"error,omitempty"`
}

type handlerFunc func(ctx context.Context, data []byte) (any, error)

// API serves scheduler operations over NATS request/reply
type API struct {
	nc     *nats.Conn
	sched  *scheduler.Scheduler
	logger *zap.Logger
	mu     sync.Mutex
	subs   []*nats.Subscription
}

// NewAPI creates the request/reply API
func NewAPI(nc *nats.Conn, sched *scheduler.Scheduler, logger *zap.Logger) *API {
	return &API{
		nc:     nc,
		sched:  sched,
		logger: logger.Named("api"),
	}
}

// Start subscribes every request subject in a shared queue group
func (a *API) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for subject, h := range a.routes() {
		sub, err := a.nc.QueueSubscribe(subject, queueGroup, a.handle(subject, h))
		if err != nil {
			a.unsubscribeAll()
			return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
		a.subs = append(a.subs, sub)
	}
	if err := a.nc.Flush(); err != nil {
		a.unsubscribeAll()
		return fmt.Errorf("failed to flush subscriptions: %w", err)
	}

	go func() {
		<-ctx.Done()
		a.Stop()
	}()

	a.logger.Info("API started", zap.Int("subjects", len(a.subs)))
	return nil
}

// Stop removes all subscriptions
func (a *API) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.subs) == 0 {
		return
	}
	a.unsubscribeAll()
	a.logger.Info("API stopped")
}

func (a *API) unsubscribeAll() {
	for _, sub := range a.subs {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			a.logger.Warn("Failed to unsubscribe", zap.String("subject", sub.Subject), zap.Error(err))
		}
	}
	a.subs = nil
}

func (a *API) routes() map[string]handlerFunc {
	return map[string]handlerFunc{
		SubjectCreateTask:       a.createTask,
		SubjectRemoveTask:       a.removeTask,
		SubjectRefillTask:       a.refillTask,
		SubjectGetTask:          a.getTask,
		SubjectListTasks:        a.listTasks,
		SubjectListByOwner:      a.listByOwner,
		SubjectHashOf:           a.hashOf,
		SubjectValidateSchedule: a.validateSchedule,
		SubjectNextDue:          a.nextDue,
		SubjectSlotIDs:          a.slotIDs,
		SubjectBalances:         a.balances,
		SubjectConfig:           a.config,
	}
}

func (a *API) handle(subject string, h handlerFunc) nats.MsgHandler {
	return func(msg *nats.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		var reply Reply
		data, err := h(ctx, msg.Data)
		if err != nil {
			reply.Error = &ReplyError{Code: errorCode(err), Message: err.Error()}
			if reply.Error.Code == CodeInternal {
				a.logger.Error("Request failed", zap.String("subject", subject), zap.Error(err))
			} else {
				a.logger.Debug("Request rejected", zap.String("subject", subject), zap.Error(err))
			}
		} else {
			reply.Data = data
		}

		out, err := json.Marshal(reply)
		if err != nil {
			a.logger.Error("Failed to marshal reply", zap.String("subject", subject), zap.Error(err))
			return
		}
		if err := msg.Respond(out); err != nil {
			a.logger.Warn("Failed to respond", zap.String("subject", subject), zap.Error(err))
		}
	}
}

func (a *API) createTask(ctx context.Context, data []byte) (any, error) {
	req, err := decode[CreateTaskRequest](data)
	if err != nil {
		return nil, err
	}
	hash, err := a.sched.CreateTask(ctx, req.Task, req.Funds, req.Sender)
	if err != nil {
		return nil, err
	}
	return CreateTaskResponse{TaskHash: hash}, nil
}

func (a *API) removeTask(ctx context.Context, data []byte) (any, error) {
	req, err := decode[TaskHashRequest](data)
	if err != nil {
		return nil, err
	}
	return a.sched.RemoveTask(ctx, req.TaskHash)
}

func (a *API) refillTask(ctx context.Context, data []byte) (any, error) {
	req, err := decode[RefillTaskRequest](data)
	if err != nil {
		return nil, err
	}
	deposit, err := a.sched.RefillTask(ctx, req.TaskHash, req.Funds, req.Sender)
	if err != nil {
		return nil, err
	}
	return RefillTaskResponse{TaskHash: req.TaskHash, Deposit: deposit}, nil
}

func (a *API) getTask(ctx context.Context, data []byte) (any, error) {
	req, err := decode[TaskHashRequest](data)
	if err != nil {
		return nil, err
	}
	return a.sched.GetTask(ctx, req.TaskHash)
}

func (a *API) listTasks(ctx context.Context, data []byte) (any, error) {
	req, err := decode[ListTasksRequest](data)
	if err != nil {
		return nil, err
	}
	return a.sched.ListTasks(ctx, req.FromIndex, req.Limit)
}

func (a *API) listByOwner(ctx context.Context, data []byte) (any, error) {
	req, err := decode[OwnerRequest](data)
	if err != nil {
		return nil, err
	}
	return a.sched.ListTasksByOwner(ctx, req.Owner)
}

func (a *API) hashOf(_ context.Context, data []byte) (any, error) {
	req, err := decode[HashOfRequest](data)
	if err != nil {
		return nil, err
	}
	return a.sched.HashOf(req.Task), nil
}

func (a *API) validateSchedule(_ context.Context, data []byte) (any, error) {
	req, err := decode[ValidateScheduleRequest](data)
	if err != nil {
		return nil, err
	}
	return a.sched.ValidateSchedule(req.Schedule), nil
}

func (a *API) nextDue(ctx context.Context, data []byte) (any, error) {
	req, err := decode[NextDueRequest](data)
	if err != nil {
		return nil, err
	}
	return a.sched.NextDue(ctx, req.SlotID)
}

func (a *API) slotIDs(ctx context.Context, _ []byte) (any, error) {
	return a.sched.OccupiedSlotIDs(ctx)
}

func (a *API) balances(ctx context.Context, _ []byte) (any, error) {
	return a.sched.Balances(ctx)
}

func (a *API) config(ctx context.Context, _ []byte) (any, error) {
	return a.sched.Config(ctx)
}

// decode unmarshals a request payload. An empty payload decodes to the zero value.
func decode[T any](data []byte) (T, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: malformed request: %v", scheduler.ErrValidation, err)
	}
	return v, nil
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, scheduler.ErrValidation):
		return CodeValidation
	case errors.Is(err, scheduler.ErrConflict):
		return CodeConflict
	case errors.Is(err, scheduler.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, scheduler.ErrUnauthorized):
		return CodeUnauthorized
	default:
		return CodeInternal
	}
}
