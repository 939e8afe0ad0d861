package scheduler

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/croncat/internal/interval"
	"github.com/t77yq/croncat/internal/kv"
	"github.com/t77yq/croncat/internal/model"
	"github.com/t77yq/croncat/internal/storage"
)

// CreateTask validates req, stores it as a task owned by caller and places
// it in its first slot. funds become the task deposit.
func (s *Scheduler) CreateTask(ctx context.Context, req model.TaskRequest, funds model.Coins, caller string) (string, error) {
	if funds.IsZero() {
		return "", ErrMustAttachFunds
	}
	funds = funds.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()

	env := s.clock.Now()
	task := &model.Task{
		TaskIdentity: model.TaskIdentity{
			Owner:         caller,
			Schedule:      req.Schedule,
			Boundary:      req.Boundary,
			StopOnFailure: req.StopOnFailure,
			Actions:       req.Actions,
			Rules:         req.Rules,
		},
		Deposit: funds,
	}

	var (
		hash string
		slot interval.Slot
	)
	err := s.store.Update(ctx, func(w kv.Writer) error {
		cfg, err := s.ledger.Load(w)
		if err != nil {
			return err
		}
		if cfg.Paused {
			return ErrCreatePaused
		}
		if err := s.validateActions(task.Actions); err != nil {
			return err
		}
		if !interval.Validate(task.Schedule) {
			return ErrInvalidInterval
		}
		slot, err = interval.Resolve(task.Schedule, task.Boundary, env, cfg.SlotGranularity)
		if err != nil {
			return ErrInvalidInterval
		}
		if slot.Terminal() {
			return ErrTaskEnded
		}

		hash, err = s.tasks.Insert(w, task)
		if errors.Is(err, storage.ErrTaskExists) {
			return ErrTaskExists
		}
		if err != nil {
			return err
		}
		if err := s.slotIndex(slot.Kind).Push(w, slot.ID, hash); err != nil {
			return err
		}

		cfg.AvailableBalance = cfg.AvailableBalance.Add(funds)
		total, err := s.tasks.Total(w)
		if err != nil {
			return err
		}
		if agentsToLetIn(cfg.MinTasksPerAgent, s.activeAgents(), total) > 0 && cfg.AgentNominationBeginTime == nil {
			begin := env.Time
			cfg.AgentNominationBeginTime = &begin
		}
		return s.ledger.Save(w, cfg)
	})
	if err != nil {
		s.logger.Debug("Task rejected", zap.String("owner", caller), zap.Error(err))
		return "", err
	}

	s.logger.Info("Task created",
		zap.String("task_hash", hash),
		zap.String("owner", caller),
		zap.String("slot_kind", string(slot.Kind)),
		zap.Uint64("slot_id", slot.ID),
		zap.Stringer("deposit", funds))
	return hash, nil
}

// RemoveTask deletes the task and returns the instruction refunding its
// deposit to the owner. The refund is handed to the RefundSender after the
// removal commits; a delivery failure does not undo the removal.
func (s *Scheduler) RemoveTask(ctx context.Context, hash string) (*model.RefundInstruction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var task *model.Task
	err := s.store.Update(ctx, func(w kv.Writer) error {
		var err error
		task, err = s.tasks.Remove(w, hash)
		if errors.Is(err, storage.ErrTaskNotFound) {
			return ErrTaskNotFound
		}
		if err != nil {
			return err
		}
		for _, ix := range []*storage.SlotIndex{s.heightSlots, s.timeSlots} {
			n, err := ix.Remove(w, hash)
			if err != nil {
				return err
			}
			if n > 0 {
				s.logger.Debug("Task scrubbed from slots",
					zap.String("task_hash", hash),
					zap.String("slot_kind", string(ix.Kind())),
					zap.Int("entries", n))
			}
		}
		_, err = s.ledger.Debit(w, task.Deposit)
		return err
	})
	if err != nil {
		return nil, err
	}

	refund := &model.RefundInstruction{
		ID:        uuid.New().String(),
		TaskHash:  hash,
		ToAddress: task.Owner,
		Amount:    task.Deposit,
	}
	s.logger.Info("Task removed",
		zap.String("task_hash", hash),
		zap.String("owner", task.Owner),
		zap.Stringer("refund", task.Deposit))

	if s.refunds != nil {
		if err := s.refunds.SendRefund(ctx, *refund); err != nil {
			s.logger.Warn("Failed to deliver refund",
				zap.String("refund_id", refund.ID),
				zap.String("task_hash", hash),
				zap.Error(err))
		}
	}
	return refund, nil
}

// RefillTask adds funds to the deposit of a task owned by caller and
// returns the new deposit.
func (s *Scheduler) RefillTask(ctx context.Context, hash string, funds model.Coins, caller string) (model.Coins, error) {
	if funds.IsZero() {
		return nil, ErrMustAttachFunds
	}
	funds = funds.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()

	var deposit model.Coins
	err := s.store.Update(ctx, func(w kv.Writer) error {
		task, err := s.tasks.Get(w, hash)
		if err != nil {
			return err
		}
		if task == nil {
			return ErrTaskNotFound
		}
		if task.Owner != caller {
			return ErrNotTaskOwner
		}

		deposit = task.Deposit.Add(funds)
		if err := s.tasks.UpdateDeposit(w, hash, deposit); err != nil {
			return err
		}
		_, err = s.ledger.Credit(w, funds)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Task refilled",
		zap.String("task_hash", hash),
		zap.Stringer("added", funds),
		zap.Stringer("deposit", deposit))
	return deposit, nil
}

// validateActions rejects actions the executor must never run: calls back
// into the scheduler and contract administration.
func (s *Scheduler) validateActions(actions []model.Action) error {
	if len(actions) == 0 {
		return ErrNoActions
	}
	for _, a := range actions {
		switch a.Msg.Kind {
		case model.MsgWasmExecute:
			if a.Msg.Contract == s.config.ContractAddress {
				return ErrActionUnsupported
			}
		case model.MsgBankSend,
			model.MsgStakingDelegate,
			model.MsgStakingUndelegate,
			model.MsgStakingRedelegate,
			model.MsgDistributionWithdraw:
		default:
			// migrate, admin changes and unknown kinds
			return ErrActionUnsupported
		}
	}
	return nil
}

func (s *Scheduler) activeAgents() uint64 {
	if s.agents == nil {
		return 0
	}
	return s.agents.ActiveAgentCount()
}
