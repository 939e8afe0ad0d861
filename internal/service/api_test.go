package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/croncat/internal/chain"
	"github.com/t77yq/croncat/internal/kv"
	"github.com/t77yq/croncat/internal/model"
	"github.com/t77yq/croncat/internal/scheduler"
	"github.com/t77yq/croncat/internal/testutil"
)

type apiReply struct {
	Data  json.RawMessage `json:"data"`
	Error *ReplyError     `json:"error"`
}

func call(t *testing.T, nc *nats.Conn, subject string, req any) apiReply {
	t.Helper()

	var data []byte
	if req != nil {
		var err error
		data, err = json.Marshal(req)
		require.NoError(t, err)
	}
	msg, err := nc.Request(subject, data, 5*time.Second)
	require.NoError(t, err)

	var reply apiReply
	require.NoError(t, json.Unmarshal(msg.Data, &reply))
	return reply
}

func sendTask() model.TaskRequest {
	return model.TaskRequest{
		Schedule: model.RunImmediately(),
		Actions: []model.Action{{
			Msg: model.Message{
				Kind:      model.MsgBankSend,
				ToAddress: "bob",
				Funds:     model.NewCoins(1, "atom"),
			},
		}},
	}
}

func TestAPI(t *testing.T) {
	nc, js, cleanup := testutil.StartJetStream(t)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := zaptest.NewLogger(t)
	refunds, err := NewRefundPublisher(ctx, js, logger)
	require.NoError(t, err)

	clock := chain.NewFixedClock(model.Env{Height: 12345, Time: 1640995200 * uint64(time.Second)})
	sched := scheduler.New(scheduler.Config{ContractAddress: "croncat"}, kv.NewMemoryStore(), clock, nil, refunds, logger)
	_, err = sched.Init(ctx, model.Config{OwnerID: "admin", NativeDenom: "atom", MinTasksPerAgent: 3})
	require.NoError(t, err)

	api := NewAPI(nc, sched, logger)
	require.NoError(t, api.Start(ctx))
	defer api.Stop()

	var received []model.RefundInstruction
	var mu sync.Mutex
	require.NoError(t, refunds.SubscribeRefunds(ctx, func(r model.RefundInstruction) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, r)
	}))

	var hash string

	t.Run("Create", func(t *testing.T) {
		reply := call(t, nc, SubjectCreateTask, CreateTaskRequest{
			Sender: "alice",
			Funds:  model.NewCoins(37, "atom"),
			Task:   sendTask(),
		})
		require.Nil(t, reply.Error)

		var resp CreateTaskResponse
		require.NoError(t, json.Unmarshal(reply.Data, &resp))
		assert.Len(t, resp.TaskHash, 64)
		hash = resp.TaskHash
	})

	t.Run("Duplicate", func(t *testing.T) {
		reply := call(t, nc, SubjectCreateTask, CreateTaskRequest{
			Sender: "alice",
			Funds:  model.NewCoins(37, "atom"),
			Task:   sendTask(),
		})
		require.NotNil(t, reply.Error)
		assert.Equal(t, CodeConflict, reply.Error.Code)
	})

	t.Run("Slot IDs", func(t *testing.T) {
		reply := call(t, nc, SubjectSlotIDs, nil)
		require.Nil(t, reply.Error)

		var ids model.SlotIDs
		require.NoError(t, json.Unmarshal(reply.Data, &ids))
		assert.Equal(t, []uint64{12346}, ids.Height)
		assert.Empty(t, ids.Time)
	})

	t.Run("Next due", func(t *testing.T) {
		reply := call(t, nc, SubjectNextDue, NextDueRequest{})
		require.Nil(t, reply.Error)

		var due model.SlotTasks
		require.NoError(t, json.Unmarshal(reply.Data, &due))
		assert.Equal(t, uint64(12346), due.HeightID)
		assert.Equal(t, []string{hash}, due.HeightHashes)
	})

	t.Run("Get", func(t *testing.T) {
		reply := call(t, nc, SubjectGetTask, TaskHashRequest{TaskHash: hash})
		require.Nil(t, reply.Error)

		var view model.TaskView
		require.NoError(t, json.Unmarshal(reply.Data, &view))
		assert.Equal(t, hash, view.Hash)
		assert.Equal(t, model.NewCoins(37, "atom"), view.Deposit)
	})

	t.Run("Refill by stranger", func(t *testing.T) {
		reply := call(t, nc, SubjectRefillTask, RefillTaskRequest{
			Sender:   "mallory",
			Funds:    model.NewCoins(3, "atom"),
			TaskHash: hash,
		})
		require.NotNil(t, reply.Error)
		assert.Equal(t, CodeUnauthorized, reply.Error.Code)
	})

	t.Run("Refill", func(t *testing.T) {
		reply := call(t, nc, SubjectRefillTask, RefillTaskRequest{
			Sender:   "alice",
			Funds:    model.NewCoins(3, "atom"),
			TaskHash: hash,
		})
		require.Nil(t, reply.Error)

		var resp RefillTaskResponse
		require.NoError(t, json.Unmarshal(reply.Data, &resp))
		assert.Equal(t, model.NewCoins(40, "atom"), resp.Deposit)
	})

	t.Run("List", func(t *testing.T) {
		reply := call(t, nc, SubjectListTasks, ListTasksRequest{})
		require.Nil(t, reply.Error)

		var views []model.TaskView
		require.NoError(t, json.Unmarshal(reply.Data, &views))
		require.Len(t, views, 1)
		assert.Equal(t, hash, views[0].Hash)

		reply = call(t, nc, SubjectListByOwner, OwnerRequest{Owner: "bob"})
		require.Nil(t, reply.Error)
		require.NoError(t, json.Unmarshal(reply.Data, &views))
		assert.Empty(t, views)
	})

	t.Run("Validate schedule", func(t *testing.T) {
		reply := call(t, nc, SubjectValidateSchedule, ValidateScheduleRequest{Schedule: model.EveryNBlocks(0)})
		require.Nil(t, reply.Error)
		assert.JSONEq(t, "false", string(reply.Data))
	})

	t.Run("Malformed request", func(t *testing.T) {
		msg, err := nc.Request(SubjectGetTask, []byte("{not json"), 5*time.Second)
		require.NoError(t, err)

		var reply apiReply
		require.NoError(t, json.Unmarshal(msg.Data, &reply))
		require.NotNil(t, reply.Error)
		assert.Equal(t, CodeValidation, reply.Error.Code)
	})

	t.Run("Remove", func(t *testing.T) {
		reply := call(t, nc, SubjectRemoveTask, TaskHashRequest{TaskHash: hash})
		require.Nil(t, reply.Error)

		var refund model.RefundInstruction
		require.NoError(t, json.Unmarshal(reply.Data, &refund))
		assert.Equal(t, "alice", refund.ToAddress)
		assert.Equal(t, model.NewCoins(40, "atom"), refund.Amount)

		assert.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(received) == 1 && received[0].ID == refund.ID
		}, 5*time.Second, 50*time.Millisecond)

		reply = call(t, nc, SubjectBalances, nil)
		require.Nil(t, reply.Error)
		var balances model.Coins
		require.NoError(t, json.Unmarshal(reply.Data, &balances))
		assert.Equal(t, "0atom", balances.String())

		reply = call(t, nc, SubjectRemoveTask, TaskHashRequest{TaskHash: hash})
		require.NotNil(t, reply.Error)
		assert.Equal(t, CodeNotFound, reply.Error.Code)
	})

	t.Run("Config", func(t *testing.T) {
		reply := call(t, nc, SubjectConfig, nil)
		require.Nil(t, reply.Error)

		var cfg model.Config
		require.NoError(t, json.Unmarshal(reply.Data, &cfg))
		assert.Equal(t, "admin", cfg.OwnerID)
		assert.NotNil(t, cfg.AgentNominationBeginTime)
	})
}
