package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// MessageKind represents the kind of instruction an action carries
type MessageKind string

const (
	MsgBankSend             MessageKind = "bank_send"
	MsgWasmExecute          MessageKind = "wasm_execute"
	MsgWasmMigrate          MessageKind = "wasm_migrate"
	MsgWasmUpdateAdmin      MessageKind = "wasm_update_admin"
	MsgWasmClearAdmin       MessageKind = "wasm_clear_admin"
	MsgStakingDelegate      MessageKind = "staking_delegate"
	MsgStakingUndelegate    MessageKind = "staking_undelegate"
	MsgStakingRedelegate    MessageKind = "staking_redelegate"
	MsgDistributionWithdraw MessageKind = "distribution_withdraw"
)

// Message is an instruction executed on behalf of the task owner
type Message struct {
	Kind      MessageKind `json:"kind"`
	Contract  string      `json:"contract,omitempty"`
	ToAddress string      `json:"to_address,omitempty"`
	Funds     Coins       `json:"funds,omitempty"`
	Payload   []byte      `json:"payload,omitempty"`
}

// Action pairs a message with an optional gas limit
type Action struct {
	Msg      Message `json:"msg"`
	GasLimit *uint64 `json:"gas_limit,omitempty"`
}

// Rule references an external condition evaluated by the executor
type Rule struct {
	Contract string `json:"contract"`
	Msg      []byte `json:"msg"`
}

// TaskIdentity holds the immutable fields a task hash is computed over
type TaskIdentity struct {
	Owner         string   `json:"owner"`
	Schedule      Schedule `json:"schedule"`
	Boundary      Boundary `json:"boundary"`
	StopOnFailure bool     `json:"stop_on_failure"`
	Actions       []Action `json:"actions"`
	Rules         []Rule   `json:"rules,omitempty"`
}

// Hash returns the hex encoded SHA-256 of the identity fields
func (id TaskIdentity) Hash() string {
	// plain values only, Marshal cannot fail
	data, _ := json.Marshal(id)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Task represents scheduled work funded by a deposit
type Task struct {
	TaskIdentity
	Deposit Coins `json:"deposit"`
}

// View returns the read-only representation of the task
func (t *Task) View() TaskView {
	return TaskView{
		Hash:          t.Hash(),
		Owner:         t.Owner,
		Schedule:      t.Schedule,
		Boundary:      t.Boundary,
		StopOnFailure: t.StopOnFailure,
		Deposit:       t.Deposit,
		Actions:       t.Actions,
		Rules:         t.Rules,
	}
}

// TaskRequest is what a caller submits to create a task
type TaskRequest struct {
	Schedule      Schedule `json:"schedule"`
	Boundary      Boundary `json:"boundary"`
	StopOnFailure bool     `json:"stop_on_failure"`
	Actions       []Action `json:"actions"`
	Rules         []Rule   `json:"rules,omitempty"`
}

// TaskView is returned by every read query
type TaskView struct {
	Hash          string   `json:"hash"`
	Owner         string   `json:"owner"`
	Schedule      Schedule `json:"schedule"`
	Boundary      Boundary `json:"boundary"`
	StopOnFailure bool     `json:"stop_on_failure"`
	Deposit       Coins    `json:"deposit"`
	Actions       []Action `json:"actions"`
	Rules         []Rule   `json:"rules,omitempty"`
}

// SlotTasks is the answer to "what is due": the height and time slots
// with their task hashes. A missing slot has ID 0 and no hashes.
type SlotTasks struct {
	HeightID     uint64   `json:"height_id"`
	HeightHashes []string `json:"height_hashes"`
	TimeID       uint64   `json:"time_id"`
	TimeHashes   []string `json:"time_hashes"`
}

// SlotIDs lists the occupied slot ids of each kind in ascending order
type SlotIDs struct {
	Height []uint64 `json:"height"`
	Time   []uint64 `json:"time"`
}

// RefundInstruction describes the transfer returning a removed task's deposit
type RefundInstruction struct {
	ID        string `json:"id"`
	TaskHash  string `json:"task_hash"`
	ToAddress string `json:"to_address"`
	Amount    Coins  `json:"amount"`
}
