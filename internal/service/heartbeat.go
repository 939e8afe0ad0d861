package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/croncat/internal/model"
)

const (
	heartbeatSubject = "agent.heartbeat.*"
	leaveSubject     = "agent.leave.*"
)

// AgentTracker receives executor liveness updates
type AgentTracker interface {
	Heartbeat(hb model.Heartbeat)
	Unregister(executorID string) error
}

// HeartbeatListener feeds executor heartbeats from NATS into an AgentTracker.
// Subjects carry the executor id as their last token.
type HeartbeatListener struct {
	nc      *nats.Conn
	tracker AgentTracker
	logger  *zap.Logger
}

// NewHeartbeatListener creates a heartbeat listener
func NewHeartbeatListener(nc *nats.Conn, tracker AgentTracker, logger *zap.Logger) *HeartbeatListener {
	return &HeartbeatListener{
		nc:      nc,
		tracker: tracker,
		logger:  logger.Named("heartbeats"),
	}
}

// Start subscribes to heartbeat and leave subjects until ctx is done
func (l *HeartbeatListener) Start(ctx context.Context) error {
	hbSub, err := l.nc.Subscribe(heartbeatSubject, l.handleHeartbeat)
	if err != nil {
		return fmt.Errorf("failed to subscribe to heartbeats: %w", err)
	}
	leaveSub, err := l.nc.Subscribe(leaveSubject, l.handleLeave)
	if err != nil {
		hbSub.Unsubscribe()
		return fmt.Errorf("failed to subscribe to agent leave: %w", err)
	}

	go func() {
		<-ctx.Done()
		hbSub.Unsubscribe()
		leaveSub.Unsubscribe()
	}()

	l.logger.Info("Listening for executor heartbeats")
	return nil
}

func (l *HeartbeatListener) handleHeartbeat(msg *nats.Msg) {
	executorID, ok := executorFromSubject(msg.Subject)
	if !ok {
		l.logger.Error("Invalid heartbeat subject", zap.String("subject", msg.Subject))
		return
	}

	var hb model.Heartbeat
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &hb); err != nil {
			l.logger.Error("Failed to unmarshal heartbeat",
				zap.String("executor_id", executorID),
				zap.Error(err))
			return
		}
	}
	hb.ExecutorID = executorID
	l.tracker.Heartbeat(hb)
}

func (l *HeartbeatListener) handleLeave(msg *nats.Msg) {
	executorID, ok := executorFromSubject(msg.Subject)
	if !ok {
		l.logger.Error("Invalid agent leave subject", zap.String("subject", msg.Subject))
		return
	}
	if err := l.tracker.Unregister(executorID); err != nil {
		l.logger.Warn("Failed to unregister executor",
			zap.String("executor_id", executorID),
			zap.Error(err))
	}
}

// executorFromSubject extracts <id> from agent.<verb>.<id>
func executorFromSubject(subject string) (string, bool) {
	parts := strings.Split(subject, ".")
	if len(parts) != 3 || parts[2] == "" {
		return "", false
	}
	return parts[2], true
}
