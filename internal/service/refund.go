package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/croncat/internal/model"
)

const (
	refundStreamName = "REFUNDS"
	refundSubject    = "refund.send"
	refundMaxAge     = 7 * 24 * time.Hour
	// JetStream drops republished refunds with the same id inside this window
	refundDuplicates = 10 * time.Minute
)

// RefundPublisher hands refund instructions to the payout side over JetStream
type RefundPublisher struct {
	js     nats.JetStreamContext
	logger *zap.Logger
}

// NewRefundPublisher creates the refund stream if needed
func NewRefundPublisher(ctx context.Context, js nats.JetStreamContext, logger *zap.Logger) (*RefundPublisher, error) {
	p := &RefundPublisher{
		js:     js,
		logger: logger.Named("refunds"),
	}
	if err := p.setupStream(ctx); err != nil {
		return nil, fmt.Errorf("failed to setup refund stream: %w", err)
	}
	return p, nil
}

func (p *RefundPublisher) setupStream(ctx context.Context) error {
	_, err := p.js.AddStream(&nats.StreamConfig{
		Name:       refundStreamName,
		Subjects:   []string{refundSubject},
		Storage:    nats.FileStorage,
		MaxAge:     refundMaxAge,
		Duplicates: refundDuplicates,
	}, nats.Context(ctx))
	if err != nil {
		if errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			p.logger.Info("Stream already exists", zap.String("stream", refundStreamName))
			return nil
		}
		return err
	}

	p.logger.Info("Stream created successfully", zap.String("stream", refundStreamName))
	return nil
}

// SendRefund publishes refund. The refund id is used as the message id.
func (p *RefundPublisher) SendRefund(ctx context.Context, refund model.RefundInstruction) error {
	data, err := json.Marshal(refund)
	if err != nil {
		return fmt.Errorf("failed to marshal refund: %w", err)
	}

	_, err = p.js.Publish(refundSubject, data, nats.MsgId(refund.ID), nats.Context(ctx))
	if err != nil {
		p.logger.Error("Failed to publish refund",
			zap.String("refund_id", refund.ID),
			zap.Error(err))
		return err
	}

	p.logger.Info("Refund published",
		zap.String("refund_id", refund.ID),
		zap.String("task_hash", refund.TaskHash),
		zap.String("to_address", refund.ToAddress))
	return nil
}

// SubscribeRefunds delivers published refunds to handler until ctx is done
func (p *RefundPublisher) SubscribeRefunds(ctx context.Context, handler func(model.RefundInstruction)) error {
	sub, err := p.js.Subscribe(refundSubject, func(msg *nats.Msg) {
		var refund model.RefundInstruction
		if err := json.Unmarshal(msg.Data, &refund); err != nil {
			p.logger.Error("Failed to unmarshal refund", zap.Error(err))
			msg.Term()
			return
		}

		handler(refund)
		msg.Ack()
	}, nats.ManualAck())
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		sub.Unsubscribe()
	}()

	return nil
}
