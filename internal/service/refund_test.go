package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/croncat/internal/model"
	"github.com/t77yq/croncat/internal/testutil"
)

func TestRefundPublisher(t *testing.T) {
	_, js, cleanup := testutil.StartJetStream(t)
	defer cleanup()

	ctx := context.Background()
	publisher, err := NewRefundPublisher(ctx, js, zap.NewNop())
	require.NoError(t, err)

	t.Run("Setup", func(t *testing.T) {
		stream, err := js.StreamInfo(refundStreamName)
		require.NoError(t, err)
		assert.Equal(t, []string{refundSubject}, stream.Config.Subjects)

		// A second publisher reuses the stream
		_, err = NewRefundPublisher(ctx, js, zap.NewNop())
		require.NoError(t, err)
	})

	t.Run("Publish", func(t *testing.T) {
		refund := model.RefundInstruction{
			ID:        "refund-1",
			TaskHash:  "abc",
			ToAddress: "alice",
			Amount:    model.NewCoins(37, "atom"),
		}
		require.NoError(t, publisher.SendRefund(ctx, refund))
		// Same id is deduplicated by the stream
		require.NoError(t, publisher.SendRefund(ctx, refund))

		msgs, err := testutil.ConsumeMessages(js, refundSubject, time.Second)
		require.NoError(t, err)
		require.Len(t, msgs, 1)

		var got model.RefundInstruction
		require.NoError(t, json.Unmarshal(msgs[0], &got))
		assert.Equal(t, refund, got)
	})
}
