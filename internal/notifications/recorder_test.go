package notifications

import (
	"context"
	"testing"
	"time"

	"github.com/bissquit/notify-relay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Lifecycle(t *testing.T) {
	repo := newMockRepository()
	rec := NewRecorder(repo)
	fixed := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	rec.now = func() time.Time { return fixed }
	ctx := context.Background()

	t.Run("succeed without note", func(t *testing.T) {
		id, err := rec.Queue(ctx, &domain.MessageLog{Channel: domain.ChannelTypeEmail, Body: "b"})
		require.NoError(t, err)

		queued, err := repo.GetLog(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.LogStatusQueued, queued.Status)

		require.NoError(t, rec.Succeed(ctx, id, 2, ""))

		log, err := repo.GetLog(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.LogStatusSuccess, log.Status)
		assert.Equal(t, 2, log.RetryCount)
		assert.Nil(t, log.ErrorMessage)
		require.NotNil(t, log.SentAt)
		assert.Equal(t, fixed, *log.SentAt)
	})

	t.Run("succeed with group note", func(t *testing.T) {
		id, err := rec.Queue(ctx, &domain.MessageLog{Channel: domain.ChannelTypeEmail, Body: "b"})
		require.NoError(t, err)

		require.NoError(t, rec.Succeed(ctx, id, 0, groupNote(1, 3)))

		log, _ := repo.GetLog(ctx, id)
		require.NotNil(t, log.ErrorMessage)
		assert.Equal(t, "1 of 3 recipients failed", *log.ErrorMessage)
	})

	t.Run("fail then succeed is rejected", func(t *testing.T) {
		id, err := rec.Queue(ctx, &domain.MessageLog{Channel: domain.ChannelTypeTelegram, Body: "b"})
		require.NoError(t, err)

		rec.Fail(ctx, id, 1, "provider said no")

		log, _ := repo.GetLog(ctx, id)
		assert.Equal(t, domain.LogStatusFailed, log.Status)
		assert.Nil(t, log.SentAt)

		err = rec.Succeed(ctx, id, 0, "")
		assert.ErrorIs(t, err, ErrPersistence)

		log, _ = repo.GetLog(ctx, id)
		assert.Equal(t, domain.LogStatusFailed, log.Status)
	})

	t.Run("fail on unknown log only logs", func(t *testing.T) {
		assert.NotPanics(t, func() {
			rec.Fail(ctx, "missing", 0, "x")
		})
	})
}

func TestRecorder_QueueError(t *testing.T) {
	repo := newMockRepository()
	repo.insertErr = errBoom

	_, err := NewRecorder(repo).Queue(context.Background(), &domain.MessageLog{})
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Contains(t, err.Error(), "boom")
}
