package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rebooked/marketplace/app/models"
)

func TestRedeliverSendsByPriority(t *testing.T) {
	sender := &fakeSender{}
	d, store, _ := newTestDispatcher(t, sender)
	ctx := context.Background()
	repos := store.Repositories(false)

	require.NoError(t, repos.MailQueue.Enqueue(ctx, &models.MailQueue{ToEmail: "low@example.com", Subject: "l", Priority: models.MailPriorityLow}))
	require.NoError(t, repos.MailQueue.Enqueue(ctx, &models.MailQueue{ToEmail: "urgent@example.com", Subject: "u", Priority: models.MailPriorityUrgent}))

	stats, err := d.Redeliver(ctx, 10, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Sent)
	require.Len(t, sender.sent, 2)
	assert.Equal(t, "urgent@example.com", sender.sent[0].To)

	for _, row := range store.Mail() {
		assert.Equal(t, models.MailStatusSent, row.Status)
		assert.NotNil(t, row.SentAt)
	}

	// a second pass finds nothing left to send
	stats, err = d.Redeliver(ctx, 10, 3, 0)
	require.NoError(t, err)
	assert.Zero(t, stats.Sent)
}

func TestRedeliverRetriesThenFailsAndEscalates(t *testing.T) {
	sender := &fakeSender{fail: func(string) error { return errors.New("mailbox full") }}
	d, store, sink := newTestDispatcher(t, sender)
	ctx := context.Background()
	repos := store.Repositories(false)

	row := &models.MailQueue{ToEmail: "b@example.com", Subject: "s", EmailType: "commit_buyer", ReferenceID: "ord-1", Priority: models.MailPriorityHigh}
	require.NoError(t, repos.MailQueue.Enqueue(ctx, row))

	for i := 0; i < 2; i++ {
		_, err := d.Redeliver(ctx, 10, 3, 0)
		require.NoError(t, err)
		got, _ := repos.MailQueue.GetByID(ctx, row.ID)
		assert.Equal(t, models.MailStatusPending, got.Status)
		assert.Equal(t, i+1, got.RetryCount)
	}
	assert.Empty(t, sink.events)

	_, err := d.Redeliver(ctx, 1, 3, 0)
	require.NoError(t, err)
	got, _ := repos.MailQueue.GetByID(ctx, row.ID)
	assert.Equal(t, models.MailStatusFailed, got.Status)
	assert.Equal(t, "mailbox full", got.ErrorMessage)
	require.Len(t, sink.events, 1)
	assert.Equal(t, "ord-1", sink.events[0].ReferenceID)
	assert.Len(t, mailByType(store.Mail(), EmailTypeManualProcessing), 1)
}

func TestRedeliverReleasesStaleClaims(t *testing.T) {
	d, store, _ := newTestDispatcher(t, &fakeSender{})
	ctx := context.Background()
	repos := store.Repositories(false)

	row := &models.MailQueue{ToEmail: "b@example.com", Subject: "s"}
	require.NoError(t, repos.MailQueue.Enqueue(ctx, row))
	claimed, err := repos.MailQueue.Claim(ctx, row.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	d.now = func() time.Time { return time.Now().Add(time.Hour) }
	stats, err := d.Redeliver(ctx, 10, 3, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Released)
	assert.Equal(t, 1, stats.Sent)
}

func TestRedeliverKeepsClaimsYoungerThanSendWindow(t *testing.T) {
	d, store, _ := newTestDispatcher(t, &fakeSender{})
	ctx := context.Background()
	repos := store.Repositories(false)

	row := &models.MailQueue{ToEmail: "b@example.com", Subject: "s"}
	require.NoError(t, repos.MailQueue.Enqueue(ctx, row))
	claimed, err := repos.MailQueue.Claim(ctx, row.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	// SendTimeout is one second, so a one second stale window is too short
	// for a send that may still be running.
	d.now = func() time.Time { return time.Now().Add(2 * time.Second) }
	stats, err := d.Redeliver(ctx, 10, 3, time.Second)
	require.NoError(t, err)
	assert.Zero(t, stats.Released)
	assert.Zero(t, stats.Sent)

	got, _ := repos.MailQueue.GetByID(ctx, row.ID)
	assert.Equal(t, models.MailStatusSending, got.Status)
	assert.Equal(t, 3*time.Second, MinStaleAfter(time.Second))
}
