package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rebooked/marketplace/internal/pkg/commitment"
	"github.com/rebooked/marketplace/internal/pkg/notify"
)

type fakeRefunds struct {
	err   error
	calls []string
}

func (f *fakeRefunds) ProcessRefund(_ context.Context, orderID string) error {
	f.calls = append(f.calls, orderID)
	return f.err
}

type fakeExpirer struct {
	stats commitment.ExpiryStats
	limit int
}

func (f *fakeExpirer) ExpireOverdue(_ context.Context, limit int) (commitment.ExpiryStats, error) {
	f.limit = limit
	return f.stats, nil
}

type fakeMail struct {
	limits      []int
	maxRetries  int
	escalations []notify.Escalation
}

func (f *fakeMail) Redeliver(_ context.Context, limit, maxRetries int, _ time.Duration) (notify.RedeliveryStats, error) {
	f.limits = append(f.limits, limit)
	f.maxRetries = maxRetries
	return notify.RedeliveryStats{Sent: 1}, nil
}

func (f *fakeMail) Escalate(_ context.Context, e notify.Escalation) bool {
	f.escalations = append(f.escalations, e)
	return true
}

func newTestManager(t *testing.T, refunds *fakeRefunds, expirer *fakeExpirer, mail *fakeMail) *Manager {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	t.Cleanup(func() { _ = client.Close() })
	return NewManager(NewQueue(client, 1), Config{Workers: 1, MailBatch: 25, MailMaxRetries: 4, ExpiryBatch: 10}, refunds, expirer, mail)
}

func refundJob(orderID string) *Job {
	return &Job{ID: "job-1", Type: JobTypeOrderRefund, Payload: RefundJobPayload{OrderID: orderID}.ToMap(), MaxRetries: DefaultMaxRetries}
}

func TestNewManager_Defaults(t *testing.T) {
	m := newTestManager(t, &fakeRefunds{}, &fakeExpirer{}, &fakeMail{})

	assert.Equal(t, time.Minute, m.cfg.MailInterval)
	assert.Equal(t, 5*time.Minute, m.cfg.ExpiryInterval)
	assert.NotNil(t, m.GetQueue().handlerFor(JobTypeOrderRefund))
	assert.NotNil(t, m.GetQueue().handlerFor(JobTypeMailDelivery))
	assert.False(t, m.IsRunning())
}

func TestManager_HandleRefund(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantErr       bool
		wantPermanent bool
	}{
		{"refunded", nil, false, false},
		{"provider outage retries", fmt.Errorf("paystack 503: %w", commitment.ErrRetryRefund), true, false},
		{"manual refund is final", errors.New("refund rejected"), true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			refunds := &fakeRefunds{err: tt.err}
			m := newTestManager(t, refunds, nil, nil)

			err := m.handleRefund(context.Background(), refundJob("ord-9"))

			assert.Equal(t, []string{"ord-9"}, refunds.calls)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantPermanent, IsPermanent(err))
		})
	}

	t.Run("missing order id", func(t *testing.T) {
		refunds := &fakeRefunds{}
		m := newTestManager(t, refunds, nil, nil)

		err := m.handleRefund(context.Background(), refundJob(""))
		assert.True(t, IsPermanent(err))
		assert.Empty(t, refunds.calls)
	})
}

func TestManager_ExhaustedRefundEscalates(t *testing.T) {
	mail := &fakeMail{}
	m := newTestManager(t, &fakeRefunds{}, nil, mail)

	job := refundJob("ord-3")
	job.RetryCount = DefaultMaxRetries
	m.jobFailed(context.Background(), job, fmt.Errorf("timeout: %w", commitment.ErrRetryRefund))

	require.Len(t, mail.escalations, 1)
	assert.Equal(t, "manual_refund", mail.escalations[0].Kind)
	assert.Equal(t, "ord-3", mail.escalations[0].OrderID)

	// Final refund errors were escalated by the refund flow itself.
	m.jobFailed(context.Background(), job, Permanent(errors.New("rejected")))
	assert.Len(t, mail.escalations, 1)
}

func TestManager_Sweeps(t *testing.T) {
	mail := &fakeMail{}
	expirer := &fakeExpirer{stats: commitment.ExpiryStats{Expired: 2}}
	m := newTestManager(t, &fakeRefunds{}, expirer, mail)
	ctx := context.Background()

	require.NoError(t, m.RunMailSweepOnce(ctx))
	require.NoError(t, m.RunExpirySweepOnce(ctx))
	assert.Equal(t, []int{25}, mail.limits)
	assert.Equal(t, 4, mail.maxRetries)
	assert.Equal(t, 10, expirer.limit)

	job := &Job{Type: JobTypeMailDelivery, Payload: MailDeliveryJobPayload{MailID: 12}.ToMap()}
	require.NoError(t, m.handleMailDelivery(ctx, job))
	assert.Equal(t, []int{25, 25}, mail.limits)
}

func TestConfigFromEnv_MailStaleWindowCoversSendTimeout(t *testing.T) {
	t.Setenv("JOBQUEUE_MAIL_STALE_SECONDS", "5")
	cfg := ConfigFromEnv(4, 10*time.Second)
	assert.Equal(t, 30*time.Second, cfg.MailStaleAfter)
	assert.Equal(t, 4, cfg.MailMaxRetries)

	t.Setenv("JOBQUEUE_MAIL_STALE_SECONDS", "600")
	assert.Equal(t, 10*time.Minute, ConfigFromEnv(4, 10*time.Second).MailStaleAfter)
}
