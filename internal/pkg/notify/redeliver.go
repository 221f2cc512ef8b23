package notify

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/rebooked/marketplace/internal/pkg/mail"
)

// RedeliveryStats summarises one pass over the mail queue.
type RedeliveryStats struct {
	Sent     int `json:"sent"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
	Released int `json:"released"`
}

// MinStaleAfter is the shortest stale window that cannot release a row whose
// send is still in flight.
func MinStaleAfter(sendTimeout time.Duration) time.Duration {
	return 3 * sendTimeout
}

// Redeliver sends up to limit pending MailQueue rows. Each row is claimed
// (pending -> sending) before sending so two consumers never send the same
// row. Rows stuck in sending longer than staleAfter are released first;
// staleAfter is raised to MinStaleAfter of the send timeout.
func (d *Dispatcher) Redeliver(ctx context.Context, limit, maxRetries int, staleAfter time.Duration) (RedeliveryStats, error) {
	var stats RedeliveryStats

	if floor := MinStaleAfter(d.cfg.SendTimeout); staleAfter > 0 && staleAfter < floor {
		staleAfter = floor
	}
	if staleAfter > 0 {
		n, err := d.mailQ.ReleaseStale(ctx, d.now().Add(-staleAfter))
		if err != nil {
			return stats, err
		}
		stats.Released = int(n)
	}

	rows, err := d.mailQ.ListPending(ctx, limit)
	if err != nil {
		return stats, err
	}

	for _, row := range rows {
		claimed, err := d.mailQ.Claim(ctx, row.ID)
		if err != nil {
			return stats, err
		}
		if !claimed {
			stats.Skipped++
			continue
		}

		sendErr := d.send(ctx, mail.Message{To: row.ToEmail, Subject: row.Subject, HTML: row.HTMLContent})
		if sendErr == nil {
			if err := d.mailQ.MarkSent(ctx, row.ID, d.now()); err != nil {
				log.Errorf("[Notify] Mail %d sent but not marked: %v", row.ID, err)
			}
			stats.Sent++
			continue
		}

		stats.Failed++
		if err := d.mailQ.MarkFailed(ctx, row.ID, sendErr.Error(), maxRetries); err != nil {
			log.Errorf("[Notify] Mail %d failure not recorded: %v", row.ID, err)
		}
		if row.RetryCount+1 >= maxRetries && row.EmailType != EmailTypeManualProcessing {
			d.Escalate(ctx, Escalation{
				Kind:        row.EmailType,
				ReferenceID: row.ReferenceID,
				Recipient:   row.ToEmail,
				Reason:      "retries exhausted: " + sendErr.Error(),
			})
		}
	}

	if stats.Sent+stats.Failed > 0 {
		log.Infof("[Notify] Mail queue pass: sent=%d failed=%d skipped=%d released=%d",
			stats.Sent, stats.Failed, stats.Skipped, stats.Released)
	}
	return stats, nil
}
