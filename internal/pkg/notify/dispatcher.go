// Package notify delivers transactional email and in-app notifications
// through a single fallback ladder: direct send, then a MailQueue row for
// redelivery, then an urgent manual-processing record plus an escalation
// event. Callers never see an error from this package; they get a Report.
package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/sync/errgroup"

	"github.com/rebooked/marketplace/app/models"
	"github.com/rebooked/marketplace/app/repository"
	"github.com/rebooked/marketplace/internal/pkg/mail"
)

type Outcome string

const (
	OutcomeSent       Outcome = "sent"
	OutcomeQueued     Outcome = "queued"
	OutcomeEscalated  Outcome = "escalated"
	OutcomeUnrecorded Outcome = "unrecorded"
)

const EmailTypeManualProcessing = "manual_processing"

var errNoAddress = errors.New("recipient has no email address")

// Notice is one email to one recipient.
type Notice struct {
	Recipient   string // role label for reports: buyer, seller
	To          string
	Subject     string
	Template    string
	Data        map[string]any
	EmailType   string
	ReferenceID string
	Priority    models.MailPriority
}

type Result struct {
	Recipient string  `json:"recipient"`
	To        string  `json:"to"`
	Outcome   Outcome `json:"outcome"`
	Error     string  `json:"error,omitempty"`
}

// Report is the per-stage record of a batch delivery.
type Report struct {
	Kind               string   `json:"kind"`
	ReferenceID        string   `json:"reference_id"`
	Results            []Result `json:"results"`
	VerificationQueued bool     `json:"verification_queued"`
	Escalated          bool     `json:"escalated"`
	Panicked           bool     `json:"panicked,omitempty"`
}

// Delivered reports whether every email went out directly.
func (r Report) Delivered() bool {
	if len(r.Results) == 0 {
		return false
	}
	for _, res := range r.Results {
		if res.Outcome != OutcomeSent {
			return false
		}
	}
	return true
}

// Recorded reports whether every email was either sent or durably recorded.
func (r Report) Recorded() bool {
	if r.Panicked && !r.Escalated {
		return false
	}
	for _, res := range r.Results {
		if res.Outcome == OutcomeUnrecorded {
			return false
		}
	}
	return true
}

// InApp is an in-app notification for one user.
type InApp struct {
	Type    string
	Title   string
	Message string
	OrderID string
}

type Config struct {
	OpsEmail    string
	SendTimeout time.Duration
}

type Dispatcher struct {
	sender   mail.Sender
	renderer mail.Renderer
	mailQ    repository.MailQueueRepository
	notes    repository.NotificationRepository
	sink     Sink
	cfg      Config
	now      func() time.Time
}

func NewDispatcher(sender mail.Sender, renderer mail.Renderer, repos *repository.Repositories, sink Sink, cfg Config) *Dispatcher {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if sink == nil {
		sink = LogSink{}
	}
	return &Dispatcher{
		sender:   sender,
		renderer: renderer,
		mailQ:    repos.MailQueue,
		notes:    repos.Notification,
		sink:     sink,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Notify stores an in-app notification. It is independent of email.
func (d *Dispatcher) Notify(ctx context.Context, userID string, in InApp) error {
	if userID == "" {
		return errors.New("notify: empty user id")
	}
	err := d.notes.Create(context.WithoutCancel(ctx), &models.Notification{
		UserID:  userID,
		Type:    in.Type,
		Title:   in.Title,
		Message: in.Message,
		OrderID: in.OrderID,
	})
	if err != nil {
		log.Warnf("[Notify] In-app notification for %s (%s) failed: %v", userID, in.Type, err)
	}
	return err
}

// Deliver runs the ladder for a single notice.
func (d *Dispatcher) Deliver(ctx context.Context, n Notice) Result {
	res := Result{Recipient: n.Recipient, To: n.To}

	body := d.render(n.Template, n.Subject, n.Data)

	sendErr := errNoAddress
	if n.To != "" {
		sendErr = d.send(ctx, mail.Message{To: n.To, Subject: n.Subject, HTML: body})
	}
	if sendErr == nil {
		res.Outcome = OutcomeSent
		return res
	}
	res.Error = sendErr.Error()
	log.Warnf("[Notify] Direct send of %s to %s failed: %v", n.EmailType, n.To, sendErr)

	// The queue and escalation writes must survive a cancelled request.
	bg := context.WithoutCancel(ctx)

	if n.To != "" {
		priority := n.Priority
		if priority == "" {
			priority = models.MailPriorityHigh
		}
		row := &models.MailQueue{
			ToEmail:      n.To,
			Subject:      n.Subject,
			HTMLContent:  body,
			Status:       models.MailStatusPending,
			Priority:     priority,
			EmailType:    n.EmailType,
			ReferenceID:  n.ReferenceID,
			ErrorMessage: sendErr.Error(),
		}
		qerr := d.mailQ.Enqueue(bg, row)
		if qerr == nil {
			res.Outcome = OutcomeQueued
			return res
		}
		res.Error = fmt.Sprintf("%s; queue: %v", res.Error, qerr)
		log.Errorf("[Notify] Queueing %s for %s failed: %v", n.EmailType, n.To, qerr)
	}

	if d.Escalate(bg, Escalation{
		Kind:        n.EmailType,
		ReferenceID: n.ReferenceID,
		OrderID:     stringValue(n.Data, "OrderID"),
		SellerID:    stringValue(n.Data, "SellerID"),
		Recipient:   n.To,
		Reason:      res.Error,
	}) {
		res.Outcome = OutcomeEscalated
	} else {
		res.Outcome = OutcomeUnrecorded
	}
	return res
}

// Escalate emits the event to the sink and queues an urgent
// manual-processing email to operations. It reports whether the urgent row
// was stored.
func (d *Dispatcher) Escalate(ctx context.Context, e Escalation) bool {
	if e.At.IsZero() {
		e.At = d.now()
	}
	if err := d.sink.Escalate(ctx, e); err != nil {
		log.Errorf("[Notify] Escalation sink failed for %s/%s: %v", e.Kind, e.ReferenceID, err)
	}

	summary := fmt.Sprintf("%s for %s needs manual processing", e.Kind, e.ReferenceID)
	body := d.render(mail.TemplateManualProcessing, summary, map[string]any{
		"Summary":   summary,
		"OrderID":   e.OrderID,
		"SellerID":  e.SellerID,
		"Recipient": e.Recipient,
		"Error":     e.Reason,
		"Timestamp": e.At.UTC().Format(time.RFC3339),
	})
	row := &models.MailQueue{
		ToEmail:      d.cfg.OpsEmail,
		Subject:      "URGENT: " + summary,
		HTMLContent:  body,
		Status:       models.MailStatusPending,
		Priority:     models.MailPriorityUrgent,
		EmailType:    EmailTypeManualProcessing,
		ReferenceID:  e.ReferenceID,
		ErrorMessage: e.Reason,
	}
	if err := d.mailQ.Enqueue(ctx, row); err != nil {
		log.Errorw("[Notify] Urgent manual-processing record could not be stored",
			"kind", e.Kind, "reference_id", e.ReferenceID, "error", err)
		return false
	}
	return true
}

// DeliverAll sends every notice independently, then queues a low-priority
// verification record summarising the batch.
func (d *Dispatcher) DeliverAll(ctx context.Context, kind, referenceID string, notices ...Notice) (rep Report) {
	rep = Report{Kind: kind, ReferenceID: referenceID}
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("[Notify] %s pipeline for %s panicked: %v", kind, referenceID, r)
			rep.Panicked = true
			rep.Escalated = d.Escalate(context.WithoutCancel(ctx), Escalation{
				Kind:        kind,
				ReferenceID: referenceID,
				Reason:      fmt.Sprintf("panic: %v", r),
			}) || rep.Escalated
		}
	}()

	// Recipients are delivered concurrently and independently.
	results := make([]Result, len(notices))
	var g errgroup.Group
	for i, n := range notices {
		g.Go(func() error {
			results[i] = d.deliverRecovered(ctx, n)
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		if res.Outcome == OutcomeEscalated {
			rep.Escalated = true
		}
	}
	rep.Results = results
	rep.VerificationQueued = d.queueVerification(context.WithoutCancel(ctx), rep)
	return rep
}

func (d *Dispatcher) deliverRecovered(ctx context.Context, n Notice) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("[Notify] Delivery of %s to %s panicked: %v", n.EmailType, n.To, r)
			res = Result{Recipient: n.Recipient, To: n.To, Error: fmt.Sprintf("panic: %v", r)}
			if d.Escalate(context.WithoutCancel(ctx), Escalation{
				Kind:        n.EmailType,
				ReferenceID: n.ReferenceID,
				Recipient:   n.To,
				Reason:      res.Error,
			}) {
				res.Outcome = OutcomeEscalated
			} else {
				res.Outcome = OutcomeUnrecorded
			}
		}
	}()
	return d.Deliver(ctx, n)
}

// Verify queues the verification record for a batch whose emails were sent
// by another component.
func (d *Dispatcher) Verify(ctx context.Context, rep Report) bool {
	return d.queueVerification(context.WithoutCancel(ctx), rep)
}

func (d *Dispatcher) queueVerification(ctx context.Context, rep Report) bool {
	results := make([]map[string]any, 0, len(rep.Results))
	for _, r := range rep.Results {
		results = append(results, map[string]any{
			"Recipient": r.Recipient,
			"Email":     string(r.Outcome),
			"Error":     r.Error,
		})
	}
	subject := fmt.Sprintf("[verify] %s %s", rep.Kind, rep.ReferenceID)
	row := &models.MailQueue{
		ToEmail: d.cfg.OpsEmail,
		Subject: subject,
		HTMLContent: d.render(mail.TemplateVerification, subject, map[string]any{
			"Kind":        rep.Kind,
			"ReferenceID": rep.ReferenceID,
			"Results":     results,
			"Timestamp":   d.now().UTC().Format(time.RFC3339),
		}),
		Status:      models.MailStatusPending,
		Priority:    models.MailPriorityLow,
		EmailType:   rep.Kind + "_verification",
		ReferenceID: rep.ReferenceID,
	}
	if err := d.mailQ.Enqueue(ctx, row); err != nil {
		log.Warnf("[Notify] Verification record for %s %s failed: %v", rep.Kind, rep.ReferenceID, err)
		return false
	}
	return true
}

func (d *Dispatcher) send(ctx context.Context, msg mail.Message) error {
	if d.sender == nil {
		return mail.ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()
	return d.sender.Send(ctx, msg)
}

// render never fails; a broken template degrades to a plain body so the
// email can still be queued.
func (d *Dispatcher) render(name, subject string, data map[string]any) string {
	if d.renderer != nil && name != "" {
		out, err := d.renderer.Render(name, data)
		if err == nil {
			return out
		}
		log.Warnf("[Notify] Rendering %s failed: %v", name, err)
	}
	return "<p>" + html.EscapeString(subject) + "</p>"
}

func stringValue(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
