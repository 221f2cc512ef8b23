package commitment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rebooked/marketplace/internal/pkg/env"
	"github.com/rebooked/marketplace/internal/pkg/notify"
)

// Call identifies the commit being requested.
type Call struct {
	OrderID  string `json:"order_id"`
	SellerID string `json:"seller_id"`
}

// Outcome is what the primary path reports back.
type Outcome struct {
	// EmailSent is false only when the primary path says it did not send the
	// transactional emails.
	EmailSent bool
	// Report is set when the emails went through the local pipeline, which
	// already queued its own verification record.
	Report *notify.Report
}

// Committer is the primary commit path.
type Committer interface {
	Commit(ctx context.Context, call Call) (*Outcome, error)
}

// RemoteCommitter calls the hosted commit function.
type RemoteCommitter struct {
	URL        string
	Token      string
	HTTPClient *http.Client
}

// NewRemoteCommitterFromEnv returns nil when COMMIT_FUNCTION_URL is unset.
func NewRemoteCommitterFromEnv() *RemoteCommitter {
	url := strings.TrimSpace(env.GetEnv("COMMIT_FUNCTION_URL", ""))
	if url == "" {
		return nil
	}
	return &RemoteCommitter{
		URL:   url,
		Token: env.GetEnv("COMMIT_FUNCTION_TOKEN", ""),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type remoteResponse struct {
	Success   bool   `json:"success"`
	EmailSent *bool  `json:"email_sent"`
	Error     string `json:"error"`
	Message   string `json:"message"`
}

func (c *RemoteCommitter) Commit(ctx context.Context, call Call) (*Outcome, error) {
	raw, err := json.Marshal(call)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	res, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var out remoteResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("commit function: status=%d: %w", res.StatusCode, err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 || !out.Success {
		msg := out.Error
		if msg == "" {
			msg = out.Message
		}
		if msg == "" {
			msg = http.StatusText(res.StatusCode)
		}
		return nil, fmt.Errorf("commit function: status=%d: %s", res.StatusCode, msg)
	}
	return &Outcome{EmailSent: out.EmailSent == nil || *out.EmailSent}, nil
}

// localCommitter commits in process and sends the emails through the
// notification pipeline.
type localCommitter struct {
	s *Service
}

func (l localCommitter) Commit(ctx context.Context, call Call) (*Outcome, error) {
	oc, err := l.s.loadContext(ctx, call.OrderID)
	if err != nil {
		return nil, err
	}
	if err := l.s.applyCommit(ctx, oc); err != nil {
		return nil, err
	}
	rep := l.s.notifier.SendCommitEmails(ctx, *oc)
	return &Outcome{EmailSent: rep.Recorded(), Report: &rep}, nil
}

var errNotPending = errors.New("order is no longer pending commit")
