package mail

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplateRendererRendersPurchaseSeller(t *testing.T) {
	r, err := NewTemplateRenderer()
	require.NoError(t, err)

	out, err := r.Render(TemplatePurchaseSeller, map[string]any{
		"SellerName": "Sipho",
		"BuyerName":  "Lerato",
		"BookTitle":  "Calculus <Early Transcendentals>",
		"Amount":     "R150.00",
		"Deadline":   "2026-10-18 10:00 UTC",
		"OrderID":    "ord-1",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "Sipho")
	assert.Contains(t, out, "ord-1")
	// html/template escapes user supplied values
	assert.Contains(t, out, "Calculus &lt;Early Transcendentals&gt;")
}

func TestTemplateRendererUnknownTemplate(t *testing.T) {
	r, err := NewTemplateRenderer()
	require.NoError(t, err)

	_, err = r.Render("does_not_exist", nil)
	assert.Error(t, err)
}

func TestSMTPSenderWithoutHost(t *testing.T) {
	s := &SMTPSender{}
	err := s.Send(context.Background(), Message{To: "a@b.c", Subject: "x", HTML: "y"})
	assert.True(t, errors.Is(err, ErrNotConfigured))
}

func TestSMTPSenderRejectsHeaderInjection(t *testing.T) {
	s := &SMTPSender{Host: "localhost", Port: "25", From: "no-reply@localhost"}
	err := s.Send(context.Background(), Message{To: "a@b.c\r\nBcc: evil@x.y", Subject: "x"})
	assert.Error(t, err)
}
