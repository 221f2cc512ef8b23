package mail

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"net/http"

	"github.com/gofiber/template/html/v2"
)

//go:embed templates/*.html
var templateFS embed.FS

// Template names.
const (
	TemplatePurchaseBuyer    = "purchase_buyer"
	TemplatePurchaseSeller   = "purchase_seller"
	TemplateCommitBuyer      = "commit_buyer"
	TemplateCommitSeller     = "commit_seller"
	TemplateDeclineBuyer     = "decline_buyer"
	TemplateDeclineSeller    = "decline_seller"
	TemplateExpiredBuyer     = "expired_buyer"
	TemplateExpiredSeller    = "expired_seller"
	TemplateVerification     = "verification"
	TemplateManualProcessing = "manual_processing"
)

// Renderer turns a template name plus data into HTML.
type Renderer interface {
	Render(name string, data map[string]any) (string, error)
}

// TemplateRenderer renders the embedded html templates.
type TemplateRenderer struct {
	engine *html.Engine
}

func NewTemplateRenderer() (*TemplateRenderer, error) {
	sub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		return nil, err
	}
	engine := html.NewFileSystem(http.FS(sub), ".html")
	if err := engine.Load(); err != nil {
		return nil, fmt.Errorf("load mail templates: %w", err)
	}
	return &TemplateRenderer{engine: engine}, nil
}

func (r *TemplateRenderer) Render(name string, data map[string]any) (string, error) {
	var buf bytes.Buffer
	if err := r.engine.Render(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
