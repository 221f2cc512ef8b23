// Package apiv1 loads the published OpenAPI document for the v1 API.
package apiv1

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

const DocumentPath = "public/docs/v1/openapi.yml"

// FindDocument looks for the OpenAPI file relative to the working directory
// and a few parents, so binaries and tests started from subdirectories
// find it too. It returns "" when nothing is found.
func FindDocument() string {
	for _, base := range []string{"./", "../", "../../", "../../../"} {
		path := base + DocumentPath
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Load parses and validates the document at path.
func Load(ctx context.Context, path string) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("validate %s: %w", path, err)
	}
	return doc, nil
}

// Route is a method and fiber-style path, e.g. POST /api/v1/orders/:id/commit.
type Route struct {
	Method string
	Path   string
}

// Undocumented returns the routes that have no matching operation in doc,
// formatted as "METHOD path" and sorted.
func Undocumented(doc *openapi3.T, routes []Route) []string {
	var missing []string
	for _, r := range routes {
		if !documented(doc, r) {
			missing = append(missing, strings.ToUpper(r.Method)+" "+r.Path)
		}
	}
	sort.Strings(missing)
	return missing
}

func documented(doc *openapi3.T, r Route) bool {
	p := openAPIPath(r.Path)
	// Group roots may be registered with or without a trailing slash.
	for _, candidate := range []string{p, strings.TrimSuffix(p, "/"), p + "/"} {
		if candidate == "" || strings.HasSuffix(candidate, "//") {
			continue
		}
		item := doc.Paths.Find(candidate)
		if item != nil && item.GetOperation(strings.ToUpper(r.Method)) != nil {
			return true
		}
	}
	return false
}

// openAPIPath turns /orders/:id into /orders/{id}. The root keeps its slash.
func openAPIPath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		if strings.HasPrefix(s, ":") {
			segs[i] = "{" + strings.TrimSuffix(strings.TrimPrefix(s, ":"), "?") + "}"
		}
	}
	out := strings.Join(segs, "/")
	if out == "" {
		return "/"
	}
	return out
}
