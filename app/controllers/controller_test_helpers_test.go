package controllers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

func doJSON(t *testing.T, app *fiber.App, method, path, body string, headers map[string]string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func post(t *testing.T, app *fiber.App, path, body string) (int, map[string]any) {
	t.Helper()
	return doJSON(t, app, http.MethodPost, path, body, nil)
}

type fakeCounter struct {
	key    string
	counts map[string]int64
}

func newFakeCounter(key string) *fakeCounter {
	return &fakeCounter{key: key, counts: map[string]int64{}}
}

func (f *fakeCounter) Add(_ context.Context, field string) { f.counts[field]++ }

func (f *fakeCounter) Key() string { return f.key }

func (f *fakeCounter) Snapshot(context.Context) (map[string]int64, error) { return f.counts, nil }
