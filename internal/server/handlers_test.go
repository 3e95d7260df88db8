package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shipbox/internal/deploy"
	"shipbox/internal/plan"
	"shipbox/internal/target"
)

const testSecret = "kX9#mP2$vN8@qR5&wT7!zY4^bF6*hJ3%"

type nullConn struct{}

func (nullConn) Run(ctx context.Context, command string) (*plan.Result, error) {
	return &plan.Result{ExitCode: 0}, nil
}

func (nullConn) Close() error { return nil }

func testServer(t *testing.T) *Server {
	t.Helper()

	tgt := &target.Target{
		Name:            "web-1",
		Host:            "web-1.example.com",
		Port:            22,
		User:            "deploy",
		KeyFile:         "/tmp/key",
		InsecureHostKey: true,
		AppPath:         "/srv/app",
		AppName:         "web-1",
		Entrypoint:      "app.js",
		Supervisor:      target.SupervisorPM2,
		Branch:          "main",
		InstallCommand:  "npm ci --omit=dev",
		Excludes:        []string{".git", "node_modules"},
		StepTimeout:     60,
		WebhookSecret:   testSecret,
	}
	noSecret := &target.Target{
		Name:            "web-2",
		Host:            "web-2.example.com",
		Port:            22,
		User:            "deploy",
		KeyFile:         "/tmp/key",
		InsecureHostKey: true,
		AppPath:         "/srv/app",
		AppName:         "web-2",
		Entrypoint:      "app.js",
		Supervisor:      target.SupervisorPM2,
		Branch:          "main",
		InstallCommand:  "npm ci --omit=dev",
		StepTimeout:     60,
	}

	registry := target.NewRegistry(map[string]*target.Target{
		"web-1": tgt,
		"web-2": noSecret,
	})

	dialer := func(ctx context.Context, tgt *target.Target) (deploy.Connection, error) {
		return nullConn{}, nil
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	orch := deploy.NewOrchestrator(dialer, deploy.NewLockManager(), logger)

	return NewServer(registry, nil, orch, logger, ".", true)
}

func postWebhook(router http.Handler, targetName string, body []byte, mutate func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/in/"+targetName, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", "push")
	req.Header.Set("X-Hub-Signature-256", signPayload(body, testSecret))
	if mutate != nil {
		mutate(req)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func pushBody(t *testing.T, ref string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]string{"ref": ref, "after": "abc123"})
	require.NoError(t, err)
	return body
}

func TestHandleWebhook_AcceptsValidPush(t *testing.T) {
	srv := testServer(t)
	router := srv.Router()

	rec := postWebhook(router, "web-1", pushBody(t, "refs/heads/main"), nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "web-1", resp["target"])
}

func TestHandleWebhook_RejectsInvalidSignature(t *testing.T) {
	srv := testServer(t)
	router := srv.Router()

	rec := postWebhook(router, "web-1", pushBody(t, "refs/heads/main"), func(r *http.Request) {
		r.Header.Set("X-Hub-Signature-256", SignaturePrefix+"0000")
	})

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandleWebhook_RejectsMissingSignature(t *testing.T) {
	srv := testServer(t)
	router := srv.Router()

	rec := postWebhook(router, "web-1", pushBody(t, "refs/heads/main"), func(r *http.Request) {
		r.Header.Del("X-Hub-Signature-256")
	})

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandleWebhook_UnknownTarget(t *testing.T) {
	srv := testServer(t)
	router := srv.Router()

	rec := postWebhook(router, "web-9", pushBody(t, "refs/heads/main"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleWebhook_InvalidTargetName(t *testing.T) {
	srv := testServer(t)
	router := srv.Router()

	rec := postWebhook(router, "bad!name", pushBody(t, "refs/heads/main"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleWebhook_TargetWithoutSecret(t *testing.T) {
	srv := testServer(t)
	router := srv.Router()

	rec := postWebhook(router, "web-2", pushBody(t, "refs/heads/main"), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandleWebhook_IgnoresNonPushEvents(t *testing.T) {
	srv := testServer(t)
	router := srv.Router()

	rec := postWebhook(router, "web-1", pushBody(t, "refs/heads/main"), func(r *http.Request) {
		r.Header.Set("X-GitHub-Event", "ping")
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Ignoring non-push event")
}

func TestHandleWebhook_IgnoresOtherBranches(t *testing.T) {
	srv := testServer(t)
	router := srv.Router()

	rec := postWebhook(router, "web-1", pushBody(t, "refs/heads/feature"), nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Not target branch")
}

func TestHandleWebhook_RejectsWrongContentType(t *testing.T) {
	srv := testServer(t)
	router := srv.Router()

	rec := postWebhook(router, "web-1", pushBody(t, "refs/heads/main"), func(r *http.Request) {
		r.Header.Set("Content-Type", "text/plain")
	})

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestHandleWebhook_RejectsOversizedPayload(t *testing.T) {
	srv := testServer(t)
	router := srv.Router()

	rec := postWebhook(router, "web-1", pushBody(t, "refs/heads/main"), func(r *http.Request) {
		r.ContentLength = MaxPayloadBytes + 1
	})

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestHandleWebhook_RejectsMalformedJSON(t *testing.T) {
	srv := testServer(t)
	router := srv.Router()

	body := []byte("{not json")
	rec := postWebhook(router, "web-1", body, func(r *http.Request) {
		r.Header.Set("X-Hub-Signature-256", signPayload(body, testSecret))
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleHealth(t *testing.T) {
	srv := testServer(t)
	router := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status      string   `json:"status"`
		Targets     []string `json:"targets"`
		TargetCount int      `json:"target_count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, []string{"web-1", "web-2"}, resp.Targets)
	assert.Equal(t, 2, resp.TargetCount)
}

func TestHandleStatus_UnknownTarget(t *testing.T) {
	srv := testServer(t)
	router := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/status/web-9", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleStatus_HistoryUnavailableInTestMode(t *testing.T) {
	srv := testServer(t)
	router := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/status/web-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
