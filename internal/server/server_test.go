package server_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sekimori-ai/sekimori/internal/advice"
	"github.com/sekimori-ai/sekimori/internal/audit"
	"github.com/sekimori-ai/sekimori/internal/auth"
	"github.com/sekimori-ai/sekimori/internal/model"
	"github.com/sekimori-ai/sekimori/internal/policy"
	"github.com/sekimori-ai/sekimori/internal/room"
	"github.com/sekimori-ai/sekimori/internal/runstore"
	"github.com/sekimori-ai/sekimori/internal/server"
)

type testEnv struct {
	handler http.Handler
	source  *policy.StaticSource
}

// envelope mirrors the success response wrapper for decoding in tests.
type envelope struct {
	Data json.RawMessage    `json:"data"`
	Meta model.ResponseMeta `json:"meta"`
}

type errEnvelope struct {
	Error model.ErrorDetail  `json:"error"`
	Meta  model.ResponseMeta `json:"meta"`
}

func newTestEnv(t *testing.T, snap policy.Snapshot, opts ...func(*server.ServerConfig)) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	log, err := audit.Open(audit.Config{
		Path:     filepath.Join(t.TempDir(), "audit.jsonl"),
		SyncMode: "full",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	adviceStore, err := advice.NewFileStore(t.TempDir())
	require.NoError(t, err)

	source := policy.NewStaticSource(snap)
	gate := policy.NewGate(source)

	cfg := server.ServerConfig{
		Runs:                runstore.New(gate, log, logger),
		Rooms:               room.NewManager(log, logger),
		AdviceStore:         adviceStore,
		AuditAppender:       log,
		AuditLog:            log,
		Gate:                gate,
		Logger:              logger,
		Version:             "test",
		MaxRequestBodyBytes: 1 << 20,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &testEnv{
		handler: server.New(cfg).Handler(),
		source:  source,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(b)
	}

	req := httptest.NewRequest(method, path, buf)
	req.Header.Set("Content-Type", "application/json")
	require.Zero(t, len(headers)%2, "headers must be key/value pairs")
	for i := 0; i < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errEnvelope {
	t.Helper()
	var env errEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func blockReason(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	env := decodeError(t, rec)
	details, ok := env.Error.Details.(map[string]any)
	require.True(t, ok, "blocked error should carry details")
	reason, _ := details["reason"].(string)
	return reason
}

func TestGuardedRunWorkflow(t *testing.T) {
	env := newTestEnv(t, policy.Snapshot{ExecutionEnabled: false})

	// Propose: the run enters HOLD.
	rec := env.do(t, http.MethodPost, "/v1/runs", model.CreateRunRequest{
		Kind:    "deploy",
		Payload: map[string]any{"target": "prod"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeData[model.RunResponse](t, rec)
	assert.Equal(t, model.RunStateHold, created.State)
	assert.Equal(t, 0, created.Executed)
	runID := created.RunID

	// Execute straight from HOLD: blocked, run untouched.
	rec = env.do(t, http.MethodPost, "/v1/runs/"+runID+"/execute", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, model.ErrCodeBlocked, decodeError(t, rec).Error.Code)
	assert.Equal(t, model.ReasonNotApproved, blockReason(t, rec))

	// Approve. Empty allowlist applies no gating.
	rec = env.do(t, http.MethodPost, "/v1/runs/"+runID+"/approve", model.ApproveRunRequest{
		Approver: "alice",
		Note:     "reviewed the payload",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	approved := decodeData[model.RunResponse](t, rec)
	assert.Equal(t, model.RunStateApproved, approved.State)

	// Execute while the kill switch is off.
	rec = env.do(t, http.MethodPost, "/v1/runs/"+runID+"/execute", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, model.ReasonExecutionDisabled, blockReason(t, rec))

	// Flip the kill switch; the next call observes the new policy.
	env.source.Set(policy.Snapshot{ExecutionEnabled: true})

	rec = env.do(t, http.MethodPost, "/v1/runs/"+runID+"/execute", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	executed := decodeData[model.RunResponse](t, rec)
	assert.Equal(t, model.RunStateExecuted, executed.State)
	assert.Equal(t, 1, executed.Executed)

	// At most once: the second execute is blocked.
	rec = env.do(t, http.MethodPost, "/v1/runs/"+runID+"/execute", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, model.ReasonAlreadyExecuted, blockReason(t, rec))

	// The stored run carries the full history.
	rec = env.do(t, http.MethodGet, "/v1/runs/"+runID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	run := decodeData[model.Run](t, rec)
	assert.Equal(t, "alice", run.ApprovedBy)
	assert.NotNil(t, run.ExecutedAt)
}

func TestApproveOutsideAllowlist(t *testing.T) {
	env := newTestEnv(t, policy.Snapshot{
		ExecutionEnabled: true,
		Allowlist:        []string{"alice", "bob"},
	})

	rec := env.do(t, http.MethodPost, "/v1/runs", model.CreateRunRequest{Kind: "deploy"})
	require.Equal(t, http.StatusCreated, rec.Code)
	runID := decodeData[model.RunResponse](t, rec).RunID

	rec = env.do(t, http.MethodPost, "/v1/runs/"+runID+"/approve", model.ApproveRunRequest{
		Approver: "mallory",
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, model.ErrCodeForbidden, decodeError(t, rec).Error.Code)

	// The run is untouched by the rejected approval.
	rec = env.do(t, http.MethodGet, "/v1/runs/"+runID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.RunStateHold, decodeData[model.Run](t, rec).State)
}

func TestReapprovalIsIdempotent(t *testing.T) {
	env := newTestEnv(t, policy.Snapshot{ExecutionEnabled: true})

	rec := env.do(t, http.MethodPost, "/v1/runs", model.CreateRunRequest{Kind: "deploy"})
	runID := decodeData[model.RunResponse](t, rec).RunID

	rec = env.do(t, http.MethodPost, "/v1/runs/"+runID+"/approve", model.ApproveRunRequest{Approver: "alice"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/runs/"+runID+"/approve", model.ApproveRunRequest{Approver: "bob"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeData[model.RunResponse](t, rec)
	assert.Equal(t, model.ReasonAlreadyApproved, resp.Reason)

	// The original approver is preserved.
	rec = env.do(t, http.MethodGet, "/v1/runs/"+runID, nil)
	assert.Equal(t, "alice", decodeData[model.Run](t, rec).ApprovedBy)
}

func TestRunValidationAndLookup(t *testing.T) {
	env := newTestEnv(t, policy.Snapshot{})

	rec := env.do(t, http.MethodPost, "/v1/runs", model.CreateRunRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, model.ErrCodeInvalidInput, decodeError(t, rec).Error.Code)

	rec = env.do(t, http.MethodPost, "/v1/runs", map[string]any{"kind": "deploy", "bogus": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/runs/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/runs/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, model.ErrCodeNotFound, decodeError(t, rec).Error.Code)
}

func TestRoomLifecycle(t *testing.T) {
	env := newTestEnv(t, policy.Snapshot{})

	rec := env.do(t, http.MethodPost, "/v1/rooms", model.CreateRoomRequest{
		Scope:      "deploy-review",
		Mode:       "pair",
		TTLSeconds: 60,
		RequestID:  "req-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rm := decodeData[model.Room](t, rec)
	assert.Equal(t, model.RoomStateCreated, rm.State)
	roomID := rm.ID.String()

	rec = env.do(t, http.MethodPost, "/v1/rooms/"+roomID+"/activate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.RoomStateActive, decodeData[model.Room](t, rec).State)

	rec = env.do(t, http.MethodDelete, "/v1/rooms/"+roomID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.RoomStateDestroyed, decodeData[model.Room](t, rec).State)

	// Terminal states absorb further transitions.
	rec = env.do(t, http.MethodPost, "/v1/rooms/"+roomID+"/activate", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, model.ErrCodeTerminalState, decodeError(t, rec).Error.Code)

	rec = env.do(t, http.MethodGet, "/v1/rooms/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// An absurd TTL is rejected at validation instead of wrapping negative
	// in the seconds-to-duration conversion.
	rec = env.do(t, http.MethodPost, "/v1/rooms", model.CreateRoomRequest{
		Scope:      "deploy-review",
		TTLSeconds: 1 << 62,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, model.ErrCodeInvalidInput, decodeError(t, rec).Error.Code)
}

func TestAdviceEndpoints(t *testing.T) {
	env := newTestEnv(t, policy.Snapshot{ExecutionEnabled: false})

	rec := env.do(t, http.MethodPost, "/v1/runs", model.CreateRunRequest{Kind: "deploy"})
	runID := decodeData[model.RunResponse](t, rec).RunID

	rec = env.do(t, http.MethodPost, "/v1/runs/"+runID+"/advice", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	a := decodeData[model.Advice](t, rec)
	assert.Equal(t, "[deploy] state=HOLD exec_enabled=0", a.Summary)

	rec = env.do(t, http.MethodGet, "/v1/runs/"+runID+"/advice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeData[model.Advice](t, rec)
	assert.Equal(t, a.Summary, got.Summary)

	// Advice for a missing run is rejected, and the rejection is audited.
	rec = env.do(t, http.MethodPost, "/v1/runs/"+uuid.NewString()+"/advice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/runs/"+uuid.NewString()+"/advice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/events/summary?order=asc", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary struct {
		Count  int           `json:"count"`
		Order  string        `json:"order"`
		Events []audit.Event `json:"events"`
	}
	var env2 envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env2))
	require.NoError(t, json.Unmarshal(env2.Data, &summary))

	var kinds []audit.Kind
	for _, e := range summary.Events {
		kinds = append(kinds, e.Kind)
	}
	assert.Contains(t, kinds, audit.KindAdviceCreated)
	assert.Contains(t, kinds, audit.KindAdviceBlocked)
}

func TestEventsSummary(t *testing.T) {
	env := newTestEnv(t, policy.Snapshot{})

	for i := 0; i < 3; i++ {
		rec := env.do(t, http.MethodPost, "/v1/runs", model.CreateRunRequest{Kind: "deploy"})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/v1/events/summary?tail=2&order=desc", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary struct {
		Count int    `json:"count"`
		Order string `json:"order"`
	}
	var env2 envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env2))
	require.NoError(t, json.Unmarshal(env2.Data, &summary))
	assert.Equal(t, 2, summary.Count)
	assert.Equal(t, "desc", summary.Order)

	rec = env.do(t, http.MethodGet, "/v1/events/summary?order=sideways", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAssistEndpoint(t *testing.T) {
	env := newTestEnv(t, policy.Snapshot{})

	rec := env.do(t, http.MethodPost, "/v1/assist", map[string]any{
		"request_id": "req-1",
		"role":       "summarize",
		"prompt":     "should we ship the release",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		OK            bool     `json:"ok"`
		RequestID     string   `json:"request_id"`
		EvidenceCodes []string `json:"evidence_codes"`
	}
	var env2 envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env2))
	require.NoError(t, json.Unmarshal(env2.Data, &resp))
	assert.True(t, resp.OK)
	assert.Equal(t, "req-1", resp.RequestID)
	assert.Equal(t, []string{"CTX", "VAR", "GOAL"}, resp.EvidenceCodes)

	rec = env.do(t, http.MethodPost, "/v1/assist", map[string]any{"role": "summarize"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndStatus(t *testing.T) {
	env := newTestEnv(t, policy.Snapshot{})

	rec := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decodeData[model.HealthResponse](t, rec)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "test", health.Version)
	assert.Empty(t, health.Postgres, "file-backed advice storage reports no postgres")

	rec = env.do(t, http.MethodGet, "/status", nil, "X-Request-ID", "rid-42")
	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeData[model.StatusResponse](t, rec)
	assert.True(t, status.OK)
	assert.Equal(t, "rid-42", status.RID)
	assert.Equal(t, "rid-42", rec.Header().Get("X-Request-ID"))
}

func TestSecurityHeaders(t *testing.T) {
	env := newTestEnv(t, policy.Snapshot{})

	rec := env.do(t, http.MethodGet, "/status", nil)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestAuthFlow(t *testing.T) {
	apiKey := "0123456789abcdef0123456789abcdef"
	hash, err := auth.HashAPIKey(apiKey)
	require.NoError(t, err)

	jwtMgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)

	env := newTestEnv(t, policy.Snapshot{}, func(cfg *server.ServerConfig) {
		cfg.JWTMgr = jwtMgr
		cfg.APIKeyHash = hash
	})

	// Protected endpoints reject anonymous requests.
	rec := env.do(t, http.MethodPost, "/v1/runs", model.CreateRunRequest{Kind: "deploy"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// Probes stay open.
	rec = env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Wrong key is rejected.
	rec = env.do(t, http.MethodPost, "/auth/token", model.AuthTokenRequest{
		ClientID: "cli",
		APIKey:   "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Right key yields a token that opens the protected surface.
	rec = env.do(t, http.MethodPost, "/auth/token", model.AuthTokenRequest{
		ClientID: "cli",
		APIKey:   apiKey,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	tok := decodeData[model.AuthTokenResponse](t, rec)
	require.NotEmpty(t, tok.Token)

	rec = env.do(t, http.MethodPost, "/v1/runs", model.CreateRunRequest{Kind: "deploy"},
		"Authorization", "Bearer "+tok.Token)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/v1/runs", model.CreateRunRequest{Kind: "deploy"},
		"Authorization", "Bearer garbage")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOversizedBodyRejected(t *testing.T) {
	env := newTestEnv(t, policy.Snapshot{}, func(cfg *server.ServerConfig) {
		cfg.MaxRequestBodyBytes = 64
	})

	rec := env.do(t, http.MethodPost, "/v1/runs", model.CreateRunRequest{
		Kind:    "deploy",
		Payload: map[string]any{"blob": string(make([]byte, 256))},
	})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
