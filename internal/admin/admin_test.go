package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/apphost-dev/apphost/host"
)

type deposit struct {
	Account string `json:"account"`
	Amount  int64  `json:"amount"`
}

type capturingRouter struct {
	lastOpts host.DispatchOptions
	lastCmd  any
}

func (r *capturingRouter) Dispatch(_ context.Context, command any, opts host.DispatchOptions) (any, error) {
	r.lastCmd = command
	r.lastOpts = opts
	return map[string]any{"ok": true}, nil
}

func newTestServer(t *testing.T) (*Server, *host.Host, *capturingRouter) {
	t.Helper()
	router := &capturingRouter{}
	h := host.New(host.Options{})
	def := host.Definition{
		Name: "banking",
		Adapters: map[host.Slot]host.AdapterSpec{
			host.SlotEventLog: {Provider: "memory"},
			host.SlotPubSub:   {Provider: "memory"},
			host.SlotRegistry: {Provider: "memory", Settings: map[string]any{"shard": 1}},
		},
		Router: router,
	}
	if _, err := h.Start(context.Background(), def, host.StartOptions{Name: "t1"}); err != nil {
		t.Fatalf("start: %v", err)
	}

	decoders := map[string]CommandDecoder{
		"banking": func(commandType string, fields json.RawMessage) (any, error) {
			if commandType != "deposit" {
				return nil, fmt.Errorf("unknown command type %q", commandType)
			}
			var cmd deposit
			if err := json.Unmarshal(fields, &cmd); err != nil {
				return nil, err
			}
			return cmd, nil
		},
	}
	return New(h, nil, decoders, nil), h, router
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) response {
	t.Helper()
	var resp response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp := decode(t, rec); resp.Status != "success" {
		t.Errorf("status = %q", resp.Status)
	}
}

func TestListInstances(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/instances", nil))

	resp := decode(t, rec)
	if resp.Status != "success" {
		t.Fatalf("status = %q", resp.Status)
	}
	list, ok := resp.Data.([]any)
	if !ok || len(list) != 1 {
		t.Fatalf("data = %#v", resp.Data)
	}
	first := list[0].(map[string]any)
	if first["identity"] != "t1" || first["application"] != "banking" {
		t.Errorf("instance = %v", first)
	}
}

func TestGetConfig(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/instances/t1/config", nil))

	resp := decode(t, rec)
	if resp.Status != "success" {
		t.Fatalf("status = %q, body = %s", resp.Status, rec.Body)
	}
	cfg := resp.Data.(map[string]any)
	if cfg["application"] != "banking" || cfg["identity"] != "t1" {
		t.Errorf("config = %v", cfg)
	}

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/instances/ghost/config", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("ghost status = %d", rec.Code)
	}
}

func TestResolveAdapter(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/instances/t1/adapters/registry", nil))
	resp := decode(t, rec)
	if resp.Status != "success" {
		t.Fatalf("status = %q", resp.Status)
	}
	spec := resp.Data.(map[string]any)
	if spec["provider"] != "memory" {
		t.Errorf("spec = %v", spec)
	}

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/instances/t1/adapters/cache", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown slot status = %d", rec.Code)
	}
}

func TestDispatch(t *testing.T) {
	srv, _, router := newTestServer(t)

	body := `{"type":"deposit","fields":{"account":"acc-1","amount":25}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/instances/t1/dispatch?timeout=5s&returning=execution_result", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	resp := decode(t, rec)
	if resp.Status != "success" {
		t.Fatalf("status = %q, body = %s", resp.Status, rec.Body)
	}
	cmd, ok := router.lastCmd.(deposit)
	if !ok || cmd.Account != "acc-1" || cmd.Amount != 25 {
		t.Errorf("command = %#v", router.lastCmd)
	}
	if router.lastOpts.Application != "t1" {
		t.Errorf("application = %q", router.lastOpts.Application)
	}
	if router.lastOpts.Timeout != 5*time.Second {
		t.Errorf("timeout = %v", router.lastOpts.Timeout)
	}
	if router.lastOpts.Returning != host.ReturnExecutionResult {
		t.Errorf("returning = %q", router.lastOpts.Returning)
	}
}

func TestDispatchInfiniteTimeout(t *testing.T) {
	srv, _, router := newTestServer(t)

	body := `{"type":"deposit","fields":{}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/instances/t1/dispatch?timeout=infinite", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if resp := decode(t, rec); resp.Status != "success" {
		t.Fatalf("status = %q", resp.Status)
	}
	if !router.lastOpts.Infinite {
		t.Error("infinite timeout not propagated")
	}
}

func TestDispatchValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)

	tests := []struct {
		name   string
		target string
		body   string
		status int
	}{
		{"bad json", "/v1/instances/t1/dispatch", `{`, http.StatusBadRequest},
		{"missing type", "/v1/instances/t1/dispatch", `{"fields":{}}`, http.StatusBadRequest},
		{"bad timeout", "/v1/instances/t1/dispatch?timeout=soon", `{"type":"deposit"}`, http.StatusBadRequest},
		{"bad consistency", "/v1/instances/t1/dispatch?consistency=quorum", `{"type":"deposit"}`, http.StatusBadRequest},
		{"bad returning", "/v1/instances/t1/dispatch?returning=everything", `{"type":"deposit"}`, http.StatusBadRequest},
		{"unknown command", "/v1/instances/t1/dispatch", `{"type":"transmogrify"}`, http.StatusBadRequest},
		{"unknown instance", "/v1/instances/ghost/dispatch", `{"type":"deposit"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.target, strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			srv.Router().ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.status, rec.Body)
			}
		})
	}
}

func TestDispatchAfterStop(t *testing.T) {
	srv, h, _ := newTestServer(t)
	if err := h.Stop(context.Background(), host.Handle{Identity: "t1"}, time.Second); err != nil {
		t.Fatalf("stop: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/instances/t1/dispatch", strings.NewReader(`{"type":"deposit"}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
