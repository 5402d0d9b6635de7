package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/goleak"
	"go.uber.org/zap"

	"structurecraft.ai/internal/app"
	"structurecraft.ai/internal/config"
	"structurecraft.ai/internal/llm"
	"structurecraft.ai/internal/transport/mcp"
	"structurecraft.ai/internal/transport/ws"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const tower = `{"palette":{"S":"stone_brick"},"structure":[{"actions":[{"type":"fill","block":"S","from":[0,0,0],"to":[0,3,0]}]}]}`

func newTestServer(t *testing.T) (*httptest.Server, *app.App) {
	t.Helper()
	cfg := config.Defaults()
	cfg.Storage.Dir = t.TempDir()
	a, err := app.Open(cfg, zap.NewNop(), app.Options{Generator: llm.Static{Content: "```json\n" + tower + "\n```"}})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	wsSrv := ws.NewServer(a.Pipeline, a.World, zap.NewNop())
	mcpSrv, err := mcp.NewServer(mcp.Config{Pipeline: a.Pipeline, Store: a.Store, World: a.World})
	if err != nil {
		t.Fatalf("mcp: %v", err)
	}
	hs := httptest.NewServer(newHandler(a, wsSrv, mcpSrv))
	t.Cleanup(func() {
		http.DefaultClient.CloseIdleConnections()
		hs.Close()
		wsSrv.Close()
		_ = a.Close()
	})
	return hs, a
}

func do(t *testing.T, method, url, body string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b
}

func TestBuildAndScriptsLifecycle(t *testing.T) {
	hs, a := newTestServer(t)

	status, body := do(t, http.MethodPost, hs.URL+"/v1/build", `{"prompt":"a tower","origin":[0,64,0]}`)
	if status != http.StatusOK {
		t.Fatalf("build status=%d body=%s", status, body)
	}
	var br buildResponse
	if err := json.Unmarshal(body, &br); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if br.BuildID == "" || !strings.HasSuffix(br.Name, "_a_tower") || br.Stats.Writes != 4 || br.Stats.Diagnostics != 1 {
		t.Fatalf("build=%+v", br)
	}
	if a.World.Count() != 4 {
		t.Fatalf("world count=%d", a.World.Count())
	}

	status, body = do(t, http.MethodGet, hs.URL+"/v1/scripts?limit=99", "")
	if status != http.StatusOK || !strings.Contains(string(body), br.Name) {
		t.Fatalf("list status=%d body=%s", status, body)
	}

	status, body = do(t, http.MethodGet, hs.URL+"/v1/scripts/"+br.Name, "")
	if status != http.StatusOK || !strings.Contains(string(body), `"stone_brick"`) {
		t.Fatalf("get status=%d body=%s", status, body)
	}

	status, _ = do(t, http.MethodDelete, hs.URL+"/v1/scripts/"+br.Name, "")
	if status != http.StatusNoContent {
		t.Fatalf("delete status=%d", status)
	}
	status, body = do(t, http.MethodGet, hs.URL+"/v1/scripts/"+br.Name, "")
	if status != http.StatusNotFound || !strings.Contains(string(body), "E_NOT_FOUND") {
		t.Fatalf("get deleted status=%d body=%s", status, body)
	}
}

func TestBuildFailures(t *testing.T) {
	hs, _ := newTestServer(t)
	cases := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"bad json", `{"prompt":`, http.StatusBadRequest, "E_BAD_REQUEST"},
		{"no source", `{"origin":[0,0,0]}`, http.StatusBadRequest, "E_BAD_REQUEST"},
		{"schema", `{"script":{"palette":{}}}`, http.StatusUnprocessableEntity, "E_SCHEMA_MISMATCH"},
		{"malformed", `{"script":"not json at all"}`, http.StatusUnprocessableEntity, "E_MALFORMED_DOCUMENT"},
		{"empty", `{"script":{"palette":{},"structure":null}}`, http.StatusUnprocessableEntity, "E_EMPTY_SCRIPT"},
		{"missing name", `{"script_name":"nope"}`, http.StatusNotFound, "E_NOT_FOUND"},
		{"too large", `{"script":{"palette":{"S":"stone"},"structure":[{"actions":[{"type":"fill","block":"S","from":[0,0,0],"to":[999,999,999]}]}]}}`, http.StatusRequestEntityTooLarge, "E_TOO_LARGE"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := do(t, http.MethodPost, hs.URL+"/v1/build", tc.body)
			if status != tc.status {
				t.Fatalf("status=%d want %d body=%s", status, tc.status, body)
			}
			var er errorResponse
			if err := json.Unmarshal(body, &er); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if er.Code != tc.code {
				t.Fatalf("code=%s want %s", er.Code, tc.code)
			}
			if tc.code != "E_BAD_REQUEST" && !strings.HasPrefix(er.Message, "build failed: ") {
				t.Fatalf("message=%q", er.Message)
			}
		})
	}
}

func TestWorldHealthAndMetrics(t *testing.T) {
	hs, a := newTestServer(t)
	if status, body := do(t, http.MethodPost, hs.URL+"/v1/build", `{"script":`+tower+`}`); status != http.StatusOK {
		t.Fatalf("build status=%d body=%s", status, body)
	}

	status, body := do(t, http.MethodGet, hs.URL+"/v1/world", "")
	if status != http.StatusOK {
		t.Fatalf("world status=%d", status)
	}
	var wr worldResponse
	if err := json.Unmarshal(body, &wr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if wr.Voxels != 4 || wr.Digest != a.World.Digest() || wr.CatalogDigest != a.Catalog.PaletteDigest {
		t.Fatalf("world=%+v", wr)
	}

	if status, body := do(t, http.MethodGet, hs.URL+"/healthz", ""); status != http.StatusOK || string(body) != "ok" {
		t.Fatalf("healthz status=%d body=%s", status, body)
	}

	_, body = do(t, http.MethodGet, hs.URL+"/metrics", "")
	for _, want := range []string{"p2s_world_voxels 4", "p2s_world_writes_total 4", `p2s_index_dropped_total{kind="build"} 0`} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[string]int{
		"E_BAD_REQUEST":        400,
		"E_NOT_FOUND":          404,
		"E_TOO_LARGE":          413,
		"E_MALFORMED_DOCUMENT": 422,
		"E_LLM":                502,
		"E_BUSY":               429,
		"E_INTERNAL":           500,
	}
	for code, want := range cases {
		if got := statusFor(code); got != want {
			t.Fatalf("statusFor(%s)=%d want %d", code, got, want)
		}
	}
}

func TestMCPMounted(t *testing.T) {
	hs, _ := newTestServer(t)
	status, body := do(t, http.MethodPost, hs.URL+"/mcp", `{"jsonrpc":"2.0","id":7,"method":"list_tools"}`)
	if status != http.StatusOK || !strings.Contains(string(body), "p2s.build") {
		t.Fatalf("mcp status=%d body=%s", status, body)
	}
}
