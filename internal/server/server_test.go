package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/flowpad-ai/flowpad/internal/config"
	"github.com/flowpad-ai/flowpad/internal/engine"
	"github.com/flowpad-ai/flowpad/internal/registry"
	"github.com/flowpad-ai/flowpad/internal/scratchpad"
	"github.com/flowpad-ai/flowpad/internal/server"
	"github.com/flowpad-ai/flowpad/pkg/sandbox"
)

// scriptedRuntime serves canned responses for the handlers under test.
type scriptedRuntime struct {
	runOutput string
	runErr    error
	startID   string
	statuses  []sandbox.Status
	statusIdx int
}

func (s *scriptedRuntime) ImageExists(context.Context, string) (bool, error) { return true, nil }
func (s *scriptedRuntime) BuildImage(context.Context, string, string) error  { return nil }

func (s *scriptedRuntime) RunOneShot(context.Context, sandbox.RunSpec) (string, error) {
	return s.runOutput, s.runErr
}

func (s *scriptedRuntime) StartDetached(context.Context, sandbox.RunSpec) (string, error) {
	return s.startID, nil
}

func (s *scriptedRuntime) Status(context.Context, string) (sandbox.Status, error) {
	if len(s.statuses) == 0 {
		return sandbox.StatusUnknown, nil
	}
	i := s.statusIdx
	if i >= len(s.statuses) {
		i = len(s.statuses) - 1
	}
	s.statusIdx++
	return s.statuses[i], nil
}

func (s *scriptedRuntime) Stop(context.Context, string) error   { return nil }
func (s *scriptedRuntime) Remove(context.Context, string) error { return nil }
func (s *scriptedRuntime) Close() error                         { return nil }

func newTestServer(t *testing.T, rt sandbox.Runtime) *httptest.Server {
	t.Helper()

	reg, err := registry.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	t.Cleanup(func() { reg.Close() })

	pad, err := scratchpad.New(filepath.Join(t.TempDir(), "scratchpad"))
	if err != nil {
		t.Fatalf("scratchpad.New: %v", err)
	}

	eng := engine.New(engine.Config{
		Image:         "flowpad-sandbox",
		ScratchpadDir: pad.Path(),
	}, rt, reg)
	eng.Sleep = func(context.Context, time.Duration) error { return nil }

	cfg := &config.Config{ServerAddr: ":0", SandboxImage: "flowpad-sandbox"}
	srv := httptest.NewServer(server.New(cfg, eng, pad).Router())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return v
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &scriptedRuntime{})

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d; want 200", resp.StatusCode)
	}
}

func TestRunCommand(t *testing.T) {
	srv := newTestServer(t, &scriptedRuntime{runOutput: "3.12.0\n"})

	resp := postJSON(t, srv.URL+"/api/commands", map[string]any{
		"argv": []string{"python", "--version"},
	})
	body := decode[struct {
		Output string `json:"output"`
		OK     bool   `json:"ok"`
	}](t, resp)

	if !body.OK {
		t.Errorf("ok = false; want true")
	}
	if body.Output != "3.12.0\n" {
		t.Errorf("output = %q; want the captured output", body.Output)
	}
}

func TestRunCommand_EmptyArgvIsSoftFailure(t *testing.T) {
	srv := newTestServer(t, &scriptedRuntime{})

	resp := postJSON(t, srv.URL+"/api/commands", map[string]any{"argv": []string{}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d; want 200 (soft-fail contract)", resp.StatusCode)
	}
	body := decode[struct {
		Output string `json:"output"`
		OK     bool   `json:"ok"`
	}](t, resp)
	if body.OK {
		t.Error("ok = true; want false")
	}
	if !strings.Contains(body.Output, "Failed to run command") {
		t.Errorf("output = %q; want failure text", body.Output)
	}
}

func TestStartAndListServices(t *testing.T) {
	rt := &scriptedRuntime{
		startID:  "svc-abc",
		statuses: []sandbox.Status{sandbox.StatusRunning},
	}
	srv := newTestServer(t, rt)

	resp := postJSON(t, srv.URL+"/api/services", map[string]any{
		"argv": []string{"sleep", "100"},
	})
	body := decode[struct {
		Message     string `json:"message"`
		ContainerID string `json:"container_id"`
		OK          bool   `json:"ok"`
	}](t, resp)

	if !body.OK {
		t.Fatalf("start failed: %q", body.Message)
	}
	if body.ContainerID != "svc-abc" {
		t.Errorf("container_id = %q; want svc-abc", body.ContainerID)
	}

	listResp, err := http.Get(srv.URL + "/api/services")
	if err != nil {
		t.Fatalf("GET /api/services: %v", err)
	}
	services := decode[[]struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}](t, listResp)
	if len(services) != 1 || services[0].ID != "svc-abc" {
		t.Errorf("services = %+v; want one entry svc-abc", services)
	}
	if services[0].Status != "running" {
		t.Errorf("status = %q; want running", services[0].Status)
	}
}

func TestStopService(t *testing.T) {
	rt := &scriptedRuntime{
		statuses: []sandbox.Status{sandbox.StatusRunning, sandbox.StatusExited},
	}
	srv := newTestServer(t, rt)

	resp := postJSON(t, srv.URL+"/api/services/abc/stop", struct{}{})
	body := decode[struct {
		Message string `json:"message"`
		OK      bool   `json:"ok"`
	}](t, resp)
	if !body.OK {
		t.Fatalf("stop failed: %q", body.Message)
	}
	if !strings.Contains(body.Message, "abc") {
		t.Errorf("message = %q; want the container ID", body.Message)
	}
}

func TestScriptCRUD(t *testing.T) {
	srv := newTestServer(t, &scriptedRuntime{})

	// Create.
	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/api/scripts/tool.py",
		strings.NewReader(`{"body":"print('hi')\n"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT status = %d; want 200", resp.StatusCode)
	}

	// Read back.
	getResp, err := http.Get(srv.URL + "/api/scripts/tool.py")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	var buf bytes.Buffer
	buf.ReadFrom(getResp.Body)
	getResp.Body.Close()
	if got := buf.String(); got != "print('hi')\n" {
		t.Errorf("GET body = %q; want the script", got)
	}

	// List.
	listResp, err := http.Get(srv.URL + "/api/scripts")
	if err != nil {
		t.Fatalf("GET list: %v", err)
	}
	names := decode[[]string](t, listResp)
	if len(names) != 1 || names[0] != "tool.py" {
		t.Errorf("list = %v; want [tool.py]", names)
	}

	// Delete.
	delReq, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/scripts/tool.py", nil)
	delResp, err := http.DefaultClient.Do(delReq)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusNoContent {
		t.Errorf("DELETE status = %d; want 204", delResp.StatusCode)
	}

	// Gone.
	goneResp, err := http.Get(srv.URL + "/api/scripts/tool.py")
	if err != nil {
		t.Fatalf("GET after delete: %v", err)
	}
	goneResp.Body.Close()
	if goneResp.StatusCode != http.StatusNotFound {
		t.Errorf("GET after delete status = %d; want 404", goneResp.StatusCode)
	}
}

func TestGetScript_Missing(t *testing.T) {
	srv := newTestServer(t, &scriptedRuntime{})

	resp, err := http.Get(srv.URL + "/api/scripts/nope.py")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d; want 404", resp.StatusCode)
	}
}
