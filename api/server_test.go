package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"webcamctl"
)

const listing = `
                     brightness 0x00980900 (int)    : min=-64 max=64 step=1 default=0 value=0
        white_balance_automatic 0x0098090c (bool)   : default=1 value=1
      white_balance_temperature 0x0098091a (int)    : min=2800 max=6500 step=1 default=4600 value=4600
                  zoom_absolute 0x009a090d (int)    : min=0 max=100 step=1 default=0 value=50
`

type fakeTool struct {
	mu       sync.Mutex
	writes   []string
	failList bool
	failSet  bool
}

func (f *fakeTool) Execute(ctx context.Context, argv []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch argv[len(argv)-1] {
	case "-l":
		if f.failList {
			return "", &webcamctl.ExecutionError{Argv: argv, ExitCode: 1, Stderr: "Cannot open device"}
		}
		return listing, nil
	}
	if f.failSet {
		return "", &webcamctl.ExecutionError{Argv: argv, ExitCode: 255, Stderr: "Invalid argument"}
	}
	f.writes = append(f.writes, argv[len(argv)-1])
	return "", nil
}

func (f *fakeTool) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

type fileCapturer struct {
	data []byte
}

func (fc *fileCapturer) Capture(ctx context.Context, outputPath string) error {
	return os.WriteFile(outputPath, fc.data, 0644)
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeTool, *webcamctl.Controller) {
	t.Helper()
	tool := &fakeTool{}
	controller := webcamctl.NewController(webcamctl.Device{Tool: "v4l2-ctl", Path: "/dev/video0"}, tool)
	if err := controller.Reload(context.Background()); err != nil {
		t.Fatal(err)
	}
	registry := prometheus.NewRegistry()
	exec := webcamctl.InstrumentExecutor(tool, webcamctl.NewMetrics(registry))
	exec.Execute(context.Background(), []string{"v4l2-ctl", "-l"})

	s := New(controller, &fileCapturer{data: []byte("\xff\xd8frame")}, Options{
		SnapshotPath: filepath.Join(t.TempDir(), "preview.jpg"),
		Gatherer:     registry,
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		s.Shutdown(context.Background())
	})
	return srv, tool, controller
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestGetControls(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp := do(t, "GET", srv.URL+"/control/api/v1/controls", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var states []ControlState
	if err := json.NewDecoder(resp.Body).Decode(&states); err != nil {
		t.Fatal(err)
	}
	if len(states) != 4 {
		t.Fatalf("expected 4 controls, got %+v", states)
	}
	byName := map[string]ControlState{}
	for _, s := range states {
		byName[s.Name] = s
	}
	if zoom := byName["zoom_absolute"]; zoom.Position != 0.5 || !zoom.Enabled || zoom.Max != 100 {
		t.Errorf("unexpected zoom state %+v", zoom)
	}
	if byName["white_balance_temperature"].Enabled {
		t.Error("temperature must be reported disabled while auto is on")
	}
}

func TestGetControl(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp := do(t, "GET", srv.URL+"/control/api/v1/controls/brightness", "")
	var state ControlState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		t.Fatal(err)
	}
	if state.Min != -64 || state.Position != 0.5 {
		t.Errorf("unexpected brightness %+v", state)
	}
	if resp := do(t, "GET", srv.URL+"/control/api/v1/controls/focus_absolute", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unavailable control status %d, want 404", resp.StatusCode)
	}
}

func TestPutControl(t *testing.T) {
	srv, tool, _ := newTestServer(t)
	resp := do(t, "PUT", srv.URL+"/control/api/v1/controls/zoom_absolute", `{"position": 0.25}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var state ControlState
	json.NewDecoder(resp.Body).Decode(&state)
	if state.Value != 25 {
		t.Errorf("response value %d, want 25", state.Value)
	}
	if w := tool.written(); len(w) != 1 || w[0] != "zoom_absolute=25" {
		t.Fatalf("writes %v", w)
	}

	cases := []struct {
		path, body string
		status     int
	}{
		{"/controls/zoom_absolute", `{}`, http.StatusBadRequest},
		{"/controls/zoom_absolute", `not json`, http.StatusBadRequest},
		{"/controls/focus_absolute", `{"position": 0.5}`, http.StatusNotFound},
		{"/controls/white_balance_temperature", `{"position": 0.5}`, http.StatusConflict},
	}
	for _, tc := range cases {
		if resp := do(t, "PUT", srv.URL+"/control/api/v1"+tc.path, tc.body); resp.StatusCode != tc.status {
			t.Errorf("PUT %s %s: status %d, want %d", tc.path, tc.body, resp.StatusCode, tc.status)
		}
	}
	if len(tool.written()) != 1 {
		t.Errorf("rejected requests wrote to device: %v", tool.written())
	}
}

func TestPutControlToolFailure(t *testing.T) {
	srv, tool, _ := newTestServer(t)
	tool.mu.Lock()
	tool.failSet = true
	tool.mu.Unlock()
	resp := do(t, "PUT", srv.URL+"/control/api/v1/controls/brightness", `{"position": 1}`)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status %d, want 502", resp.StatusCode)
	}
	var e ErrorResponse
	json.NewDecoder(resp.Body).Decode(&e)
	if !strings.Contains(e.Error, "Invalid argument") {
		t.Errorf("error body %q", e.Error)
	}
}

func TestPutAutoControlMovesInterlock(t *testing.T) {
	srv, tool, controller := newTestServer(t)
	resp := do(t, "PUT", srv.URL+"/control/api/v1/controls/white_balance_automatic", `{"position": 0}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if !controller.Enabled("white_balance_temperature") {
		t.Fatal("auto off through PUT must release the interlock")
	}
	if resp := do(t, "PUT", srv.URL+"/control/api/v1/controls/white_balance_temperature", `{"position": 1}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("temperature status %d", resp.StatusCode)
	}
	if resp := do(t, "PUT", srv.URL+"/control/api/v1/controls/white_balance_automatic", `{"position": 1}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if resp := do(t, "PUT", srv.URL+"/control/api/v1/controls/white_balance_temperature", `{"position": 0}`); resp.StatusCode != http.StatusConflict {
		t.Errorf("temperature in auto mode status %d, want 409", resp.StatusCode)
	}
	expected := []string{"white_balance_automatic=0", "white_balance_temperature=6500", "white_balance_automatic=1"}
	w := tool.written()
	if len(w) != len(expected) {
		t.Fatalf("writes %v, want %v", w, expected)
	}
	for i := range expected {
		if w[i] != expected[i] {
			t.Fatalf("writes %v, want %v", w, expected)
		}
	}
}

// always loses to a newer request
type supersededControls struct {
	*webcamctl.Controller
}

func (sc supersededControls) CommitValue(ctx context.Context, name string, pos float64) (int64, bool, error) {
	control, ok := sc.Control(name)
	if !ok {
		return 0, false, webcamctl.ErrUnknownControl
	}
	return control.ValueAt(pos), false, nil
}

func TestPutControlSuperseded(t *testing.T) {
	tool := &fakeTool{}
	controller := webcamctl.NewController(webcamctl.Device{Tool: "v4l2-ctl", Path: "/dev/video0"}, tool)
	if err := controller.Reload(context.Background()); err != nil {
		t.Fatal(err)
	}
	s := New(supersededControls{controller}, nil, Options{Gatherer: prometheus.NewRegistry()})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		s.Shutdown(context.Background())
	})

	resp := do(t, "PUT", srv.URL+"/control/api/v1/controls/zoom_absolute", `{"position": 0.9}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var state ControlState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		t.Fatal(err)
	}
	if !state.Superseded || state.Value != 50 {
		t.Errorf("superseded response must keep the listed value, got %+v", state)
	}
}

func TestPutSwitchUnlocksDependent(t *testing.T) {
	srv, tool, controller := newTestServer(t)
	resp := do(t, "PUT", srv.URL+"/control/api/v1/controls/white_balance_automatic/switch", `{"enabled": false}`)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if !controller.Enabled("white_balance_temperature") {
		t.Fatal("switch did not release interlock")
	}
	if resp := do(t, "PUT", srv.URL+"/control/api/v1/controls/white_balance_temperature", `{"position": 0}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	expected := []string{"white_balance_automatic=0", "white_balance_temperature=2800"}
	if w := tool.written(); len(w) != 2 || w[0] != expected[0] || w[1] != expected[1] {
		t.Fatalf("writes %v, want %v", w, expected)
	}
	if resp := do(t, "PUT", srv.URL+"/control/api/v1/controls/white_balance_automatic/switch", `{}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing field status %d", resp.StatusCode)
	}
}

func TestPostReload(t *testing.T) {
	srv, tool, controller := newTestServer(t)
	if resp := do(t, "POST", srv.URL+"/control/api/v1/reload", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	tool.mu.Lock()
	tool.failList = true
	tool.mu.Unlock()
	if resp := do(t, "POST", srv.URL+"/control/api/v1/reload", ""); resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("failed reload status %d, want 502", resp.StatusCode)
	}
	if len(controller.Table()) != 4 {
		t.Error("failed reload dropped the table")
	}
}

func TestPostSnapshot(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp := do(t, "POST", srv.URL+"/control/api/v1/snapshot", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("content type %q", ct)
	}
}

// writes its frame in two steps so readers can observe a partial file
type slowCapturer struct {
	data []byte
}

func (sc *slowCapturer) Capture(ctx context.Context, outputPath string) error {
	f, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer f.Close()
	half := len(sc.data) / 2
	if _, err := f.Write(sc.data[:half]); err != nil {
		return err
	}
	time.Sleep(10 * time.Millisecond)
	_, err = f.Write(sc.data[half:])
	return err
}

func TestConcurrentSnapshotsServeWholeFrames(t *testing.T) {
	tool := &fakeTool{}
	controller := webcamctl.NewController(webcamctl.Device{Tool: "v4l2-ctl", Path: "/dev/video0"}, tool)
	frame := []byte(strings.Repeat("\xff\xd8frame-data", 512))
	s := New(controller, &slowCapturer{data: frame}, Options{
		SnapshotPath: filepath.Join(t.TempDir(), "preview.jpg"),
		Gatherer:     prometheus.NewRegistry(),
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		s.Shutdown(context.Background())
	})

	var wg sync.WaitGroup
	sizes := make(chan int, 6)
	for i := 0; i < cap(sizes); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := http.Post(srv.URL+"/control/api/v1/snapshot", "", nil)
			if err != nil {
				sizes <- -1
				return
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			sizes <- len(body)
		}()
	}
	wg.Wait()
	close(sizes)
	for n := range sizes {
		if n != len(frame) {
			t.Errorf("snapshot response has %d bytes, want %d", n, len(frame))
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp := do(t, "GET", srv.URL+"/metrics", "")
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), `webcamctl_commands_total{result="ok",tool="v4l2-ctl"} 1`) {
		t.Errorf("metrics missing command counter:\n%s", body)
	}
}

func TestEventWebsocket(t *testing.T) {
	srv, _, controller := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/control/api/v1/event/websocket"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var initial struct {
		Type string         `json:"type"`
		Data []ControlState `json:"data"`
	}
	if err := conn.ReadJSON(&initial); err != nil {
		t.Fatal(err)
	}
	if initial.Type != "controls" || len(initial.Data) != 4 {
		t.Fatalf("unexpected initial message %+v", initial)
	}

	// the hub registers the client asynchronously; keep committing until an event arrives
	received := make(chan webcamctl.Event, 1)
	go func() {
		var msg struct {
			Type string          `json:"type"`
			Data webcamctl.Event `json:"data"`
		}
		if err := conn.ReadJSON(&msg); err == nil && msg.Type == "event" {
			received <- msg.Data
		}
		close(received)
	}()
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		if err := controller.Commit(context.Background(), "zoom_absolute", 0.75); err != nil {
			t.Fatal(err)
		}
		select {
		case ev, ok := <-received:
			if !ok {
				t.Fatal("websocket closed without event")
			}
			if ev.Type != webcamctl.EventCommitted || ev.Control != "zoom_absolute" || ev.Value != 75 {
				t.Fatalf("unexpected event %+v", ev)
			}
			return
		case <-ticker.C:
		}
	}
}
