package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"

	"github.com/relabs-tech/grip_recorder/internal/catalog"
	"github.com/relabs-tech/grip_recorder/internal/config"
	"github.com/relabs-tech/grip_recorder/internal/motion"
	"github.com/relabs-tech/grip_recorder/internal/readings"
	"github.com/relabs-tech/grip_recorder/internal/recording"
)

// fakeToken is an already-completed mqtt.Token.
type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{topic, qos, retained, payload.([]byte)})
	return newFakeToken(nil)
}

func TestMQTTReporter(t *testing.T) {
	pub := &fakePublisher{}
	cfg := config.Default()
	rep := NewMQTTReporter(pub, cfg)

	rep.OnEvent(recording.Event{SessionID: "s1", State: recording.Arming, Time: time.Now(), Message: "arming sensor"})
	res := &recording.Result{SessionID: "s1", State: recording.Idle, Retained: 12, Persisted: true}
	rep.OnEvent(recording.Event{SessionID: "s1", State: recording.Idle, Time: time.Now(), Result: res})

	if len(pub.msgs) != 3 {
		t.Fatalf("published %d messages, want 3", len(pub.msgs))
	}
	if m := pub.msgs[0]; m.topic != "grip/status" || m.retained || m.qos != 0 {
		t.Errorf("status message = %+v", m)
	}
	var e recording.Event
	if err := json.Unmarshal(pub.msgs[1].payload, &e); err != nil {
		t.Fatal(err)
	}
	if e.State != recording.Idle || e.Result != nil {
		t.Errorf("terminal status = %+v, want idle without embedded result", e)
	}
	m := pub.msgs[2]
	if m.topic != "grip/result" || !m.retained || m.qos != 1 {
		t.Errorf("result message = %+v", m)
	}
	var got recording.Result
	if err := json.Unmarshal(m.payload, &got); err != nil {
		t.Fatal(err)
	}
	if got.Retained != 12 || !got.Persisted || got.State != recording.Idle {
		t.Errorf("result = %+v", got)
	}
}

func TestFormatResult(t *testing.T) {
	ok := &recording.Result{SessionID: "abc", State: recording.Idle, Params: recording.Params{DistanceCM: 100, SpeedMPS: 0.1},
		Retained: 5, NonNumeric: 2, Persisted: true, Artifact: readings.Artifact{Path: "readings/x.csv"}}
	if s := formatResult(ok); !strings.HasPrefix(s, "[DONE]") || !strings.Contains(s, "file=readings/x.csv") {
		t.Errorf("formatResult(ok) = %q", s)
	}
	if s := formatResult(ok); !strings.Contains(s, "kept=5 non_numeric=2 ") {
		t.Errorf("formatResult(ok) = %q, want kept and non_numeric counts", s)
	}
	failed := &recording.Result{SessionID: "abc", State: recording.Failed, Cause: "motor: serial not connected"}
	if s := formatResult(failed); !strings.HasPrefix(s, "[FAIL]") || !strings.Contains(s, "serial not connected") {
		t.Errorf("formatResult(failed) = %q", s)
	}
	st := formatStatus(recording.Event{SessionID: "0123456789", State: recording.Waiting, Message: "waiting 11s"})
	if !strings.Contains(st, "waiting") || !strings.Contains(st, "01234567 ") {
		t.Errorf("formatStatus = %q", st)
	}
}

type fakeRunner struct {
	mu      sync.Mutex
	err     error
	params  []recording.Params
	aborted bool
}

func (f *fakeRunner) Go(_ context.Context, p recording.Params) (string, <-chan *recording.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", nil, f.err
	}
	f.params = append(f.params, p)
	done := make(chan *recording.Result, 1)
	done <- &recording.Result{SessionID: "run-1", State: recording.Idle}
	return "run-1", done, nil
}

func (f *fakeRunner) Abort() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted = true
	return true
}

func (f *fakeRunner) State() recording.State { return recording.Idle }

type fakeLister struct{ entries []catalog.Entry }

func (f *fakeLister) List(_ context.Context, limit int) ([]catalog.Entry, error) {
	if limit > 0 && limit < len(f.entries) {
		return f.entries[:limit], nil
	}
	return f.entries, nil
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestRunEndpoint(t *testing.T) {
	runs := &fakeRunner{}
	api := NewServer(context.Background(), runs, NewHub(), nil)
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	resp := post(t, srv.URL+"/api/run", `{"distance_cm": 100, "speed_mps": 0.1, "direction": "reverse"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["session_id"] != "run-1" {
		t.Errorf("body = %v", body)
	}
	api.Wait()

	if resp := post(t, srv.URL+"/api/run", `{"distance_cm": 10, "speed_mps": 0.5, "direction": 1}`); resp.StatusCode != http.StatusAccepted {
		t.Errorf("numeric direction status = %d", resp.StatusCode)
	}
	runs.mu.Lock()
	if len(runs.params) != 2 || runs.params[0].Direction != motion.Reverse || runs.params[1].Direction != motion.Forward {
		t.Errorf("params = %+v", runs.params)
	}
	runs.mu.Unlock()

	if resp := post(t, srv.URL+"/api/run", `{"distance_cm": 10, "speed_mps": 0.5, "direction": "up"}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad direction status = %d, want 400", resp.StatusCode)
	}
	if resp := post(t, srv.URL+"/api/run", `not json`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad body status = %d, want 400", resp.StatusCode)
	}
}

func TestRunEndpointErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{recording.ErrValidation, http.StatusBadRequest},
		{recording.ErrBusy, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		api := NewServer(context.Background(), &fakeRunner{err: tt.err}, NewHub(), nil)
		srv := httptest.NewServer(api.Handler())
		resp := post(t, srv.URL+"/api/run", `{"distance_cm": 1, "speed_mps": 0.1}`)
		if resp.StatusCode != tt.want {
			t.Errorf("%v: status = %d, want %d", tt.err, resp.StatusCode, tt.want)
		}
		srv.Close()
	}
}

func TestAbortStatusRuns(t *testing.T) {
	runs := &fakeRunner{}
	hub := NewHub()
	lister := &fakeLister{entries: []catalog.Entry{{SessionID: "a"}, {SessionID: "b"}}}
	srv := httptest.NewServer(NewServer(context.Background(), runs, hub, lister).Handler())
	defer srv.Close()

	if resp := post(t, srv.URL+"/api/abort", ``); resp.StatusCode != http.StatusOK {
		t.Errorf("abort status = %d", resp.StatusCode)
	}
	if !runs.aborted {
		t.Error("Abort not forwarded")
	}

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	var e recording.Event
	_ = json.NewDecoder(resp.Body).Decode(&e)
	resp.Body.Close()
	if e.State != recording.Idle {
		t.Errorf("status before any run = %+v", e)
	}

	hub.OnEvent(recording.Event{SessionID: "s", State: recording.Moving})
	resp, err = http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	_ = json.NewDecoder(resp.Body).Decode(&e)
	resp.Body.Close()
	if e.State != recording.Moving || e.SessionID != "s" {
		t.Errorf("status = %+v, want latest event", e)
	}

	resp, err = http.Get(srv.URL + "/api/runs?limit=1")
	if err != nil {
		t.Fatal(err)
	}
	var entries []catalog.Entry
	_ = json.NewDecoder(resp.Body).Decode(&entries)
	resp.Body.Close()
	if len(entries) != 1 || entries[0].SessionID != "a" {
		t.Errorf("runs = %+v", entries)
	}

	resp, err = http.Get(srv.URL + "/api/runs?limit=x")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", resp.StatusCode)
	}
}

func TestRunsWithoutCatalog(t *testing.T) {
	srv := httptest.NewServer(NewServer(context.Background(), &fakeRunner{}, NewHub(), nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/runs")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestWebsocketStream(t *testing.T) {
	hub := NewHub()
	hub.OnEvent(recording.Event{SessionID: "s", State: recording.Arming})
	srv := httptest.NewServer(NewServer(context.Background(), &fakeRunner{}, hub, nil).Handler())
	defer srv.Close()
	defer hub.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/status"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var e recording.Event
	if err := conn.ReadJSON(&e); err != nil {
		t.Fatalf("read last event: %v", err)
	}
	if e.State != recording.Arming {
		t.Errorf("first event = %+v, want the latest one replayed", e)
	}

	// wait for the client to be registered before broadcasting
	deadline := time.Now().Add(time.Second)
	for hub.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	hub.OnEvent(recording.Event{SessionID: "s", State: recording.Stopping})
	if err := conn.ReadJSON(&e); err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	if e.State != recording.Stopping {
		t.Errorf("broadcast = %+v", e)
	}
}

func simConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.MotorBootDelay = 0
	cfg.MotorSettle = 20 * time.Millisecond
	cfg.MotionMinFloor = 150 * time.Millisecond
	cfg.MotionMargin = 10 * time.Millisecond
	cfg.ReadingsDir = filepath.Join(dir, "readings")
	cfg.CatalogPath = filepath.Join(dir, "readings", "catalog.db")
	return cfg
}

func TestRunRecorderSimulated(t *testing.T) {
	cfg := simConfig(t)
	var out bytes.Buffer

	res, err := RunRecorder(context.Background(), cfg, recording.Params{DistanceCM: 1, SpeedMPS: 0.5, Direction: motion.Forward}, &out)
	if err != nil {
		t.Fatalf("RunRecorder: %v", err)
	}
	if !res.Persisted || res.Retained == 0 {
		t.Fatalf("Result = %+v, want persisted samples", res)
	}
	if _, err := os.Stat(res.Artifact.Path); err != nil {
		t.Errorf("artifact missing: %v", err)
	}
	recs, err := readings.Read(res.Artifact.Path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(recs) != res.Retained {
		t.Errorf("artifact rows = %d, want %d", len(recs), res.Retained)
	}
	if !strings.Contains(out.String(), "[DONE]") {
		t.Errorf("output = %q", out.String())
	}

	var listed []catalog.Entry
	if err := ListRuns(context.Background(), cfg, 10, func(e catalog.Entry) { listed = append(listed, e) }); err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(listed) != 1 || listed[0].SessionID != res.SessionID {
		t.Errorf("catalog = %+v", listed)
	}
}

func TestRunRecorderRejectsBeforeConnecting(t *testing.T) {
	cfg := simConfig(t)
	_, err := RunRecorder(context.Background(), cfg, recording.Params{DistanceCM: -1, SpeedMPS: 0.5}, &bytes.Buffer{})
	if !errors.Is(err, recording.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
	if _, err := os.Stat(cfg.CatalogPath); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("catalog touched on a rejected run: %v", err)
	}
}

func TestRunMonitorSimulated(t *testing.T) {
	cfg := simConfig(t)
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	var out bytes.Buffer
	if err := RunMonitor(ctx, cfg, &out); err != nil {
		t.Fatalf("RunMonitor: %v", err)
	}
	if !strings.Contains(out.String(), "numeric") {
		t.Errorf("output = %q, want numeric readings", out.String())
	}
}
