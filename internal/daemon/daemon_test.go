package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"autostartstop/internal/inventory"
	"autostartstop/internal/reconcile"
	"autostartstop/internal/runner"
	"autostartstop/internal/schedule"
	logx "autostartstop/pkg/logx"
)

type fleet struct {
	mu      sync.Mutex
	state   map[string]reconcile.PowerState
	tags    map[string]map[string]string
	started []string
}

func newFleet() *fleet {
	return &fleet{
		state: map[string]reconcile.PowerState{"i-1": reconcile.StateStopped},
		tags: map[string]map[string]string{
			"i-1": {"start-stop:start": "0 12 * * *", "start-stop:stop": ""},
		},
	}
}

func (f *fleet) ListManagedInstances(ctx context.Context) ([]inventory.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []inventory.Instance
	for id, st := range f.state {
		out = append(out, inventory.Instance{ID: id, State: st, Tags: f.tags[id]})
	}
	return out, nil
}

func (f *fleet) RequestStart(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, id)
	f.state[id] = reconcile.StateRunning
	return nil
}

func (f *fleet) RequestStop(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state[id] = reconcile.StateStopped
	return nil
}

var noon = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func newDaemon(t *testing.T, f *fleet, opts Options) *Daemon {
	t.Helper()
	v := schedule.NewValidator(schedule.Policy{Location: time.UTC})
	r := runner.New(runner.Config{}, v, f, f, logx.Nop(), runner.WithClock(func() time.Time { return noon }))
	if opts.Cadence == "" {
		opts.Cadence = "*/10 * * * *"
	}
	d, err := New(opts, r, logx.Nop())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return d
}

func do(t *testing.T, srv *httptest.Server, method, path, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("%s %s: bad json %q", method, path, b)
	}
	return resp.StatusCode, out
}

func TestNewRejectsBadCadence(t *testing.T) {
	t.Parallel()
	v := schedule.NewValidator(schedule.Policy{})
	r := runner.New(runner.Config{}, v, newFleet(), newFleet(), logx.Nop())
	for _, c := range []string{"", "@every 10m", "not cron"} {
		if _, err := New(Options{Cadence: c}, r, logx.Nop()); err == nil {
			t.Fatalf("cadence %q accepted", c)
		}
	}
	if _, err := New(Options{Cadence: "*/10 * * * *"}, nil, logx.Nop()); err == nil {
		t.Fatal("nil runner accepted")
	}
}

func TestInvokeEndpoint(t *testing.T) {
	t.Parallel()
	f := newFleet()
	d := newDaemon(t, f, Options{})
	srv := httptest.NewServer(d.Handler())
	defer srv.Close()

	if code, _ := do(t, srv, http.MethodGet, "/runs/last", ""); code != http.StatusNotFound {
		t.Fatalf("last before any run = %d", code)
	}

	code, body := do(t, srv, http.MethodPost, "/invoke", `{"time":"2024-01-01T12:00:00Z","source":"aws.events"}`)
	if code != http.StatusOK || body["success"] != true {
		t.Fatalf("invoke = %d %v", code, body)
	}
	data := body["data"].(map[string]any)
	if data["started"].(float64) != 1 {
		t.Fatalf("report = %v", data)
	}
	if len(f.started) != 1 || f.started[0] != "i-1" {
		t.Fatalf("started = %v", f.started)
	}

	code, body = do(t, srv, http.MethodGet, "/runs/last", "")
	if code != http.StatusOK || body["data"].(map[string]any)["source"] != "http" {
		t.Fatalf("last = %d %v", code, body)
	}
}

func TestInvokeEndpointQueryTime(t *testing.T) {
	t.Parallel()
	d := newDaemon(t, newFleet(), Options{})
	srv := httptest.NewServer(d.Handler())
	defer srv.Close()

	code, body := do(t, srv, http.MethodPost, "/invoke?time=2024-01-01T12:00:00Z", "")
	if code != http.StatusOK {
		t.Fatalf("invoke = %d %v", code, body)
	}
}

func TestInvokeEndpointRejects(t *testing.T) {
	t.Parallel()
	d := newDaemon(t, newFleet(), Options{})
	srv := httptest.NewServer(d.Handler())
	defer srv.Close()

	tests := []struct {
		name, body string
		want       int
	}{
		{"missing time", `{}`, http.StatusBadRequest},
		{"empty body", ``, http.StatusBadRequest},
		{"garbage time", `{"time":"noon-ish"}`, http.StatusBadRequest},
		{"not json", `time=now`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := do(t, srv, http.MethodPost, "/invoke", tt.body)
			if code != tt.want || body["success"] != false {
				t.Fatalf("code = %d body = %v", code, body)
			}
		})
	}
	if d.Last() != nil {
		t.Fatal("rejected invocations must not be recorded")
	}
}

func TestInvokeBusy(t *testing.T) {
	t.Parallel()
	d := newDaemon(t, newFleet(), Options{})
	srv := httptest.NewServer(d.Handler())
	defer srv.Close()

	d.busy.Lock()
	defer d.busy.Unlock()
	if code, _ := do(t, srv, http.MethodPost, "/invoke", `{"time":"2024-01-01T12:00:00Z"}`); code != http.StatusConflict {
		t.Fatalf("code = %d, want 409", code)
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	d := newDaemon(t, newFleet(), Options{})
	srv := httptest.NewServer(d.Handler())
	defer srv.Close()

	code, body := do(t, srv, http.MethodGet, "/healthz", "")
	if code != http.StatusOK || body["status"] != "ok" || body["cadence"] != "*/10 * * * *" {
		t.Fatalf("healthz = %d %v", code, body)
	}
}

func TestTickUsesScheduledTime(t *testing.T) {
	t.Parallel()
	f := newFleet()
	d := newDaemon(t, f, Options{Location: time.UTC})
	d.now = func() time.Time { return time.Date(2024, 1, 1, 12, 3, 27, 0, time.UTC) }

	d.tick(context.Background())
	last := d.Last()
	if last == nil || last.Source != "cadence" {
		t.Fatalf("last = %+v", last)
	}
	if !last.Report.Trigger.Equal(noon) {
		t.Fatalf("trigger = %s, want the 12:00 tick", last.Report.Trigger)
	}
	if last.Report.Started != 1 {
		t.Fatalf("report = %+v", last.Report)
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	f := newFleet()
	v := schedule.NewValidator(schedule.Policy{Location: time.UTC})
	r := runner.New(runner.Config{}, v, f, f, logx.Nop())
	d, err := New(Options{Cadence: "* * * * * *", Listen: "127.0.0.1:0", Location: time.UTC}, r, logx.NewJSON(&buf, "info"))
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if err := d.Start(context.Background()); err == nil {
		t.Fatal("second Start should fail")
	}

	resp, err := http.Get("http://" + d.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("healthz over the listener: %v", err)
	}
	resp.Body.Close()

	deadline := time.Now().Add(5 * time.Second)
	for d.Last() == nil && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	last := d.Last()
	if last == nil || last.Source != "cadence" {
		t.Fatalf("no cadence run recorded: %+v", last)
	}
	if last.Report.Trigger.Nanosecond() != 0 {
		t.Fatalf("trigger %s is not a scheduled boundary", last.Report.Trigger)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
	select {
	case <-d.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
	if !strings.Contains(buf.String(), "daemon started") {
		t.Fatalf("log = %s", buf.String())
	}
}
