package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseTags(t *testing.T) {
	t.Parallel()
	got, err := parseTags([]string{"Name=web", "start-stop:start=0 8 * * 1-5", "start-stop:stop=", "a=b=c"})
	if err != nil {
		t.Fatalf("parseTags error: %v", err)
	}
	want := map[string]string{"Name": "web", "start-stop:start": "0 8 * * 1-5", "start-stop:stop": "", "a": "b=c"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("%s = %q, want %q", k, got[k], v)
		}
	}
	for _, bad := range []string{"novalue", "=x"} {
		if _, err := parseTags([]string{bad}); err == nil {
			t.Fatalf("%q accepted", bad)
		}
	}
}

func TestCadenceBoundary(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 1, 1, 12, 7, 31, 0, time.UTC)
	got, err := cadenceBoundary("*/10 * * * *", now)
	if err != nil {
		t.Fatalf("cadenceBoundary error: %v", err)
	}
	if got != "2024-01-01T12:00:00Z" {
		t.Fatalf("got %s", got)
	}
	if _, err := cadenceBoundary("@every 5m", now); err == nil {
		t.Fatal("@every accepted")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	env := filepath.Join(dir, "test.env")
	if err := os.WriteFile(env, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCheckCommand(t *testing.T) {
	t.Parallel()
	cfg := writeConfig(t, "timezone: UTC\nlogging:\n  console: false\n")
	env := filepath.Join(filepath.Dir(cfg), "test.env")

	out, err := execute(t, "--config", cfg, "--env-file", env, "check",
		"--start", "0 8 * * *", "--stop", "0 20 * * *", "--at", "2024-01-01T08:00:00Z", "--state", "stopped")
	if err != nil {
		t.Fatalf("check error: %v\n%s", err, out)
	}
	var res checkResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("bad json: %v\n%s", err, out)
	}
	if !res.Valid || res.Mode != "both" || res.Uptime != "12h0m0s" || res.Decision == nil || res.Decision.Action != "start" {
		t.Fatalf("result = %+v decision = %+v", res, res.Decision)
	}

	out, err = execute(t, "--config", cfg, "--env-file", env, "check", "--start", "5 8 * * *")
	if err == nil || !strings.Contains(out, `"valid": false`) {
		t.Fatalf("off-step schedule: err = %v\n%s", err, out)
	}
}

func TestFleetPutAndRun(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg := writeConfig(t, "timezone: UTC\nlogging:\n  console: false\ninventory:\n  driver: sqlite\n  path: "+filepath.Join(dir, "fleet.db")+"\n")
	env := filepath.Join(filepath.Dir(cfg), "test.env")

	if out, err := execute(t, "--config", cfg, "--env-file", env, "fleet", "put", "i-1", "--state", "stopped",
		"--tag", "start-stop:start=0 12 * * *", "--tag", "start-stop:stop="); err != nil {
		t.Fatalf("fleet put: %v\n%s", err, out)
	}

	out, err := execute(t, "--config", cfg, "--env-file", env, "run", "--trigger-time", "2024-01-01T12:00:00Z", "--dry-run")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	var rep struct {
		Inspected int `json:"inspected"`
		DryRun    int `json:"dry_run"`
	}
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("bad json: %v\n%s", err, out)
	}
	if rep.Inspected != 1 || rep.DryRun != 1 {
		t.Fatalf("report = %+v", rep)
	}

	if _, err := execute(t, "--config", cfg, "--env-file", env, "run"); err == nil {
		t.Fatal("run without a trigger accepted")
	}
}
