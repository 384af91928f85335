// Package file reads a fleet description from a YAML or JSON file.
//
// Example:
//
//	instances:
//	  - id: i-0abc
//	    state: stopped
//	    tags:
//	      Name: build-runner
//	      start-stop:start: "0 8 * * 1-5"
//	      start-stop:stop: "0 20 * * 1-5"
//
// The file is re-read on every listing. Start/stop requests are recorded in
// memory and override the file's state until the process exits.
package file

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	yaml "go.yaml.in/yaml/v3"

	"autostartstop/internal/inventory"
	"autostartstop/internal/reconcile"
	"autostartstop/internal/schedule"
	logx "autostartstop/pkg/logx"
)

type fleetFile struct {
	Instances []fleetInstance `yaml:"instances"`
}

type fleetInstance struct {
	ID    string            `yaml:"id"`
	State string            `yaml:"state"`
	Tags  map[string]string `yaml:"tags"`
}

type Provider struct {
	path string
	keys schedule.TagKeys
	log  logx.Logger

	mu        sync.Mutex
	overrides map[string]reconcile.PowerState
}

var _ inventory.Provider = (*Provider)(nil)

func Open(path string, keys schedule.TagKeys, log logx.Logger) (*Provider, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("file inventory: path is required")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("file inventory: %w", err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Provider{
		path:      path,
		keys:      keys,
		log:       log.With(logx.String("inventory", "file")),
		overrides: map[string]reconcile.PowerState{},
	}, nil
}

func (p *Provider) load() ([]inventory.Instance, error) {
	b, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("file inventory: %w", err)
	}
	// YAML is a superset of JSON, so one decoder serves both.
	var ff fleetFile
	if err := yaml.Unmarshal(b, &ff); err != nil {
		return nil, fmt.Errorf("file inventory: decode %s: %w", p.path, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]inventory.Instance, 0, len(ff.Instances))
	for _, fi := range ff.Instances {
		if strings.TrimSpace(fi.ID) == "" {
			return nil, fmt.Errorf("file inventory: instance without id in %s", p.path)
		}
		state := reconcile.ParsePowerState(fi.State)
		if o, ok := p.overrides[fi.ID]; ok {
			state = o
		}
		tags := fi.Tags
		if tags == nil {
			tags = map[string]string{}
		}
		out = append(out, inventory.Instance{ID: fi.ID, Tags: tags, State: state})
	}
	return out, nil
}

func (p *Provider) ListManagedInstances(ctx context.Context) ([]inventory.Instance, error) {
	all, err := p.load()
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, in := range all {
		if inventory.Managed(in.Tags, p.keys) {
			out = append(out, in)
		}
	}
	return out, nil
}

func (p *Provider) RequestStart(ctx context.Context, id string) error {
	return p.set(id, reconcile.StateRunning)
}

func (p *Provider) RequestStop(ctx context.Context, id string) error {
	return p.set(id, reconcile.StateStopped)
}

func (p *Provider) set(id string, to reconcile.PowerState) error {
	all, err := p.load()
	if err != nil {
		return err
	}
	found := false
	for _, in := range all {
		if in.ID == id {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("file inventory: %s: %w", id, inventory.ErrNotFound)
	}
	p.mu.Lock()
	p.overrides[id] = to
	p.mu.Unlock()
	p.log.Info("state recorded (file inventory is not written back)", logx.String("instance", id), logx.String("state", string(to)))
	return nil
}

func (p *Provider) Close() error { return nil }
