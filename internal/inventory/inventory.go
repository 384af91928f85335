// Package inventory defines the fleet collaborators the runner consumes:
// listing managed instances and requesting power-state changes.
//
// Drivers live in subpackages:
//   - ec2: AWS EC2 (tag-filtered DescribeInstances, Start/StopInstances)
//   - sqlite: a local fleet database, useful for dry runs and demos
//   - file: a read-only YAML/JSON fleet file with in-memory state changes
package inventory

import (
	"context"
	"errors"
	"sort"

	"autostartstop/internal/reconcile"
	"autostartstop/internal/schedule"
)

var ErrNotFound = errors.New("instance not found")

// Instance is one inventory entry.
type Instance struct {
	ID    string               `json:"id"`
	Tags  map[string]string    `json:"tags"`
	State reconcile.PowerState `json:"state"`
}

// Lister enumerates instances carrying both the start and stop tag keys.
type Lister interface {
	ListManagedInstances(ctx context.Context) ([]Instance, error)
}

// Actuator requests power-state changes. Calls return once the request is
// accepted; they do not wait for the transition to complete.
type Actuator interface {
	RequestStart(ctx context.Context, id string) error
	RequestStop(ctx context.Context, id string) error
}

// Provider is a complete inventory driver.
type Provider interface {
	Lister
	Actuator
	Close() error
}

// Managed reports whether tags carry both schedule tag keys.
func Managed(tags map[string]string, keys schedule.TagKeys) bool {
	if keys.Start == "" {
		keys.Start = schedule.DefaultStartTag
	}
	if keys.Stop == "" {
		keys.Stop = schedule.DefaultStopTag
	}
	_, okStart := tags[keys.Start]
	_, okStop := tags[keys.Stop]
	return okStart && okStop
}

// SortByID orders instances by ID, for stable output.
func SortByID(in []Instance) {
	sort.Slice(in, func(i, j int) bool { return in[i].ID < in[j].ID })
}
