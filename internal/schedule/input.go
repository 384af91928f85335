package schedule

import "strings"

// Default tag keys recognized on an instance.
const (
	DefaultEnableTag      = "start-stop:enable"
	DefaultStartTag       = "start-stop:start"
	DefaultStopTag        = "start-stop:stop"
	DefaultEnvironmentTag = "Environment"
	DefaultNameTag        = "Name"
)

// TagKeys names the instance tags the schedule is read from.
type TagKeys struct {
	Enable      string
	Start       string
	Stop        string
	Environment string
	Name        string
}

func DefaultTagKeys() TagKeys {
	return TagKeys{
		Enable:      DefaultEnableTag,
		Start:       DefaultStartTag,
		Stop:        DefaultStopTag,
		Environment: DefaultEnvironmentTag,
		Name:        DefaultNameTag,
	}
}

func (k TagKeys) withDefaults() TagKeys {
	d := DefaultTagKeys()
	if strings.TrimSpace(k.Enable) == "" {
		k.Enable = d.Enable
	}
	if strings.TrimSpace(k.Start) == "" {
		k.Start = d.Start
	}
	if strings.TrimSpace(k.Stop) == "" {
		k.Stop = d.Stop
	}
	if strings.TrimSpace(k.Environment) == "" {
		k.Environment = d.Environment
	}
	if strings.TrimSpace(k.Name) == "" {
		k.Name = d.Name
	}
	return k
}

// Input is the typed view of an instance's schedule attributes.
type Input struct {
	Enabled     bool
	StartExpr   string
	StopExpr    string
	Environment string
}

// truthy values for the enable tag, compared lowercase.
var truthy = map[string]struct{}{
	"enabled": {},
	"yes":     {},
	"true":    {},
	"1":       {},
	"on":      {},
}

// ParseEnabled resolves the enable flag. A missing flag means enabled; a present
// flag is enabled only if it is one of the truthy values (case-insensitive).
func ParseEnabled(raw string, present bool) bool {
	if !present {
		return true
	}
	_, ok := truthy[strings.ToLower(strings.TrimSpace(raw))]
	return ok
}

// FromTags maps an instance's raw tag set onto an Input.
//
// Both the start and the stop tag keys must exist (their values may be empty);
// inventories are expected to list only such instances.
func FromTags(tags map[string]string, keys TagKeys) (Input, error) {
	keys = keys.withDefaults()

	start, okStart := tags[keys.Start]
	stop, okStop := tags[keys.Stop]
	if !okStart || !okStop {
		missing := keys.Start
		if okStart {
			missing = keys.Stop
		}
		return Input{}, newError(MalformedInput, "tags", "problem reading the tag values: missing "+missing, nil)
	}

	enable, hasEnable := tags[keys.Enable]
	return Input{
		Enabled:     ParseEnabled(enable, hasEnable),
		StartExpr:   strings.TrimSpace(start),
		StopExpr:    strings.TrimSpace(stop),
		Environment: strings.TrimSpace(tags[keys.Environment]),
	}, nil
}

// NameOf returns the display name tag or "Unnamed".
func NameOf(tags map[string]string, keys TagKeys) string {
	keys = keys.withDefaults()
	if n := strings.TrimSpace(tags[keys.Name]); n != "" {
		return n
	}
	return "Unnamed"
}
