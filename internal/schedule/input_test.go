package schedule

import "testing"

func TestParseEnabled(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		present bool
		want    bool
	}{
		{raw: "", present: false, want: true},
		{raw: "Enabled", present: true, want: true},
		{raw: "YES", present: true, want: true},
		{raw: "1", present: true, want: true},
		{raw: "on", present: true, want: true},
		{raw: "True", present: true, want: true},
		{raw: "0", present: true, want: false},
		{raw: "disabled", present: true, want: false},
		{raw: "no", present: true, want: false},
		{raw: "", present: true, want: false},
	}
	for _, tt := range tests {
		if got := ParseEnabled(tt.raw, tt.present); got != tt.want {
			t.Fatalf("ParseEnabled(%q, %v) = %v, want %v", tt.raw, tt.present, got, tt.want)
		}
	}
}

func TestFromTags(t *testing.T) {
	t.Parallel()
	in, err := FromTags(map[string]string{
		"start-stop:start": " 0 8 * * * ",
		"start-stop:stop":  "0 20 * * *",
		"Environment":      "staging",
	}, TagKeys{})
	if err != nil {
		t.Fatalf("FromTags error: %v", err)
	}
	want := Input{Enabled: true, StartExpr: "0 8 * * *", StopExpr: "0 20 * * *", Environment: "staging"}
	if in != want {
		t.Fatalf("FromTags = %+v, want %+v", in, want)
	}

	in, err = FromTags(map[string]string{
		"start-stop:enable": "off",
		"start-stop:start":  "0 8 * * *",
		"start-stop:stop":   "",
	}, DefaultTagKeys())
	if err != nil {
		t.Fatalf("FromTags error: %v", err)
	}
	if in.Enabled || in.StopExpr != "" {
		t.Fatalf("FromTags = %+v, want disabled with empty stop", in)
	}
}

func TestFromTagsMissingKey(t *testing.T) {
	t.Parallel()
	_, err := FromTags(map[string]string{"start-stop:start": "0 8 * * *"}, TagKeys{})
	if KindOf(err) != MalformedInput {
		t.Fatalf("err = %v, want malformed input", err)
	}
}

func TestFromTagsCustomKeys(t *testing.T) {
	t.Parallel()
	keys := TagKeys{Start: "sched/on", Stop: "sched/off", Enable: "sched/enabled", Environment: "env"}
	in, err := FromTags(map[string]string{
		"sched/on":      "0 9 * * *",
		"sched/off":     "0 17 * * *",
		"sched/enabled": "YES",
		"env":           "PROD",
	}, keys)
	if err != nil {
		t.Fatalf("FromTags error: %v", err)
	}
	if !in.Enabled || in.StartExpr != "0 9 * * *" || in.Environment != "PROD" {
		t.Fatalf("FromTags = %+v", in)
	}
}

func TestNameOf(t *testing.T) {
	t.Parallel()
	if got := NameOf(map[string]string{"Name": "web-1"}, TagKeys{}); got != "web-1" {
		t.Fatalf("NameOf = %q", got)
	}
	if got := NameOf(map[string]string{}, TagKeys{}); got != "Unnamed" {
		t.Fatalf("NameOf = %q, want Unnamed", got)
	}
}
