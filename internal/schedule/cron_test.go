package schedule

import (
	"testing"
	"time"
)

func TestParseExprVariants(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"*/10 * * * *", "0 0 8 * * *", "@hourly", "CRON_TZ=UTC 0 8 * * *"} {
		if _, err := ParseExpr(raw); err != nil {
			t.Fatalf("ParseExpr(%q) error: %v", raw, err)
		}
	}
	for _, raw := range []string{"", "@every 10m", "x y z"} {
		if _, err := ParseExpr(raw); err == nil {
			t.Fatalf("ParseExpr(%q) expected error", raw)
		}
	}
}

func TestPrevNext(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		expr string
		ref  string
		prev string
		next string
	}{
		{name: "hourly mid", expr: "0 * * * *", ref: "2024-05-05T10:30:00Z", prev: "2024-05-05T10:00:00Z", next: "2024-05-05T11:00:00Z"},
		{name: "exact match", expr: "*/10 * * * *", ref: "2024-05-05T10:30:00Z", prev: "2024-05-05T10:30:00Z", next: "2024-05-05T10:40:00Z"},
		{name: "sub-second ref", expr: "*/10 * * * *", ref: "2024-05-05T10:30:00.5Z", prev: "2024-05-05T10:30:00Z", next: "2024-05-05T10:40:00Z"},
		{name: "monthly", expr: "0 0 1 * *", ref: "2024-05-15T00:00:00Z", prev: "2024-05-01T00:00:00Z", next: "2024-06-01T00:00:00Z"},
		{name: "yearly", expr: "@yearly", ref: "2024-05-15T00:00:00Z", prev: "2024-01-01T00:00:00Z", next: "2025-01-01T00:00:00Z"},
		{name: "leap day", expr: "0 0 29 2 *", ref: "2025-01-01T00:00:00Z", prev: "2024-02-29T00:00:00Z", next: "2028-02-29T00:00:00Z"},
		{name: "seconds field", expr: "30 0 8 * * *", ref: "2024-05-05T08:00:29Z", prev: "2024-05-04T08:00:30Z", next: "2024-05-05T08:00:30Z"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e, err := ParseExpr(tt.expr)
			if err != nil {
				t.Fatalf("ParseExpr error: %v", err)
			}
			ref, err := time.Parse(time.RFC3339Nano, tt.ref)
			if err != nil {
				t.Fatal(err)
			}
			occ, err := e.occurrences(ref, time.UTC)
			if err != nil {
				t.Fatalf("occurrences error: %v", err)
			}
			if want := at(tt.prev); !occ.Prev.Equal(want) {
				t.Fatalf("Prev = %s, want %s", occ.Prev, want)
			}
			if want := at(tt.next); !occ.Next.Equal(want) {
				t.Fatalf("Next = %s, want %s", occ.Next, want)
			}
		})
	}
}

func TestPrevImpossibleDate(t *testing.T) {
	t.Parallel()
	e, err := ParseExpr("0 0 31 2 *")
	if err != nil {
		t.Fatalf("ParseExpr error: %v", err)
	}
	if _, err := e.Prev(at("2024-01-01T00:00:00Z")); err == nil {
		t.Fatal("expected error for a date that never occurs")
	}
}

func TestMinuteAligned(t *testing.T) {
	t.Parallel()
	tests := []struct {
		expr string
		step int
		want bool
	}{
		{"0 8 * * *", 10, true},
		{"*/10 * * * *", 10, true},
		{"*/20 * * * *", 10, true},
		{"*/5 * * * *", 10, false},
		{"*/5 * * * *", 5, true},
		{"7 8 * * *", 1, true},
		{"@daily", 10, true},
		{"* * * * *", 10, false},
	}
	for _, tt := range tests {
		e, err := ParseExpr(tt.expr)
		if err != nil {
			t.Fatalf("ParseExpr(%q) error: %v", tt.expr, err)
		}
		if got := e.MinuteAligned(tt.step); got != tt.want {
			t.Fatalf("MinuteAligned(%q, %d) = %v, want %v", tt.expr, tt.step, got, tt.want)
		}
	}
}
