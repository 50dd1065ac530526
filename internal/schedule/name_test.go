package schedule

import (
	"strings"
	"testing"
)

func TestTriggerName(t *testing.T) {
	cases := []struct {
		name   string
		prefix string
		uuid   string
		want   string
	}{
		{
			name:   "plain prefix and uuid",
			prefix: "costplane-",
			uuid:   "3f2b8a1c-9d4e-4f6a-8b2c-1e5d7a9c3f0b",
			want:   "costplane-3f2b8a1c-9d4e-4f6a-8b2c-1e5d7a9c3f0b",
		},
		{
			name:   "disallowed run collapses to one separator",
			prefix: "cost plane//",
			uuid:   "3f2b8a1c-9d4e-4f6a-8b2c-1e5d7a9c3f0b",
			want:   "cost-plane-3f2b8a1c-9d4e-4f6a-8b2c-1e5d7a9c3f0b",
		},
		{
			name:   "leading and trailing separators trimmed",
			prefix: "  costplane-",
			uuid:   "3f2b8a1c-9d4e-4f6a-8b2c-1e5d7a9c3f0b",
			want:   "costplane-3f2b8a1c-9d4e-4f6a-8b2c-1e5d7a9c3f0b",
		},
		{
			name:   "dots and underscores survive",
			prefix: "cost_plane.v2-",
			uuid:   "3f2b8a1c-9d4e-4f6a-8b2c-1e5d7a9c3f0b",
			want:   "cost_plane.v2-3f2b8a1c-9d4e-4f6a-8b2c-1e5d7a9c3f0b",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := TriggerName(tc.prefix, tc.uuid)
			if got != tc.want {
				t.Fatalf("TriggerName(%q, %q) = %q, want %q", tc.prefix, tc.uuid, got, tc.want)
			}
		})
	}
}

func TestTriggerNameCapsLength(t *testing.T) {
	got := TriggerName(strings.Repeat("x", 80), "3f2b8a1c-9d4e-4f6a-8b2c-1e5d7a9c3f0b")
	if len(got) != maxTriggerNameLength {
		t.Fatalf("len = %d, want %d", len(got), maxTriggerNameLength)
	}
}

func TestTriggerNameDeterministic(t *testing.T) {
	a := TriggerName("costplane-", "3f2b8a1c-9d4e-4f6a-8b2c-1e5d7a9c3f0b")
	b := TriggerName("costplane-", "3f2b8a1c-9d4e-4f6a-8b2c-1e5d7a9c3f0b")
	if a != b {
		t.Fatalf("name not stable: %q vs %q", a, b)
	}
}
