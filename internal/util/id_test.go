package util

import (
	"strings"
	"testing"
	"time"
)

func TestNewIDPrefix(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{prefix: "post", want: "post_"},
		{prefix: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			id := NewID(tt.prefix)
			if !strings.HasPrefix(id, tt.want) {
				t.Fatalf("expected prefix %q, got %q", tt.want, id)
			}
			if got := len(strings.TrimPrefix(id, tt.want)); got != 28 {
				t.Fatalf("expected 28 id chars, got %d in %q", got, id)
			}
		})
	}
}

func TestNewIDSortsByTime(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	earlier := newIDAt("msg", base)
	later := newIDAt("msg", base.Add(time.Millisecond))
	if earlier >= later {
		t.Fatalf("expected %s < %s", earlier, later)
	}
	if newIDAt("msg", base) == earlier {
		t.Fatal("ids minted in the same millisecond must differ")
	}
}
