package usage

import (
	"path/filepath"
	"testing"
)

func TestGetFamilyClassifiesKnownPrefixes(t *testing.T) {
	cases := map[string]string{
		"claude-opus-4-5":    "claude",
		"claude-sonnet-4-5":  "claude",
		"gemini-2.0-flash":   "gemini",
		"gemini-1.5-pro-002": "gemini",
		"some-other-model":   "other",
	}
	for model, want := range cases {
		if got := GetFamily(model); got != want {
			t.Fatalf("GetFamily(%q) = %q, want %q", model, got, want)
		}
	}
}

func TestGetShortNameStripsFamilyPrefix(t *testing.T) {
	if got := GetShortName("claude-opus-4-5", "claude"); got != "opus-4-5" {
		t.Fatalf("expected opus-4-5, got %q", got)
	}
	if got := GetShortName("gemini-2.0-flash", "gemini"); got != "2.0-flash" {
		t.Fatalf("expected 2.0-flash, got %q", got)
	}
	if got := GetShortName("some-other-model", "other"); got != "some-other-model" {
		t.Fatalf("expected unchanged name for family 'other', got %q", got)
	}
}

func TestTrackAccumulatesCountsForCurrentHour(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "usage-history.json"), nil)

	s.Track("claude-opus-4-5")
	s.Track("claude-opus-4-5")
	s.Track("gemini-2.0-flash")

	history := s.History()
	if len(history) != 1 {
		t.Fatalf("expected exactly one hour bucket, got %d", len(history))
	}
	for _, bucket := range history {
		if bucket.Total != 3 {
			t.Fatalf("expected total 3, got %d", bucket.Total)
		}
		claude, ok := bucket.Families["claude"]
		if !ok || claude.Subtotal != 2 || claude.Models["opus-4-5"] != 2 {
			t.Fatalf("expected claude subtotal 2 with opus-4-5=2, got %+v", claude)
		}
		gemini, ok := bucket.Families["gemini"]
		if !ok || gemini.Subtotal != 1 || gemini.Models["2.0-flash"] != 1 {
			t.Fatalf("expected gemini subtotal 1 with 2.0-flash=1, got %+v", gemini)
		}
	}
}

func TestTrackPersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage-history.json")
	s := New(path, nil)
	s.Track("claude-sonnet-4-5")

	reloaded := New(path, nil)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	history := reloaded.History()
	if len(history) != 1 {
		t.Fatalf("expected one bucket after reload, got %d", len(history))
	}
}

func TestLoadMissingFileIsNotError(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "does-not-exist.json"), nil)
	if err := s.Load(); err != nil {
		t.Fatalf("expected no error loading missing file, got %v", err)
	}
}

func TestSortedHistoryKeysAreChronological(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "usage-history.json"), nil)
	s.buckets["2025-01-01T05"] = &HourlyStats{Families: make(map[string]*FamilyStats)}
	s.buckets["2025-01-01T02"] = &HourlyStats{Families: make(map[string]*FamilyStats)}
	s.buckets["2025-01-01T09"] = &HourlyStats{Families: make(map[string]*FamilyStats)}

	keys := s.SortedHistoryKeys()
	for i := 1; i < len(keys); i++ {
		if keys[i-1] > keys[i] {
			t.Fatalf("expected sorted keys, got %v", keys)
		}
	}
}
