package auth

import (
	"context"
	"testing"
)

func TestParseRefreshPartsFull(t *testing.T) {
	parts := ParseRefreshParts("rt-abc|proj-1|managed-1")
	if parts.RefreshToken != "rt-abc" || parts.ProjectID != "proj-1" || parts.ManagedProjectID != "managed-1" {
		t.Fatalf("unexpected parse result: %+v", parts)
	}
}

func TestParseRefreshPartsTokenOnly(t *testing.T) {
	parts := ParseRefreshParts("rt-abc")
	if parts.RefreshToken != "rt-abc" || parts.ProjectID != "" || parts.ManagedProjectID != "" {
		t.Fatalf("unexpected parse result: %+v", parts)
	}
}

func TestFormatRefreshPartsRoundTrip(t *testing.T) {
	original := RefreshParts{RefreshToken: "rt-abc", ProjectID: "proj-1", ManagedProjectID: "managed-1"}
	composite := FormatRefreshParts(original)
	parsed := ParseRefreshParts(composite)
	if parsed != original {
		t.Fatalf("round trip mismatch: got %+v, want %+v", parsed, original)
	}
}

func TestFormatRefreshPartsNoManagedProject(t *testing.T) {
	composite := FormatRefreshParts(RefreshParts{RefreshToken: "rt-abc", ProjectID: "proj-1"})
	if composite != "rt-abc|proj-1" {
		t.Fatalf("expected no trailing segment, got %q", composite)
	}
}

func TestRefreshAccessTokenRejectsEmptyToken(t *testing.T) {
	_, err := RefreshAccessToken(context.Background(), "")
	if err == nil {
		t.Fatalf("expected error for empty refresh token")
	}
}
