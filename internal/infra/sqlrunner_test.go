package infra

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestExtractMarker(t *testing.T) {
	marker := "0b0f4c1e-1f8a-4d0e-9a9c-3f6f0e3f1a11"
	query := "--sql " + marker + "\nSELECT 1"

	got, trimmed, err := extractMarker(query)
	if err != nil {
		t.Fatalf("extractMarker error: %v", err)
	}
	if got != marker {
		t.Fatalf("marker = %q, want %q", got, marker)
	}
	if trimmed != "SELECT 1" {
		t.Fatalf("trimmed = %q", trimmed)
	}
}

func TestExtractMarkerRejectsMissingMarker(t *testing.T) {
	for _, q := range []string{"SELECT 1", "--sql not-a-uuid\nSELECT 1", ""} {
		if _, _, err := extractMarker(q); err == nil {
			t.Fatalf("expected error for %q", q)
		}
	}
}

func TestIsNoRows(t *testing.T) {
	if !IsNoRows(fmt.Errorf("wrapped: %w", pgx.ErrNoRows)) {
		t.Fatalf("wrapped ErrNoRows not detected")
	}
	if IsNoRows(fmt.Errorf("other")) {
		t.Fatalf("unexpected match")
	}
}

func TestExtractMarkerKeepsMultilineBody(t *testing.T) {
	query := "\n  --sql 0b0f4c1e-1f8a-4d0e-9a9c-3f6f0e3f1a11\nselect id\nfrom jobs\n"
	_, stmt, err := extractMarker(query)
	if err != nil {
		t.Fatalf("extractMarker error: %v", err)
	}
	if stmt != "select id\nfrom jobs" {
		t.Fatalf("stmt = %q", stmt)
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "serialization failure", err: &pgconn.PgError{Code: "40001"}, want: true},
		{name: "admin shutdown", err: fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "57P01"}), want: true},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505"}, want: false},
		{name: "no rows", err: pgx.ErrNoRows, want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTransient(tc.err); got != tc.want {
				t.Fatalf("IsTransient(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
