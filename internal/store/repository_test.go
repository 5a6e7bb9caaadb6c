package store

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/immotopia/rental-finance-service/internal/domain"
)

func TestTruncateReason(t *testing.T) {
	short := "renderer timeout"
	if got := truncateReason(short); got != short {
		t.Fatalf("expected short reason untouched, got %q", got)
	}

	// 1999 ASCII bytes followed by a 2-byte rune straddles the limit.
	straddling := strings.Repeat("a", maxReasonBytes-1) + "é" + "tail"
	got := truncateReason(straddling)
	if !utf8.ValidString(got) {
		t.Fatal("truncated reason is not valid UTF-8")
	}
	if len(got) != maxReasonBytes-1 {
		t.Fatalf("expected cut before the split rune at %d bytes, got %d", maxReasonBytes-1, len(got))
	}

	long := strings.Repeat("€", maxReasonBytes)
	got = truncateReason(long)
	if !utf8.ValidString(got) || len(got) > maxReasonBytes {
		t.Fatalf("expected valid reason within %d bytes, got %d bytes", maxReasonBytes, len(got))
	}

	if got := truncateReason("bad\xffbyte"); got != "badbyte" {
		t.Fatalf("expected invalid bytes dropped, got %q", got)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want domain.Kind
	}{
		{"no rows", pgx.ErrNoRows, domain.KindNotFound},
		{"bad uuid", &pgconn.PgError{Code: pgInvalidTextFormat}, domain.KindNotFound},
		{"check violation", &pgconn.PgError{Code: pgCheckViolation, ConstraintName: "installments_amount_paid_check"}, domain.KindInvalidState},
		{"serialization failure", fmt.Errorf("commit: %w", &pgconn.PgError{Code: pgSerialization}), domain.KindConcurrencyConflict},
		{"deadlock", &pgconn.PgError{Code: pgDeadlock}, domain.KindConcurrencyConflict},
		{"domain error kept", domain.AlreadyExists("op", "dup"), domain.KindAlreadyExists},
		{"anything else", errors.New("connection refused"), domain.KindFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := domain.KindOf(classify("store.test", "row", tt.err)); got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !isUniqueViolation(fmt.Errorf("insert document: %w", &pgconn.PgError{Code: pgUniqueViolation})) {
		t.Fatal("expected wrapped 23505 to be a unique violation")
	}
	if isUniqueViolation(&pgconn.PgError{Code: pgCheckViolation}) || isUniqueViolation(errors.New("boom")) {
		t.Fatal("expected only 23505 to be a unique violation")
	}
}
