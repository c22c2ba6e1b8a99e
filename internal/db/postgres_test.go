package db

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "appointments_booked_slot_key"})

	if !IsUniqueViolation(err, "") {
		t.Fatal("expected any unique violation to match")
	}
	if !IsUniqueViolation(err, "appointments_booked_slot_key") {
		t.Fatal("expected named constraint to match")
	}
	if IsUniqueViolation(err, "appointments_day_token_key") {
		t.Fatal("different constraint must not match")
	}
	if IsUniqueViolation(errors.New("boom"), "") {
		t.Fatal("plain error must not match")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}, "") {
		t.Fatal("foreign key violation must not match")
	}
}

func TestSchemaDeclaresInvariantIndexes(t *testing.T) {
	for _, idx := range []string{
		"appointments_booked_slot_key",
		"appointments_day_token_key",
		"appointments_in_consultation_key",
		"affiliations_pair_key",
	} {
		if !strings.Contains(schema, idx) {
			t.Fatalf("schema is missing index %s", idx)
		}
	}
}

func TestSchemaFacilitiesCarryNoZone(t *testing.T) {
	_, rest, ok := strings.Cut(schema, "CREATE TABLE IF NOT EXISTS facilities (")
	if !ok {
		t.Fatal("schema is missing the facilities table")
	}
	table, _, _ := strings.Cut(rest, ");")
	if strings.Contains(table, "timezone") {
		t.Fatalf("facilities declares a zone column nothing reads:\n%s", table)
	}
	if !strings.Contains(schema, "ALTER TABLE facilities DROP COLUMN IF EXISTS timezone") {
		t.Fatal("existing databases keep the stale zone column")
	}
}
