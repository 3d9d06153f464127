package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
)

func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := New()
	id1, err := gen.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	id2, err := gen.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	if id1 == id2 {
		t.Fatalf("expected unique IDs, got %s and %s", id1, id2)
	}
	parsed, err := goUUID.Parse(id1)
	if err != nil {
		t.Fatalf("id1 not valid UUID: %v", err)
	}
	if parsed.Version() != 7 {
		t.Fatalf("expected UUIDv7, got v%d", parsed.Version())
	}
}

func TestGeneratorNewRawID(t *testing.T) {
	t.Parallel()

	id, err := New().NewRawID()
	if err != nil {
		t.Fatalf("NewRawID() error = %v", err)
	}
	if id == goUUID.Nil {
		t.Fatal("expected non-nil UUID")
	}
}
