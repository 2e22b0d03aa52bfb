package schema

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseIdentity(t *testing.T) {
	id := testIdentity(0xAB)
	parsed, err := ParseIdentity(id.String())
	if err != nil {
		t.Fatalf("ParseIdentity failed: %v", err)
	}
	if parsed != id {
		t.Errorf("Expected %s, got %s", id, parsed)
	}

	if _, err := ParseIdentity("zzzz"); err == nil {
		t.Error("Expected error for non-hex input")
	}
	if _, err := ParseIdentity(strings.Repeat("ab", 16)); err == nil {
		t.Error("Expected error for short input")
	}
}

func TestIdentityJSONRoundTrip(t *testing.T) {
	id := testIdentity(7)
	data, err := json.Marshal(id)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var out Identity
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if out != id {
		t.Errorf("Expected %s, got %s", id, out)
	}
}

func TestDeriveRecordKey(t *testing.T) {
	owner := testIdentity(1)
	guardian := testIdentity(2)

	key := DeriveRecordKey(owner, guardian)
	if key != DeriveRecordKey(owner, guardian) {
		t.Error("Derivation is not deterministic")
	}

	// The pair is ordered, so a swapped pair addresses a different record.
	if key == DeriveRecordKey(guardian, owner) {
		t.Error("Swapped owner and guardian produced the same key")
	}

	parsed, err := ParseRecordKey(key.String())
	if err != nil {
		t.Fatalf("ParseRecordKey failed: %v", err)
	}
	if parsed != key {
		t.Errorf("Expected %s, got %s", key, parsed)
	}
}
