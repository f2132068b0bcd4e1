package id

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func TestGenerate(t *testing.T) {
	gen := NewGenerator()

	id1 := gen.Generate()
	id2 := gen.Generate()

	if id1.String() == id2.String() {
		t.Error("Generated IDs should be unique")
	}
	if id2.Compare(id1) <= 0 {
		t.Errorf("IDs should increase: %s then %s", id1, id2)
	}
}

func TestGenerateString(t *testing.T) {
	gen := NewGenerator()

	id := gen.GenerateString()

	if len(id) != 26 {
		t.Errorf("ULID should be 26 characters, got %d", len(id))
	}
}

func TestPrefixedRunID(t *testing.T) {
	id := NewPrefixedRunID()

	if !strings.HasPrefix(string(id), "run_") {
		t.Errorf("RunID should start with 'run_', got: %s", id)
	}
	if _, err := Parse(id.String()); err != nil {
		t.Errorf("Prefixed run ID should parse: %s: %v", id, err)
	}
}

func TestRunIDOr(t *testing.T) {
	if got := RunIDOr("nightly"); got != "nightly" {
		t.Errorf("Explicit run ID should be kept, got %s", got)
	}

	got := RunIDOr("")
	if !strings.HasPrefix(got.String(), RunPrefix+"_") {
		t.Errorf("Generated run ID should be prefixed: %s", got)
	}
	if _, err := Parse(got.String()); err != nil {
		t.Errorf("Generated run ID should be a valid ULID: %s: %v", got, err)
	}
}

func TestStartedAt(t *testing.T) {
	before := time.Now()
	generated := RunIDOr("")
	after := time.Now()

	ts, ok := generated.StartedAt()
	if !ok {
		t.Fatalf("Generated run ID should carry a time: %s", generated)
	}
	if ts.UnixMilli() < before.UnixMilli() || ts.UnixMilli() > after.UnixMilli() {
		t.Errorf("Start time should be between %d and %d ms, got %d ms", before.UnixMilli(), after.UnixMilli(), ts.UnixMilli())
	}

	if _, ok := RunID("nightly").StartedAt(); ok {
		t.Error("Named run ID should carry no time")
	}
}

func TestParse(t *testing.T) {
	gen := NewGenerator()

	validID := gen.GenerateString()
	if _, err := Parse(validID); err != nil {
		t.Errorf("Generated ULID should be valid: %v", err)
	}

	invalidIDs := []string{
		"",
		"invalid",
		"1234567890",
		"zzzzzzzzzzzzzzzzzzzzzzzzzz", // Invalid characters
		"run_",
	}

	for _, id := range invalidIDs {
		if _, err := Parse(id); err == nil {
			t.Errorf("ID should be invalid: %s", id)
		}
	}
}

func TestTimestamp(t *testing.T) {
	gen := NewGenerator()

	before := time.Now()
	id := gen.GenerateWithPrefix(RunPrefix)
	after := time.Now()

	ts, err := Timestamp(id)
	if err != nil {
		t.Fatalf("Failed to extract timestamp: %v", err)
	}

	// ULID timestamps have millisecond precision
	if ts.UnixMilli() < before.UnixMilli() || ts.UnixMilli() > after.UnixMilli() {
		t.Errorf("Timestamp should be between %d and %d ms, got %d ms", before.UnixMilli(), after.UnixMilli(), ts.UnixMilli())
	}
}

func TestConcurrentGeneration(t *testing.T) {
	gen := NewGenerator()

	const goroutines = 50
	const idsPerGoroutine = 100

	var wg sync.WaitGroup
	idChan := make(chan string, goroutines*idsPerGoroutine)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < idsPerGoroutine; j++ {
				idChan <- gen.GenerateString()
			}
		}()
	}
	wg.Wait()
	close(idChan)

	seen := make(map[string]bool)
	for id := range idChan {
		if seen[id] {
			t.Errorf("Duplicate ID generated: %s", id)
		}
		seen[id] = true
	}
}
