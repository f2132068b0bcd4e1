// Package id generates the identifiers shared by the participants of a run.
//
// Run IDs are ULIDs: lexicographically sortable by start time, so log lines
// and metrics from successive runs order naturally. An ID may carry a
// prefix ("run_01J..."); generated run IDs always do. Parse accepts both forms.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// RunID identifies one run of the pipeline across all of its participants
type RunID string

// RunPrefix is prepended by NewPrefixedRunID.
const RunPrefix = "run"

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // Protects entropy reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator whose IDs are strictly increasing within
// the same millisecond.
func NewGenerator() *Generator {
	return &Generator{
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// NewPrefixedRunID generates a run ID of the form run_<ulid>
func NewPrefixedRunID() RunID {
	return RunID(Default().GenerateWithPrefix(RunPrefix))
}

// RunIDOr returns s as a RunID, or a fresh prefixed one when s is empty. Any
// non-empty s is accepted; operators may name their runs.
func RunIDOr(s string) RunID {
	if s == "" {
		return NewPrefixedRunID()
	}
	return RunID(s)
}

func (id RunID) String() string { return string(id) }

// StartedAt returns the time encoded in a generated run ID. Operator-chosen
// IDs carry no time and report false.
func (id RunID) StartedAt() (time.Time, bool) {
	ts, err := Timestamp(string(id))
	return ts, err == nil
}

// Parse parses a ULID string, dropping a leading "prefix_" if present
func Parse(id string) (ulid.ULID, error) {
	if i := strings.LastIndexByte(id, '_'); i >= 0 {
		id = id[i+1:]
	}
	return ulid.ParseStrict(id)
}

// Timestamp extracts the timestamp from a ULID
func Timestamp(id string) (time.Time, error) {
	parsed, err := Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
