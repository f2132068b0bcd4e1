package app

import (
	"fmt"
	"io"
	"os"
)

// LookupFunc resolves an environment variable. os.LookupEnv is the default.
type LookupFunc func(name string) (string, bool)

// Probe writes one line per variable, "Rank <r> <NAME>=<value>", with
// "(unset)" standing in for variables that are not set.
func Probe(w io.Writer, rank int, names []string, lookup LookupFunc) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	for _, name := range names {
		val, ok := lookup(name)
		if !ok {
			val = "(unset)"
		}
		if _, err := fmt.Fprintf(w, "Rank %d %s=%s\n", rank, name, val); err != nil {
			return fmt.Errorf("write probe: %w", err)
		}
	}
	return nil
}
