package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunFromEnvironment(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want int
	}{
		{
			name: "local pair",
			env:  map[string]string{"DBPIPE_ITERATIONS": "2"},
			want: 0,
		},
		{
			name: "single participant",
			env:  map[string]string{"DBPIPE_SIZE": "1"},
			want: 1,
		},
		{
			name: "invalid config",
			env:  map[string]string{"DBPIPE_SLOTS": "0"},
			want: 1,
		},
		{
			name: "unparsable config",
			env:  map[string]string{"DBPIPE_DELAY": "soon"},
			want: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DBPIPE_TRANSPORT", "local")
			t.Setenv("DBPIPE_BUFFER_SIZE", "8")
			t.Setenv("DBPIPE_DELAY", "0s")
			t.Setenv("LOG_LEVEL", "error")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			assert.Equal(t, tt.want, run())
		})
	}
}
