package launcher

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helperEnv = "DBPIPE_LAUNCHER_HELPER"

// TestMain doubles as the child process when the helper variable is set.
func TestMain(m *testing.M) {
	if mode := os.Getenv(helperEnv); mode != "" {
		os.Exit(runHelper(mode))
	}
	os.Exit(m.Run())
}

// runHelper prints its assignment and exits according to mode: "ok" exits 0,
// "fail:<rank>:<code>" makes that rank exit with code, and "block" waits for
// an interrupt.
func runHelper(mode string) int {
	rank, _ := strconv.Atoi(os.Getenv("DBPIPE_RANK"))
	fmt.Printf("rank=%s size=%s peers=%s run=%s status=%s\n",
		os.Getenv("DBPIPE_RANK"), os.Getenv("DBPIPE_SIZE"), os.Getenv("DBPIPE_PEERS"),
		os.Getenv("DBPIPE_RUN_ID"), os.Getenv("DBPIPE_STATUS_ADDR"))

	switch {
	case mode == "ok":
		return 0
	case strings.HasPrefix(mode, "fail:"):
		parts := strings.Split(mode, ":")
		failRank, _ := strconv.Atoi(parts[1])
		code, _ := strconv.Atoi(parts[2])
		if rank == failRank {
			return code
		}
		// Everyone else waits to be interrupted.
		fallthrough
	case mode == "block":
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt)
		select {
		case <-sig:
			return 1
		case <-time.After(30 * time.Second):
			return 0
		}
	}
	return 2
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func helperConfig(t *testing.T, mode string, size int) (Config, *syncBuffer) {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)

	peers := make([]string, size)
	for i := range peers {
		peers[i] = fmt.Sprintf("127.0.0.1:%d", 7000+i)
	}
	out := &syncBuffer{}
	return Config{
		Executable: exe,
		Args:       []string{"-test.run=^$"},
		Size:       size,
		Peers:      peers,
		RunID:      "run-x",
		Env:        append(os.Environ(), helperEnv+"="+mode),
		Stdout:     out,
		Stderr:     out,
		WaitDelay:  2 * time.Second,
	}, out
}

func TestRunAllSucceed(t *testing.T) {
	cfg, out := helperConfig(t, "ok", 3)
	cfg.StatusAddr = "127.0.0.1:9100"

	code, err := New(cfg).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	got := out.String()
	for rank := 0; rank < 3; rank++ {
		assert.Contains(t, got, fmt.Sprintf("rank=%d size=3 peers=127.0.0.1:7000,127.0.0.1:7001,127.0.0.1:7002 run=run-x status=127.0.0.1:%d\n", rank, 9100+rank))
	}
}

func TestRunReportsWorstStatus(t *testing.T) {
	cfg, _ := helperConfig(t, "fail:1:3", 3)

	start := time.Now()
	code, err := New(cfg).Run(context.Background())

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.Rank)
	assert.Equal(t, 3, exitErr.Code)
	assert.Equal(t, 3, code)
	assert.Less(t, time.Since(start), 20*time.Second, "siblings should be interrupted")
}

func TestRunCancelInterruptsChildren(t *testing.T) {
	cfg, _ := helperConfig(t, "block", 2)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	code, err := New(cfg).Run(ctx)
	assert.Error(t, err)
	assert.Equal(t, 1, code)
}

func TestRunValidates(t *testing.T) {
	code, err := New(Config{Size: 0}).Run(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, code)

	code, err = New(Config{Size: 2, Peers: []string{"a:1"}}).Run(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, code)
}

func TestChildEnvOverridesInherited(t *testing.T) {
	l := New(Config{Size: 2, Peers: []string{"a:1", "b:2"}, RunID: "r"})

	env, err := l.childEnv([]string{"HOME=/root", "DBPIPE_RANK=-1", "DBPIPE_STATUS_ADDR=:80"}, 1)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"HOME=/root",
		"DBPIPE_RANK=1",
		"DBPIPE_SIZE=2",
		"DBPIPE_PEERS=a:1,b:2",
		"DBPIPE_RUN_ID=r",
		"DBPIPE_STATUS_ADDR=",
	}, env)
}

func TestShiftPort(t *testing.T) {
	tests := []struct {
		addr    string
		offset  int
		want    string
		wantErr bool
	}{
		{"127.0.0.1:9100", 2, "127.0.0.1:9102", false},
		{":9100", 1, ":9101", false},
		{"localhost:0", 3, "localhost:0", false},
		{"[::1]:80", 1, "[::1]:81", false},
		{"nohost", 1, "", true},
		{"h:port", 1, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			got, err := shiftPort(tt.addr, tt.offset)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
