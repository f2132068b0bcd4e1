package pipeline

import (
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary accumulates what a driver did during a run.
type Summary struct {
	Role       Role
	Iterations int
	Bytes      int64
	// Waits holds one duration per gate (producer) or receive wait
	// (consumer), in iteration order.
	Waits []time.Duration
	// Blocked counts the waits that found an outstanding request.
	Blocked int
	Drain   time.Duration
	Elapsed time.Duration

	started time.Time
}

func newSummary(role Role, iterations int) *Summary {
	return &Summary{
		Role:    role,
		Waits:   make([]time.Duration, 0, iterations),
		started: time.Now(),
	}
}

func (s *Summary) addWait(d time.Duration, blocked bool) {
	s.Waits = append(s.Waits, d)
	if blocked {
		s.Blocked++
	}
}

func (s *Summary) finish() {
	s.Elapsed = time.Since(s.started)
}

// WaitStats summarises Summary.Waits.
type WaitStats struct {
	Mean   time.Duration
	StdDev time.Duration
	Max    time.Duration
}

// WaitStats computes mean, sample standard deviation and maximum of the
// recorded waits. It returns zeros when nothing was recorded.
func (s *Summary) WaitStats() WaitStats {
	if len(s.Waits) == 0 {
		return WaitStats{}
	}

	xs := make([]float64, len(s.Waits))
	for i, w := range s.Waits {
		xs[i] = float64(w)
	}

	var ws WaitStats
	if len(xs) == 1 {
		ws.Mean = time.Duration(xs[0])
	} else {
		mean, std := stat.MeanStdDev(xs, nil)
		ws.Mean = time.Duration(mean)
		ws.StdDev = time.Duration(std)
	}
	ws.Max = time.Duration(floats.Max(xs))
	return ws
}

// Fields renders the summary as log fields.
func (s *Summary) Fields() []zap.Field {
	ws := s.WaitStats()
	return []zap.Field{
		zap.Stringer("role", s.Role),
		zap.Int("iterations", s.Iterations),
		zap.Int64("bytes", s.Bytes),
		zap.Int("blocked_waits", s.Blocked),
		zap.Duration("wait_mean", ws.Mean),
		zap.Duration("wait_stddev", ws.StdDev),
		zap.Duration("wait_max", ws.Max),
		zap.Duration("drain", s.Drain),
		zap.Duration("elapsed", s.Elapsed),
	}
}
