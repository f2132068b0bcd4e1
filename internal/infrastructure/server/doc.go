// Package server provides the optional status HTTP server of a participant.
//
// Routes:
//   - GET /healthz: liveness
//   - GET /status: run ID, rank, and the attached driver's role, state,
//     iteration and outstanding handle count, plus metric totals
//   - GET /metrics: Prometheus exposition of the participant's registry
//
// Every route sits behind read-only CORS and a per-client rate limit.
//
// Example Usage:
//
//	srv := server.NewServer(server.Config{Addr: ":9090", RunID: id, Rank: 0}, metrics, log)
//	if err := srv.Start(); err != nil {
//		return err
//	}
//	defer srv.Shutdown(context.Background())
//	srv.Attach(producer)
package server
