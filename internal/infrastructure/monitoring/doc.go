/*
Package monitoring provides Prometheus metrics for a dbpipe participant.

# Overview

Metrics implements pipeline.Observer, so a driver built with
WithObserver(metrics) exports its transfers, awaits and state without
further wiring. Each Metrics owns its registry; several participants can
run in one process (local transport, tests) without colliding.

# Metrics

  - dbpipe_transfers_total{role,op}
  - dbpipe_transfer_bytes_total{role,op}
  - dbpipe_await_duration_seconds{role,kind}  kind is gate, receive or drain
  - dbpipe_blocked_awaits_total{role,kind}
  - dbpipe_inflight_transfers{role}
  - dbpipe_iteration{role}
  - dbpipe_driver_state{role}
  - dbpipe_http_requests_total{method,path,status}
  - dbpipe_uptime_seconds

All series carry run_id and rank labels.

# Usage

	metrics := monitoring.NewMetrics(runID, rank)
	producer := pipeline.NewProducer(ch, cfg).WithObserver(metrics)

	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
*/
package monitoring
