// Package config provides 12-factor configuration for dbpipe participants.
//
// Configuration is loaded from environment variables with defaults matching
// the reference run. A YAML or TOML topology file may override the topology
// section.
//
// Configuration Sections:
//   - Run: run identifier shared by all participants
//   - Pipeline: buffer size, slot count, iterations, simulated delay
//   - Topology: rank, world size, peer addresses, role assignment, tag
//   - Transport: grpc or local, compression, message limits
//   - Logging: log level and output format
//   - Status: optional status HTTP server
//   - Report: stdout report format and probed variables
//
// Example Usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//		return err
//	}
//	addrs := cfg.Topology.PeerAddrs()
//
// Environment Variables:
//   - DBPIPE_BUFFER_SIZE, DBPIPE_SLOTS, DBPIPE_ITERATIONS, DBPIPE_DELAY
//   - DBPIPE_RANK, DBPIPE_SIZE, DBPIPE_PEERS, DBPIPE_PRODUCER, DBPIPE_CONSUMER
//   - DBPIPE_TAG, DBPIPE_HOST, DBPIPE_BASE_PORT, DBPIPE_TOPOLOGY_FILE
//   - DBPIPE_TRANSPORT, DBPIPE_COMPRESSION, DBPIPE_MAX_MESSAGE_BYTES
//   - DBPIPE_CONNECT_TIMEOUT, DBPIPE_STATUS_ADDR, DBPIPE_REPORT_FORMAT
//   - DBPIPE_PROBE_VARS, DBPIPE_RUN_ID, LOG_LEVEL, LOG_DEV
package config
