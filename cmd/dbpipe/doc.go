// Command dbpipe runs an asynchronous double-buffered producer/consumer
// pipeline between participants of a message-passing world.
//
// Rank 0 fills one of two buffers with the iteration's letter, sends it
// without blocking and simulates work while the transfer is in flight. It
// only waits for a send when it is about to reuse that buffer. Rank 1
// receives each iteration into alternating buffers and prints
//
//	Received iteration <i>, first byte: <c>
//
// Every participant first prints its environment probe lines,
//
//	Rank <r> <NAME>=<value|(unset)>
//
// and exits 1 when the world holds fewer than 2 participants.
//
// There are no flags; configuration is read from the environment.
//
// Modes:
//   - No DBPIPE_RANK: launcher. Starts DBPIPE_SIZE copies of itself, one per
//     rank, connected over gRPC on DBPIPE_HOST:DBPIPE_BASE_PORT+rank.
//   - DBPIPE_RANK=<r>: a single participant, as started by the launcher.
//   - DBPIPE_TRANSPORT=local: all ranks as goroutines in this process.
//
// Usage:
//
//	# Two processes over gRPC
//	./dbpipe
//
//	# All ranks in one process
//	DBPIPE_TRANSPORT=local DBPIPE_ITERATIONS=4 LOG_DEV=true ./dbpipe
//
// Signals:
//   - SIGINT, SIGTERM: abort the run; outstanding transfers fail and the
//     process exits 1
package main
