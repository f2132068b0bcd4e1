// Package app assembles dbpipe participants from configuration.
//
// A Participant is one rank: it prints its environment probe lines, checks
// that the world holds at least two participants (rank 0 alone reports the
// failure), then runs the producer, the consumer, or nothing, depending on
// its rank.
//
// A Runner wires a participant to its transport. With the gRPC transport it
// runs the single rank named by the configuration, together with its
// metrics and optional status server. With the local transport it runs
// every rank as a goroutine over one in-process world.
//
// Example Usage:
//
//	cfg, _ := config.Load()
//	err := app.NewRunner(cfg, logger).WithOutput(os.Stdout, os.Stderr).Run(ctx)
package app
