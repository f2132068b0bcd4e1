// Package logging provides structured logging using uber/zap.
//
// Two modes are available:
//   - Production: JSON output for machine parsing
//   - Development: colored console output at debug level
//
// Logs go to stderr by default. Standard output is reserved for the
// consumer's per-iteration report lines and the environment probe, so the
// two streams can be separated by the shell.
//
// Components receive a named *zap.Logger ("producer", "consumer",
// "grpcchan", "launcher", "status") derived from the participant logger:
//
//	logger := logging.FromLevel(cfg.Logging.Level, cfg.Logging.Development)
//	log := logger.ForParticipant(runID, rank)
//	log.Info("Participant starting", zap.Int("size", size))
package logging
