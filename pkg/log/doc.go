/*
Package log provides structured logging for orbiter using zerolog.

It wraps zerolog to give every reconciler and dispatcher task a
component-scoped child logger, with JSON output in production and a
human-readable console writer for local development.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	logger := log.WithComponent("instance-reconciler")
	logger.Info().Str("instance_id", id).Msg("transitioned to idle")

# See Also

  - pkg/metrics for the counterpart metrics wrapper
*/
package log
