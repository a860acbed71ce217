/*
Package log wraps zerolog with lightd's component-scoped logger helpers.

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	log.WithContainer("alpha").Info().Str("image", "busybox:latest").Msg("container registered")

Init configures the global Logger once at boot from the CLI's persistent
flags (see cmd/lightd). WithComponent, WithContainer, WithRule, and
WithPort each return a child logger with one field pre-set, so call sites
read as a single chained expression instead of repeating Str() calls.

# See Also

  - cmd/lightd for the --log-level/--log-json flag wiring
*/
package log
