// Package logx is a thin structured-logging facade over zerolog.
//
// It exists so that services take a Logger value instead of a *zerolog.Logger:
// the zero value is a safe no-op, With() derives child loggers with fixed
// fields, and the Service supports hot-swapping sinks (console/file) when the
// configuration is reloaded at runtime.
//
// For per-tick warning paths (send failures, deadline overruns) use Throttle,
// which drops excess messages through a token bucket so a wedged bus cannot
// flood the log at frame cadence.
package logx
