// Package logx configures structured logging for startstop.
//
// It is a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - A zero-value Logger usable as a no-op, so library packages never need nil checks
package logx
