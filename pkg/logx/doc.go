// Package logx configures brightsched's structured logging.
//
// Logger wraps zerolog so that:
//   - console output stays readable (short timestamp + file:line caller)
//   - the optional log file is JSON lines
//   - warnings can be mirrored to a Telegram chat (min-level + rate limit)
package logx
