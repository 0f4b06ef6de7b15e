// Package logx configures dailytask's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Optional operator sink (min-level + rate limiting) so warnings reach the
//     operator console next to the status lines
package logx
