// Package logging configures structured slog output for docindex.
//
// CLI runs log human-readable text to stderr. With --log-file, or when
// serving MCP over stdio, JSON records go to a size-rotated file under
// ~/.docindex/logs/ so stdout stays reserved for the protocol stream.
package logging
