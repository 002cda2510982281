// Package logging provides structured logging built on log/slog.
//
// All components log through a *Logger carrying default service/version
// attributes. Packages that should not depend on this package (the matrix
// core) accept a narrow Logger interface instead and are handed a *Logger
// at wiring time.
package logging
