// Package logx wraps zerolog behind a small field-based API so components
// can log structured events without importing zerolog directly.
//
// The Service owns the active sinks (console, file) and can swap them at
// runtime via Apply(); Loggers handed out by the Service stay live across
// reconfiguration.
package logx
