// Package logger wraps zap for the drowsiness monitor.
//
// It keeps one global sugared logger with a console encoder, optionally
// mirrored into a rotating log file, and carries named child loggers
// through context.Context so every component logs with its own scope.
// Throttled helpers guard the 30 Hz detection loop against log floods.
package logger
