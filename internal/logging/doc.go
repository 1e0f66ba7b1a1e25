// Package logging provides structured logging for the ROV link using zap.
//
// Logging is silent by default so the CLI tools produce clean output. Set
// the ROVLINK_LOG_LEVEL environment variable or pass an explicit level to
// Initialize to enable output:
//
//	ROVLINK_LOG_LEVEL=debug rovlink-vehicle run
//
// The package exposes level helpers (Info, Debug, Warn, Error, Fatal) plus
// domain helpers for link events: LogConnection for connection lifecycle,
// LogStateChange for vehicle state machine transitions, LogMessage for
// per-message traffic at debug level, and LogRawBytes for protocol-level
// hex dumps when chasing framing bugs.
package logging
