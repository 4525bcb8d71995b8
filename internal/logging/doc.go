// Package logging wraps zap with context-aware loggers for crewd.
//
// Correlation identifiers (project, phase, session, request) travel on the
// context and are appended to every log entry automatically, so call sites
// only pass event-specific fields.
package logging
