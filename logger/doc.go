// Package logger provides structured logging for the transcription pipeline,
// built on zerolog. It exposes a configurable Logger type, a global default
// logger, and a named registry so each component (queue, registry,
// orchestrator, providers) can log under its own tag.
package logger
