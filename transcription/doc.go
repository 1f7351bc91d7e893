// Package transcription defines the provider contract for speech-to-text
// backends, a registry that resolves provider ids to live instances, and an
// orchestrator that drives a primary/fallback provider chain for one job run.
package transcription
