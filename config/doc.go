// Package config loads and validates the voxpipe service configuration.
// Values come from a config.yml, a .env file, and process environment
// variables, in increasing order of precedence. The resulting Config also
// serves as the provider configuration source for the transcription
// registry.
package config
