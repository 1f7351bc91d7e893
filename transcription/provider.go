package transcription

import (
	"context"
	"time"

	"github.com/skillsenselab/voxpipe/secrets"
)

// Provider is the interface that transcription backends implement, local
// engine and remote HTTP adapters alike.
type Provider interface {
	// ID is the stable provider identifier used in settings and configs.
	ID() string
	// DisplayName is the human-readable provider name.
	DisplayName() string
	// SupportedLanguages returns accepted language codes. "auto" means the
	// provider can detect the language itself.
	SupportedLanguages() []string
	// Validate checks configuration and, for remote providers, performs a
	// lightweight connectivity probe. It never transcribes as a side
	// effect.
	Validate(ctx context.Context) ValidationResult
	// Transcribe runs the audio through the backend and returns the
	// cleaned final text. onProgress may be invoked zero or more times
	// with a non-decreasing fraction and is never called after Transcribe
	// returns. Failures are *Error values classified by Kind.
	Transcribe(ctx context.Context, req Request, onProgress ProgressFunc) (string, error)
}

// ProviderConfig holds one provider's configuration. Credentials are never
// stored here, only a reference resolved through a secrets.Store at call
// time.
type ProviderConfig struct {
	// ID is the provider identifier, e.g. "local" or "openai".
	ID string `json:"id" mapstructure:"id" validate:"required"`
	// Kind selects the factory, e.g. "local" or "openai".
	Kind string `json:"kind" mapstructure:"kind" validate:"required"`
	// Enabled gates whether the provider participates at all.
	Enabled bool `json:"enabled" mapstructure:"enabled"`
	// Priority orders providers in listings; lower sorts first.
	Priority int `json:"priority" mapstructure:"priority"`
	// DisplayName overrides the adapter's default display name.
	DisplayName string `json:"display_name" mapstructure:"display_name"`
	// CredentialRef names the secret holding the provider's API key.
	CredentialRef string `json:"credential_ref" mapstructure:"credential_ref"`
	// Endpoint is the remote API base URL, where applicable.
	Endpoint string `json:"endpoint" mapstructure:"endpoint" validate:"omitempty,url"`
	// Model names the remote model to request.
	Model string `json:"model" mapstructure:"model"`
	// ModelPath locates the local model file, where applicable.
	ModelPath string `json:"model_path" mapstructure:"model_path"`
	// MaxRetries bounds attempts for retryable failures.
	MaxRetries int `json:"max_retries" mapstructure:"max_retries" validate:"gte=0,lte=10"`
	// Timeout bounds one remote call attempt.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
	// MaxPayloadBytes is the provider's upload size ceiling. Zero means
	// no pre-check.
	MaxPayloadBytes int64 `json:"max_payload_bytes" mapstructure:"max_payload_bytes" validate:"gte=0"`
}

// Factory constructs a Provider from its configuration. Factories are
// registered per Kind on the Registry.
type Factory func(cfg ProviderConfig, sec secrets.Store) (Provider, error)

// ConfigSource supplies current provider configuration to the Registry. The
// application config implements this.
type ConfigSource interface {
	// ProviderConfig returns the configuration for a provider id.
	ProviderConfig(id string) (ProviderConfig, bool)
	// ProviderIDs returns all configured provider ids.
	ProviderIDs() []string
}
