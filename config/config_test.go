package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/skillsenselab/voxpipe/transcription"
)

func TestApplyDefaults(t *testing.T) {
	t.Run("empty config gets service defaults", func(t *testing.T) {
		cfg := Config{}
		cfg.ApplyDefaults()

		if cfg.Name != ServiceName {
			t.Errorf("expected name %q, got %q", ServiceName, cfg.Name)
		}
		if cfg.Environment != "development" {
			t.Errorf("expected development, got %q", cfg.Environment)
		}
		if !cfg.Debug {
			t.Error("expected debug=true for development")
		}
		if cfg.Queue.StorePath != "data/jobs.json" {
			t.Errorf("expected default store path, got %q", cfg.Queue.StorePath)
		}
		if cfg.Server.Port != 8080 {
			t.Errorf("expected default port, got %d", cfg.Server.Port)
		}
	})

	t.Run("production keeps debug false", func(t *testing.T) {
		cfg := Config{Environment: "production"}
		cfg.ApplyDefaults()
		if cfg.Debug {
			t.Error("expected debug=false for production")
		}
	})

	t.Run("providers inherit map key as id and kind", func(t *testing.T) {
		cfg := Config{
			Providers: map[string]transcription.ProviderConfig{
				"local":  {ModelPath: "/models/ggml-base.bin"},
				"openai": {Kind: "openai", CredentialRef: "OPENAI_API_KEY"},
			},
		}
		cfg.ApplyDefaults()

		if got := cfg.Providers["local"]; got.ID != "local" || got.Kind != "local" {
			t.Errorf("expected id/kind inherited, got %+v", got)
		}
		if got := cfg.Providers["openai"]; got.ID != "openai" || got.Kind != "openai" {
			t.Errorf("expected id inherited, kind kept, got %+v", got)
		}
	})
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Config{
			Environment: "production",
			Providers: map[string]transcription.ProviderConfig{
				"local": {ModelPath: "/models/ggml-base.bin"},
			},
		}
		cfg.ApplyDefaults()
		return cfg
	}

	t.Run("valid config passes", func(t *testing.T) {
		cfg := valid()
		if err := cfg.Validate(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("invalid environment", func(t *testing.T) {
		cfg := valid()
		cfg.Environment = "qa"
		if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "config.environment") {
			t.Fatalf("expected environment error, got %v", err)
		}
	})

	t.Run("invalid provider endpoint", func(t *testing.T) {
		cfg := valid()
		p := cfg.Providers["local"]
		p.Endpoint = "not a url"
		cfg.Providers["local"] = p
		if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "config.providers.local") {
			t.Fatalf("expected provider error, got %v", err)
		}
	})

	t.Run("unknown primary provider", func(t *testing.T) {
		cfg := valid()
		cfg.Settings.PrimaryProvider = "missing"
		if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "primary_provider") {
			t.Fatalf("expected primary provider error, got %v", err)
		}
	})

	t.Run("unknown fallback provider", func(t *testing.T) {
		cfg := valid()
		cfg.Settings.FallbackProviders = []string{"missing"}
		if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "fallback_providers") {
			t.Fatalf("expected fallback provider error, got %v", err)
		}
	})
}

func TestConfigSource(t *testing.T) {
	cfg := Config{
		Providers: map[string]transcription.ProviderConfig{
			"openai": {Kind: "openai"},
			"local":  {Kind: "local"},
			"azure":  {Kind: "azure"},
		},
	}
	cfg.ApplyDefaults()

	ids := cfg.ProviderIDs()
	want := []string{"azure", "local", "openai"}
	if len(ids) != len(want) {
		t.Fatalf("expected %v, got %v", want, ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("expected sorted ids %v, got %v", want, ids)
		}
	}

	if p, ok := cfg.ProviderConfig("local"); !ok || p.Kind != "local" {
		t.Fatalf("expected local provider, got %+v, %v", p, ok)
	}
	if _, ok := cfg.ProviderConfig("missing"); ok {
		t.Fatal("expected missing provider to report !ok")
	}
}

const testConfigYAML = `
name: voxpipe
environment: production
server:
  port: 8200
queue:
  store_path: /var/lib/voxpipe/jobs.json
settings:
  primary_provider: local
  fallback_enabled: true
  fallback_providers: [openai]
providers:
  local:
    kind: local
    enabled: true
    model_path: /models/ggml-base.bin
  openai:
    kind: openai
    enabled: true
    credential_ref: OPENAI_API_KEY
    timeout: 90s
`

func writeTestConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(testConfigYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFromYAML(t *testing.T) {
	cfg, err := Load(WithConfigFile(writeTestConfig(t)))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != 8200 {
		t.Errorf("expected port 8200, got %d", cfg.Server.Port)
	}
	if cfg.Queue.StorePath != "/var/lib/voxpipe/jobs.json" {
		t.Errorf("unexpected store path %q", cfg.Queue.StorePath)
	}
	if cfg.Settings.PrimaryProvider != "local" {
		t.Errorf("expected primary local, got %q", cfg.Settings.PrimaryProvider)
	}
	if !cfg.Settings.FallbackEnabled || len(cfg.Settings.FallbackProviders) != 1 {
		t.Errorf("unexpected fallback settings: %+v", cfg.Settings)
	}
	if p := cfg.Providers["openai"]; p.ID != "openai" || p.CredentialRef != "OPENAI_API_KEY" {
		t.Errorf("unexpected openai provider: %+v", p)
	}
	if cfg.Debug {
		t.Error("production config must not default debug on")
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Setenv("SERVER_PORT", "9321")

	cfg, err := Load(WithConfigFile(writeTestConfig(t)))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9321 {
		t.Errorf("expected env override 9321, got %d", cfg.Server.Port)
	}
}

func TestLoadDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("QUEUE_STORE_PATH=/tmp/override.json\n"), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	// godotenv loads into the process environment; undo after the test.
	t.Cleanup(func() { os.Unsetenv("QUEUE_STORE_PATH") })

	cfg, err := Load(WithConfigFile(writeTestConfig(t)), WithEnvFile(envPath))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Queue.StorePath != "/tmp/override.json" {
		t.Errorf("expected .env override, got %q", cfg.Queue.StorePath)
	}
}

func TestEnvKeyVariants(t *testing.T) {
	variants := envKeyVariants("QUEUE_STORE_PATH")

	wantSome := []string{"queue_store_path", "queue.store.path", "queue.store_path"}
	for _, w := range wantSome {
		found := false
		for _, v := range variants {
			if v == w {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected variant %q in %v", w, variants)
		}
	}
}
