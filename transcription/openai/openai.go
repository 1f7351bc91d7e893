// Package openai adapts an OpenAI-compatible speech-to-text HTTP API to the
// transcription provider contract: multipart upload, payload size pre-check,
// HTTP status classification, and bounded retry with exponential backoff.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/skillsenselab/voxpipe/logger"
	"github.com/skillsenselab/voxpipe/resilience"
	"github.com/skillsenselab/voxpipe/secrets"
	"github.com/skillsenselab/voxpipe/transcription"
	"github.com/skillsenselab/voxpipe/util"
)

// Kind is the factory key for OpenAI-compatible remote providers.
const Kind = "openai"

const (
	defaultEndpoint   = "https://api.openai.com/v1/audio/transcriptions"
	defaultModel      = "whisper-1"
	defaultTimeout    = 120 * time.Second
	defaultMaxRetries = 3
	// The upstream API rejects uploads above 25 MB.
	defaultMaxPayloadBytes = 25 * 1024 * 1024
)

// Provider calls a remote transcription endpoint. Credentials are fetched
// from the secret store per call and never stored on the provider.
type Provider struct {
	cfg    transcription.ProviderConfig
	sec    secrets.Store
	client *http.Client
	log    *logger.Logger

	// Backoff parameters, overridable in tests.
	retryBase time.Duration
	retryCap  time.Duration
}

// New creates a remote provider from config.
func New(cfg transcription.ProviderConfig, sec secrets.Store) *Provider {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.MaxPayloadBytes == 0 {
		cfg.MaxPayloadBytes = defaultMaxPayloadBytes
	}
	return &Provider{
		cfg:       cfg,
		sec:       sec,
		client:    &http.Client{Timeout: cfg.Timeout},
		log:       logger.WithComponent("openai-provider"),
		retryBase: 2 * time.Second,
		retryCap:  10 * time.Second,
	}
}

// Factory returns the registry factory for OpenAI-compatible providers.
func Factory() transcription.Factory {
	return func(cfg transcription.ProviderConfig, sec secrets.Store) (transcription.Provider, error) {
		if cfg.CredentialRef == "" {
			return nil, fmt.Errorf("openai provider %q requires credential_ref", cfg.ID)
		}
		return New(cfg, sec), nil
	}
}

// ID implements transcription.Provider.
func (p *Provider) ID() string { return p.cfg.ID }

// DisplayName implements transcription.Provider.
func (p *Provider) DisplayName() string {
	if p.cfg.DisplayName != "" {
		return p.cfg.DisplayName
	}
	return "OpenAI"
}

// SupportedLanguages implements transcription.Provider.
func (p *Provider) SupportedLanguages() []string {
	return []string{"auto", "en", "es", "fr", "de", "it", "pt", "nl", "ja", "ko", "zh", "ru", "uk", "pl", "tr", "ar", "hi"}
}

// Validate confirms the credential without spending a real transcription: a
// deliberately malformed request should come back 400/422 when the key is
// accepted and 401 when it is not.
func (p *Provider) Validate(ctx context.Context) transcription.ValidationResult {
	var vr transcription.ValidationResult

	cred, err := p.sec.Credential(ctx, p.cfg.CredentialRef)
	if err != nil || strings.TrimSpace(cred) == "" {
		vr.Errors = append(vr.Errors, "no credential configured")
		return vr
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint,
		strings.NewReader("credential probe"))
	if err != nil {
		vr.Errors = append(vr.Errors, fmt.Sprintf("bad endpoint: %v", err))
		return vr
	}
	req.Header.Set("Authorization", "Bearer "+cred)
	req.Header.Set("Content-Type", "text/plain")

	resp, err := p.client.Do(req)
	if err != nil {
		vr.Warnings = append(vr.Warnings, fmt.Sprintf("endpoint unreachable: %v", err))
		// Reachability is not a configuration problem; let the real call
		// decide.
		vr.Valid = true
		return vr
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		p.log.Warn("credential probe rejected", logger.Fields(
			logger.FieldProvider, p.cfg.ID,
			"credential", util.MaskSecret(cred, 3),
		))
		vr.Errors = append(vr.Errors, "credential rejected")
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		vr.Valid = true
	default:
		vr.Warnings = append(vr.Warnings, fmt.Sprintf("unexpected probe status %d", resp.StatusCode))
		vr.Valid = true
	}
	return vr
}

// Transcribe implements transcription.Provider.
func (p *Provider) Transcribe(ctx context.Context, req transcription.Request, onProgress transcription.ProgressFunc) (string, error) {
	info, err := os.Stat(req.AudioPath)
	if err != nil {
		return "", transcription.WrapError(transcription.KindProcessingFailed, p.cfg.ID, "audio file not readable", err)
	}
	if p.cfg.MaxPayloadBytes > 0 && info.Size() > p.cfg.MaxPayloadBytes {
		return "", transcription.NewError(transcription.KindPayloadTooLarge, p.cfg.ID,
			fmt.Sprintf("audio is %d bytes, limit is %d", info.Size(), p.cfg.MaxPayloadBytes))
	}

	attempt := 0
	text, err := resilience.Retry(ctx, resilience.RetryConfig{
		MaxAttempts:    p.cfg.MaxRetries,
		InitialBackoff: p.retryBase,
		MaxBackoff:     p.retryCap,
		BackoffFactor:  2.0,
		RetryIf:        transcription.IsRetryable,
		OnRetry: func(n int, err error, backoff time.Duration) {
			p.log.Warn("attempt failed, backing off", logger.Fields(
				logger.FieldProvider, p.cfg.ID,
				logger.FieldAttempt, n,
				"backoff", backoff.String(),
				logger.FieldError, err.Error(),
			))
		},
	}, func() (string, error) {
		attempt++
		if onProgress != nil {
			onProgress(transcription.Progress{
				Fraction: 0,
				Status:   fmt.Sprintf("uploading (attempt %d/%d)", attempt, p.cfg.MaxRetries),
			})
		}
		return p.attempt(ctx, req)
	})
	if err != nil {
		if ctx.Err() != nil && transcription.KindOf(err) != transcription.KindCancelled {
			return "", transcription.WrapError(transcription.KindCancelled, p.cfg.ID, "transcription cancelled", ctx.Err())
		}
		return "", err
	}
	return text, nil
}

// attempt performs one upload and classifies the outcome.
func (p *Provider) attempt(ctx context.Context, req transcription.Request) (string, error) {
	cred, err := p.sec.Credential(ctx, p.cfg.CredentialRef)
	if err != nil || strings.TrimSpace(cred) == "" {
		return "", transcription.NewError(transcription.KindInvalidCredential, p.cfg.ID, "no credential configured")
	}

	body, contentType, err := p.buildForm(req)
	if err != nil {
		return "", transcription.WrapError(transcription.KindProcessingFailed, p.cfg.ID, "build upload", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, body)
	if err != nil {
		return "", transcription.WrapError(transcription.KindProcessingFailed, p.cfg.ID, "build request", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+cred)
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", transcription.WrapError(transcription.KindCancelled, p.cfg.ID, "transcription cancelled", ctx.Err())
		}
		return "", transcription.WrapError(transcription.KindUnreachable, p.cfg.ID, "request failed", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", p.classify(resp.StatusCode, raw)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", transcription.WrapError(transcription.KindProcessingFailed, p.cfg.ID, "malformed response body", err)
	}
	return transcription.CleanTranscript(result.Text), nil
}

// buildForm assembles the multipart body with the file part and the text
// fields the API accepts.
func (p *Provider) buildForm(req transcription.Request) (*bytes.Buffer, string, error) {
	audio, err := os.ReadFile(req.AudioPath)
	if err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.WriteField("model", p.cfg.Model); err != nil {
		return nil, "", err
	}
	if lang := req.Settings.Language; lang != "" && lang != "auto" {
		if err := writer.WriteField("language", lang); err != nil {
			return nil, "", err
		}
	}
	if prompt := req.Settings.InitialPrompt; prompt != "" {
		if err := writer.WriteField("prompt", prompt); err != nil {
			return nil, "", err
		}
	}
	if req.Settings.Temperature > 0 {
		if err := writer.WriteField("temperature",
			strconv.FormatFloat(float64(req.Settings.Temperature), 'f', -1, 32)); err != nil {
			return nil, "", err
		}
	}
	if req.Settings.ShowTimestamps {
		if err := writer.WriteField("timestamp_granularities[]", "segment"); err != nil {
			return nil, "", err
		}
	}

	part, err := writer.CreateFormFile("file", filepath.Base(req.AudioPath))
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(audio); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return &buf, writer.FormDataContentType(), nil
}

// classify maps a non-2xx response to the provider-agnostic error taxonomy.
// The upstream error message is used for classification only, never shown
// verbatim when a taxonomy match exists.
func (p *Provider) classify(status int, body []byte) error {
	message := apiErrorMessage(body)

	switch {
	case status == http.StatusUnauthorized:
		return transcription.NewError(transcription.KindInvalidCredential, p.cfg.ID, "credential rejected")
	case status == http.StatusPaymentRequired || status == http.StatusTooManyRequests:
		return transcription.NewError(transcription.KindQuotaExceeded, p.cfg.ID, "quota or rate limit exceeded")
	case status == http.StatusRequestEntityTooLarge:
		return transcription.NewError(transcription.KindPayloadTooLarge, p.cfg.ID, "audio exceeds provider limit")
	case status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(message), "language"):
		return transcription.NewError(transcription.KindUnsupportedLanguage, p.cfg.ID, "language not supported")
	case status >= 500:
		return transcription.NewError(transcription.KindUnreachable, p.cfg.ID,
			fmt.Sprintf("provider returned status %d", status))
	default:
		detail := message
		if detail == "" {
			detail = fmt.Sprintf("status %d", status)
		}
		return transcription.NewError(transcription.KindProcessingFailed, p.cfg.ID, detail)
	}
}

func apiErrorMessage(body []byte) string {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.Error.Message
}
