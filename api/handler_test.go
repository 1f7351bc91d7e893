package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/skillsenselab/voxpipe/job"
	"github.com/skillsenselab/voxpipe/logger"
	"github.com/skillsenselab/voxpipe/secrets"
	"github.com/skillsenselab/voxpipe/sse"
	"github.com/skillsenselab/voxpipe/transcription"
)

type stubRunner struct {
	result string
	err    error
}

func (r stubRunner) Run(_ context.Context, _ transcription.Request, onProgress transcription.ProgressFunc) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	if onProgress != nil {
		onProgress(transcription.Progress{Fraction: 1.0, Status: "done", Provider: "stub"})
	}
	return r.result, nil
}

type cfgSource map[string]transcription.ProviderConfig

func (s cfgSource) ProviderConfig(id string) (transcription.ProviderConfig, bool) {
	cfg, ok := s[id]
	return cfg, ok
}

func (s cfgSource) ProviderIDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	return ids
}

type stubProvider struct {
	id    string
	valid bool
}

func (p *stubProvider) ID() string                    { return p.id }
func (p *stubProvider) DisplayName() string           { return p.id }
func (p *stubProvider) SupportedLanguages() []string  { return []string{"en"} }
func (p *stubProvider) Validate(_ context.Context) transcription.ValidationResult {
	res := transcription.ValidationResult{Valid: p.valid}
	if !p.valid {
		res.Errors = []string{"credential rejected"}
	}
	return res
}
func (p *stubProvider) Transcribe(_ context.Context, _ transcription.Request, _ transcription.ProgressFunc) (string, error) {
	return "stub text", nil
}

type fixture struct {
	handler *Handler
	engine  *gin.Engine
	queue   *job.Queue
	hub     *sse.Hub
	dir     string
}

func newFixture(t *testing.T, runner job.Runner, configs cfgSource) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.NewDefault("test")

	dir := t.TempDir()
	store := job.NewStore(filepath.Join(dir, "jobs.json"))

	hub := sse.NewHub()
	go hub.Run()
	t.Cleanup(hub.Stop)

	bridge := NewEventBridge(hub, log)
	settings := func() transcription.Settings { return transcription.Settings{} }
	q := job.NewQueue(runner, store, bridge, settings)
	if err := q.Start(context.Background()); err != nil {
		t.Fatalf("queue start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = q.Stop(ctx)
	})

	if configs == nil {
		configs = cfgSource{}
	}
	reg := transcription.NewRegistry(configs, secrets.NewMemStore())
	reg.RegisterFactory("stub", func(cfg transcription.ProviderConfig, _ secrets.Store) (transcription.Provider, error) {
		return &stubProvider{id: cfg.ID, valid: true}, nil
	})

	h := NewHandler(q, reg, configs, hub, nil, log)
	engine := gin.New()
	h.RegisterRoutes(engine)

	return &fixture{handler: h, engine: engine, queue: q, hub: hub, dir: dir}
}

func (f *fixture) sourceFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	if err := os.WriteFile(path, []byte("RIFF fake audio"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return path
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	f.engine.ServeHTTP(rr, req)
	return rr
}

func decodeJob(t *testing.T, body []byte) job.Job {
	t.Helper()
	var resp struct {
		Data job.Job `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode job response: %v (body: %s)", err, body)
	}
	return resp.Data
}

func (f *fixture) waitForStatus(t *testing.T, id string, want job.Status) job.Job {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if j, ok := f.queue.Job(id); ok && j.Status == want {
			return j
		}
		time.Sleep(5 * time.Millisecond)
	}
	j, _ := f.queue.Job(id)
	t.Fatalf("job %s never reached %s (last: %s)", id, want, j.Status)
	return job.Job{}
}

func TestCreateJobRunsToCompletion(t *testing.T) {
	f := newFixture(t, stubRunner{result: "hello world"}, nil)
	src := f.sourceFile(t, "a.wav")

	rr := f.do(t, "POST", "/v1/jobs", map[string]any{"source_path": src})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	created := decodeJob(t, rr.Body.Bytes())
	if created.ID == "" {
		t.Fatal("expected a job id")
	}

	done := f.waitForStatus(t, created.ID, job.StatusCompleted)
	if done.ResultText != "hello world" {
		t.Fatalf("expected result text, got %q", done.ResultText)
	}

	rr = f.do(t, "GET", "/v1/jobs/"+created.ID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	got := decodeJob(t, rr.Body.Bytes())
	if got.Status != job.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
}

func TestCreateJobMissingSource(t *testing.T) {
	f := newFixture(t, stubRunner{result: "x"}, nil)

	rr := f.do(t, "POST", "/v1/jobs", map[string]any{"source_path": filepath.Join(f.dir, "gone.wav")})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestCreateJobRejectsEmptyBody(t *testing.T) {
	f := newFixture(t, stubRunner{result: "x"}, nil)

	rr := f.do(t, "POST", "/v1/jobs", map[string]any{})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestGetJobNotFound(t *testing.T) {
	f := newFixture(t, stubRunner{result: "x"}, nil)

	rr := f.do(t, "GET", "/v1/jobs/nope", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if resp.Error.Code != "not_found" {
		t.Fatalf("expected code not_found, got %q", resp.Error.Code)
	}
}

func TestListJobs(t *testing.T) {
	f := newFixture(t, stubRunner{result: "x"}, nil)
	src := f.sourceFile(t, "a.wav")

	rr := f.do(t, "POST", "/v1/jobs", map[string]any{"source_path": src})
	created := decodeJob(t, rr.Body.Bytes())
	f.waitForStatus(t, created.ID, job.StatusCompleted)

	rr = f.do(t, "GET", "/v1/jobs", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp struct {
		Data []job.Job `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(resp.Data) != 1 || resp.Data[0].ID != created.ID {
		t.Fatalf("expected the created job, got %+v", resp.Data)
	}
}

func TestCancelCompletedJobConflicts(t *testing.T) {
	f := newFixture(t, stubRunner{result: "x"}, nil)
	src := f.sourceFile(t, "a.wav")

	rr := f.do(t, "POST", "/v1/jobs", map[string]any{"source_path": src})
	created := decodeJob(t, rr.Body.Bytes())
	f.waitForStatus(t, created.ID, job.StatusCompleted)

	rr = f.do(t, "POST", "/v1/jobs/"+created.ID+"/cancel", nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 cancelling a finished job, got %d", rr.Code)
	}
}

func TestRequeueFailedJob(t *testing.T) {
	f := newFixture(t, stubRunner{err: transcription.NewError(transcription.KindProcessingFailed, "stub", "boom")}, nil)
	src := f.sourceFile(t, "a.wav")

	rr := f.do(t, "POST", "/v1/jobs", map[string]any{"source_path": src})
	created := decodeJob(t, rr.Body.Bytes())
	f.waitForStatus(t, created.ID, job.StatusFailed)

	rr = f.do(t, "POST", "/v1/jobs/"+created.ID+"/requeue", nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestRequeueUnknownJob(t *testing.T) {
	f := newFixture(t, stubRunner{result: "x"}, nil)

	rr := f.do(t, "POST", "/v1/jobs/nope/requeue", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestListProviders(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "model.bin")
	if err := os.WriteFile(model, []byte("weights"), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}

	configs := cfgSource{
		"local": {ID: "local", Kind: "stub", Enabled: true, Priority: 1, ModelPath: model},
		"cloud": {ID: "cloud", Kind: "stub", Enabled: true, Priority: 2, DisplayName: "Cloud STT", CredentialRef: "MISSING_KEY"},
	}
	f := newFixture(t, stubRunner{result: "x"}, configs)

	rr := f.do(t, "GET", "/v1/providers", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp struct {
		Data []ProviderInfo `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode providers: %v", err)
	}
	if len(resp.Data) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(resp.Data))
	}
	if resp.Data[0].ID != "local" || resp.Data[1].ID != "cloud" {
		t.Fatalf("expected priority order local, cloud; got %s, %s", resp.Data[0].ID, resp.Data[1].ID)
	}
	if !resp.Data[0].Available {
		t.Error("local provider with a readable model should be available")
	}
	if resp.Data[1].Available {
		t.Error("cloud provider without a credential should not be available")
	}
	if resp.Data[1].DisplayName != "Cloud STT" {
		t.Errorf("expected configured display name, got %q", resp.Data[1].DisplayName)
	}
}

func TestValidateUnknownProvider(t *testing.T) {
	f := newFixture(t, stubRunner{result: "x"}, nil)

	rr := f.do(t, "POST", "/v1/providers/nope/validate", nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for unconfigured provider, got %d", rr.Code)
	}
}

func TestInvalidateProvider(t *testing.T) {
	f := newFixture(t, stubRunner{result: "x"}, nil)

	rr := f.do(t, "POST", "/v1/providers/anything/invalidate", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
}

func TestEventsStreamDeliversJobEvents(t *testing.T) {
	f := newFixture(t, stubRunner{result: "streamed"}, nil)

	srv := httptest.NewServer(f.handler.Events())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("open event stream: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected text/event-stream, got %s", ct)
	}

	scanner := bufio.NewScanner(resp.Body)

	// First frame announces the connection.
	readFrame := func() string {
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, "data: ") {
				return strings.TrimPrefix(line, "data: ")
			}
		}
		t.Fatalf("stream ended early: %v", scanner.Err())
		return ""
	}

	connected := readFrame()
	if !strings.Contains(connected, "client_id") {
		t.Fatalf("expected connected frame, got %q", connected)
	}

	src := f.sourceFile(t, "a.wav")
	if _, err := f.queue.Enqueue(src, 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var ev job.Event
	if err := json.Unmarshal([]byte(readFrame()), &ev); err != nil {
		t.Fatalf("decode event frame: %v", err)
	}
	if ev.Type != job.EventStatus {
		t.Fatalf("expected a status event first, got %s", ev.Type)
	}
	if ev.Job.SourcePath != src {
		t.Fatalf("expected event for enqueued job, got %+v", ev.Job)
	}
}
