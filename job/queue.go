package job

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync/atomic"
	"time"

	"github.com/skillsenselab/voxpipe/component"
	"github.com/skillsenselab/voxpipe/logger"
	"github.com/skillsenselab/voxpipe/transcription"
)

// Common queue errors.
var (
	ErrNotFound     = errors.New("job not found")
	ErrNotRequeue   = errors.New("only completed or failed jobs can be requeued")
	ErrAlreadyDone  = errors.New("job already finished")
	ErrQueueStopped = errors.New("queue is stopped")
)

// Runner executes one transcription run. *transcription.Orchestrator is the
// production implementation.
type Runner interface {
	Run(ctx context.Context, req transcription.Request, onProgress transcription.ProgressFunc) (string, error)
}

// SettingsSource returns the current global settings. The queue snapshots
// them when a job starts running, so mid-run preference changes never affect
// an in-flight job.
type SettingsSource func() transcription.Settings

// Queue is the single-lane job queue. All state lives on the worker loop
// goroutine; the public methods send it messages instead of locking shared
// state from caller goroutines.
type Queue struct {
	runner   Runner
	store    *Store
	pub      Publisher
	settings SettingsSource
	log      *logger.Logger

	cmds     chan func()
	progress chan func()
	quit     chan struct{}
	loopDone chan struct{}
	started  atomic.Bool

	// loop-owned state, never touched outside the loop after Start.
	jobs    map[string]*Job
	nextSeq int64
	active  *activeRun

	// activeRuns counts jobs in Converting/Transcribing for invariant
	// checks; it must never exceed 1.
	activeRuns atomic.Int32

	baseCtx    context.Context
	baseCancel context.CancelFunc
}

type activeRun struct {
	jobID  string
	cancel context.CancelFunc
	done   chan struct{}
}

// runOutcome is posted back to the loop when a run settles.
type runOutcome struct {
	jobID string
	text  string
	err   error
}

// NewQueue creates a queue. pub may be nil; settings must not be.
func NewQueue(runner Runner, store *Store, pub Publisher, settings SettingsSource) *Queue {
	if pub == nil {
		pub = NopPublisher{}
	}
	return &Queue{
		runner:   runner,
		store:    store,
		pub:      pub,
		settings: settings,
		log:      logger.WithComponent("queue"),
		cmds:     make(chan func(), 64),
		progress: make(chan func(), 256),
		quit:     make(chan struct{}),
		loopDone: make(chan struct{}),
		jobs:     make(map[string]*Job),
	}
}

// Name implements component.Component.
func (q *Queue) Name() string { return "queue" }

// Start loads persisted jobs, repairs state left by a crash, and starts the
// worker loop. Jobs interrupted mid-run return to Pending; pending jobs whose
// source no longer resolves are discarded.
func (q *Queue) Start(ctx context.Context) error {
	jobs, err := q.store.Load()
	if err != nil {
		return err
	}

	for _, j := range jobs {
		if j.Status.Active() {
			q.log.Warn("resetting interrupted job", logger.JobFields(j.ID, logger.FieldStatus, string(j.Status)))
			j.Status = StatusPending
			j.Progress = 0
			j.Provider = ""
		}
		if j.Status == StatusPending {
			if _, err := os.Stat(j.SourcePath); err != nil {
				q.log.Warn("discarding pending job with missing source",
					logger.JobFields(j.ID, logger.FieldSource, j.SourcePath))
				continue
			}
		}
		q.jobs[j.ID] = j
		if j.Seq >= q.nextSeq {
			q.nextSeq = j.Seq + 1
		}
	}
	if err := q.persist(); err != nil {
		return err
	}

	q.baseCtx, q.baseCancel = context.WithCancel(context.Background())
	q.started.Store(true)
	go q.loop()
	q.log.Info("queue started", logger.Fields("jobs", len(q.jobs)))
	return nil
}

// Stop cancels the active run and shuts the loop down, waiting up to the
// context deadline for it to settle.
func (q *Queue) Stop(ctx context.Context) error {
	if !q.started.CompareAndSwap(true, false) {
		return nil
	}
	q.baseCancel()
	close(q.quit)
	select {
	case <-q.loopDone:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue: shutdown timed out: %w", ctx.Err())
	}
}

// Health implements component.Component.
func (q *Queue) Health(ctx context.Context) component.Health {
	h := component.Health{Name: q.Name(), Status: component.StatusHealthy}
	if !q.started.Load() {
		h.Status = component.StatusUnhealthy
		h.Message = "not started"
	}
	return h
}

// Enqueue creates a pending job and wakes the worker. It never blocks on job
// execution.
func (q *Queue) Enqueue(sourcePath string, duration time.Duration) (string, error) {
	id, ok := call(q, func() string {
		j := NewJob(sourcePath, duration, q.nextSeq)
		q.nextSeq++
		q.jobs[j.ID] = j
		q.publish(EventStatus, j)
		if err := q.persist(); err != nil {
			q.log.Error("persist after enqueue failed", logger.ErrorFields("enqueue", err))
		}
		q.log.Info("job enqueued", logger.JobFields(j.ID, logger.FieldSource, sourcePath))
		return j.ID
	})
	if !ok {
		return "", ErrQueueStopped
	}
	return id, nil
}

// Cancel marks a job for cancellation. A running job gets its run context
// cancelled and settles through the normal completion path; a pending job is
// removed from the lane and recorded as failed with a cancellation message.
func (q *Queue) Cancel(id string) error {
	return callErr(q, func() error {
		j, ok := q.jobs[id]
		if !ok {
			return ErrNotFound
		}
		if q.active != nil && q.active.jobID == id {
			q.log.Info("cancelling running job", logger.JobFields(id))
			q.active.cancel()
			return nil
		}
		switch j.Status {
		case StatusPending:
			q.setStatus(j, StatusFailed)
			j.ErrorMessage = "cancelled before start"
			j.ErrorKind = string(transcription.KindCancelled)
			q.publish(EventCancelled, j)
			if err := q.persist(); err != nil {
				q.log.Error("persist after cancel failed", logger.ErrorFields("cancel", err))
			}
			return nil
		default:
			return ErrAlreadyDone
		}
	})
}

// Requeue puts a terminal job back at the tail of the queue. A job whose
// source no longer resolves goes straight to Failed without re-entering
// Pending.
func (q *Queue) Requeue(id string) error {
	return callErr(q, func() error {
		j, ok := q.jobs[id]
		if !ok {
			return ErrNotFound
		}
		if !j.Status.Terminal() {
			return ErrNotRequeue
		}
		if _, err := os.Stat(j.SourcePath); err != nil {
			q.setStatus(j, StatusFailed)
			j.Progress = 0
			j.ResultText = ""
			j.ErrorMessage = "source not found"
			j.ErrorKind = string(transcription.KindProcessingFailed)
			q.publish(EventStatus, j)
			if persistErr := q.persist(); persistErr != nil {
				q.log.Error("persist after requeue failed", logger.ErrorFields("requeue", persistErr))
			}
			return nil
		}

		q.setStatus(j, StatusPending)
		j.Progress = 0
		j.Provider = ""
		j.ResultText = ""
		j.ErrorMessage = ""
		j.ErrorKind = ""
		j.Seq = q.nextSeq
		q.nextSeq++
		q.publish(EventStatus, j)
		if err := q.persist(); err != nil {
			q.log.Error("persist after requeue failed", logger.ErrorFields("requeue", err))
		}
		q.log.Info("job requeued", logger.JobFields(id))
		return nil
	})
}

// Job returns a snapshot of one job.
func (q *Queue) Job(id string) (Job, bool) {
	type snapshot struct {
		job Job
		ok  bool
	}
	r, alive := call(q, func() snapshot {
		j, ok := q.jobs[id]
		if !ok {
			return snapshot{}
		}
		return snapshot{job: *j, ok: true}
	})
	if !alive {
		return Job{}, false
	}
	return r.job, r.ok
}

// Jobs returns snapshots of all jobs ordered by Seq.
func (q *Queue) Jobs() []Job {
	jobs, _ := call(q, func() []Job {
		out := make([]Job, 0, len(q.jobs))
		for _, j := range q.jobs {
			out = append(out, *j)
		}
		sort.Slice(out, func(i, k int) bool { return out[i].Seq < out[k].Seq })
		return out
	})
	return jobs
}

// ActiveRuns reports how many jobs are currently in an active stage. The
// single-lane invariant keeps this at 0 or 1.
func (q *Queue) ActiveRuns() int32 { return q.activeRuns.Load() }

// --- worker loop ---

func (q *Queue) loop() {
	defer close(q.loopDone)
	for {
		q.schedule()
		select {
		case <-q.quit:
			q.drainActive()
			return
		case cmd := <-q.cmds:
			cmd()
		case fn := <-q.progress:
			fn()
		}
	}
}

// drainActive waits for a cancelled active run to settle during shutdown so
// its goroutine does not outlive the loop.
func (q *Queue) drainActive() {
	if q.active == nil {
		return
	}
	done := q.active.done
	for {
		select {
		case <-done:
			// Apply the pending outcome message if it is queued.
			select {
			case fn := <-q.progress:
				fn()
				continue
			case cmd := <-q.cmds:
				cmd()
				continue
			default:
				return
			}
		case fn := <-q.progress:
			fn()
		case cmd := <-q.cmds:
			cmd()
		}
	}
}

// schedule starts the oldest pending job when the lane is free.
func (q *Queue) schedule() {
	if q.active != nil {
		return
	}
	next := q.oldestPending()
	if next == nil {
		return
	}

	if _, err := os.Stat(next.SourcePath); err != nil {
		q.setStatus(next, StatusFailed)
		next.ErrorMessage = "source not found"
		next.ErrorKind = string(transcription.KindProcessingFailed)
		q.publish(EventStatus, next)
		if persistErr := q.persist(); persistErr != nil {
			q.log.Error("persist failed", logger.ErrorFields("schedule", persistErr))
		}
		return
	}

	q.setStatus(next, StatusConverting)
	next.Progress = 0
	q.publish(EventStatus, next)
	if err := q.persist(); err != nil {
		q.log.Error("persist failed", logger.ErrorFields("schedule", err))
	}

	runCtx, cancel := context.WithCancel(q.baseCtx)
	run := &activeRun{jobID: next.ID, cancel: cancel, done: make(chan struct{})}
	q.active = run
	q.activeRuns.Add(1)

	req := transcription.Request{
		AudioPath: next.SourcePath,
		Duration:  next.Duration,
		Settings:  q.settings(),
	}
	jobID := next.ID

	go func() {
		defer close(run.done)
		defer cancel()
		text, err := q.runner.Run(runCtx, req, func(p transcription.Progress) {
			q.postProgress(jobID, p)
		})
		q.postOutcome(runOutcome{jobID: jobID, text: text, err: err})
	}()
}

func (q *Queue) oldestPending() *Job {
	var next *Job
	for _, j := range q.jobs {
		if j.Status != StatusPending {
			continue
		}
		if next == nil || j.Seq < next.Seq {
			next = j
		}
	}
	return next
}

// postProgress hands a provider progress report to the loop. Reports are
// dropped rather than blocking the provider when the loop is saturated.
func (q *Queue) postProgress(jobID string, p transcription.Progress) {
	fn := func() { q.applyProgress(jobID, p) }
	select {
	case q.progress <- fn:
	default:
	}
}

// postOutcome must not be dropped; it blocks until the loop accepts it.
func (q *Queue) postOutcome(out runOutcome) {
	select {
	case q.progress <- func() { q.applyOutcome(out) }:
	case <-q.loopDone:
	}
}

func (q *Queue) applyProgress(jobID string, p transcription.Progress) {
	j, ok := q.jobs[jobID]
	if !ok || !j.Status.Active() {
		return
	}
	if j.Status == StatusConverting {
		q.setStatus(j, StatusTranscribing)
		q.publish(EventStatus, j)
	}
	if p.Fraction > j.Progress {
		j.Progress = p.Fraction
	}
	j.Provider = p.Provider
	q.publish(EventProgress, j)
}

func (q *Queue) applyOutcome(out runOutcome) {
	if q.active == nil || q.active.jobID != out.jobID {
		return
	}
	q.active = nil
	q.activeRuns.Add(-1)

	j, ok := q.jobs[out.jobID]
	if !ok {
		return
	}

	switch {
	case out.err == nil:
		q.setStatus(j, StatusCompleted)
		j.Progress = 1.0
		j.ResultText = out.text
		j.ErrorMessage = ""
		j.ErrorKind = ""
		q.publish(EventStatus, j)
		q.log.Info("job completed", logger.JobFields(j.ID, logger.FieldProvider, j.Provider))
	case transcription.KindOf(out.err) == transcription.KindCancelled:
		q.setStatus(j, StatusFailed)
		j.ErrorMessage = "transcription cancelled"
		j.ErrorKind = string(transcription.KindCancelled)
		q.publish(EventCancelled, j)
		q.log.Info("job cancelled", logger.JobFields(j.ID))
	default:
		q.setStatus(j, StatusFailed)
		j.ErrorMessage = transcription.Message(out.err)
		j.ErrorKind = string(transcription.KindOf(out.err))
		q.publish(EventStatus, j)
		q.log.Warn("job failed", logger.JobFields(j.ID,
			logger.FieldError, j.ErrorMessage, "kind", j.ErrorKind))
	}

	if err := q.persist(); err != nil {
		q.log.Error("persist failed", logger.ErrorFields("outcome", err))
	}
}

// setStatus applies a transition, logging an invalid edge instead of
// failing the run; edges are checked so a programming error surfaces in logs.
func (q *Queue) setStatus(j *Job, to Status) {
	if err := j.Transition(to); err != nil {
		q.log.Error("job transition rejected", logger.JobFields(j.ID, logger.FieldError, err.Error()))
	}
}

func (q *Queue) publish(t EventType, j *Job) {
	q.pub.Publish(Event{Type: t, Timestamp: time.Now().UTC(), Job: *j})
}

func (q *Queue) persist() error {
	jobs := make([]*Job, 0, len(q.jobs))
	for _, j := range q.jobs {
		jobs = append(jobs, j)
	}
	return q.store.Save(jobs)
}

// call sends a closure to the loop and waits for its reply. The loop never
// blocks on job execution, so replies are prompt. The second return is false
// when the queue is stopped.
func call[R any](q *Queue, fn func() R) (R, bool) {
	var zero R
	if !q.started.Load() {
		return zero, false
	}
	reply := make(chan R, 1)
	select {
	case q.cmds <- func() { reply <- fn() }:
	case <-q.quit:
		return zero, false
	}
	select {
	case r := <-reply:
		return r, true
	case <-q.loopDone:
		return zero, false
	}
}

func callErr(q *Queue, fn func() error) error {
	err, ok := call(q, fn)
	if !ok {
		return ErrQueueStopped
	}
	return err
}
