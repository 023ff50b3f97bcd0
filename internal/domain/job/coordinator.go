// Package job coordinates settlement file processing. A submitted upload is
// queued, parsed by a background worker, and its grouped result held in
// memory for status polls, report generation, and history persistence.
package job

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/settlement-tracker/internal/domain/history"
	"github.com/FACorreiaa/settlement-tracker/internal/domain/report"
	"github.com/FACorreiaa/settlement-tracker/internal/domain/settlement"
	"github.com/FACorreiaa/settlement-tracker/pkg/observability"
)

// Status is the lifecycle state of one processing job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

var (
	ErrNotFound     = errors.New("processing job not found")
	ErrNotFinished  = errors.New("processing job not finished")
	ErrJobFailed    = errors.New("processing job failed")
	ErrShuttingDown = errors.New("coordinator is shutting down")
	ErrQueueFull    = errors.New("processing queue is full")
)

const (
	defaultQueueSize    = 256
	defaultParseTimeout = 30 * time.Minute
)

// Request describes one upload to process. The file is already on disk; the
// coordinator owns it from here and deletes it once the job finishes.
type Request struct {
	Channel      string
	Area         string
	UploadPath   string
	OriginalName string
}

// Result is the outcome of a completed job.
type Result struct {
	Aggregation *settlement.Aggregation
	Stats       *settlement.Stats
	Separator   string
	Encoding    string
}

// Snapshot is a point-in-time copy of a job's state, safe to read after the
// coordinator lock is released. Result is set only on completed jobs and is
// immutable from then on.
type Snapshot struct {
	ID           uuid.UUID
	Channel      string
	Area         string
	OriginalName string
	Status       Status
	Progress     int
	Error        string
	Result       *Result
	SubmittedAt  time.Time
	FinishedAt   time.Time
}

// record is a job's live state. All fields are guarded by Coordinator.mu;
// workers never hold the lock across parsing or I/O.
type record struct {
	id        uuid.UUID
	req       Request
	status    Status
	progress  int
	errMsg    string
	result    *Result
	submitted time.Time
	finished  time.Time
}

func (r *record) snapshot() *Snapshot {
	return &Snapshot{
		ID:           r.id,
		Channel:      r.req.Channel,
		Area:         r.req.Area,
		OriginalName: r.req.OriginalName,
		Status:       r.status,
		Progress:     r.progress,
		Error:        r.errMsg,
		Result:       r.result,
		SubmittedAt:  r.submitted,
		FinishedAt:   r.finished,
	}
}

// Config sizes the coordinator's worker pool. ParseTimeout bounds one job's
// decode and parse; zero means the default.
type Config struct {
	Workers      int
	QueueSize    int
	ParseTimeout time.Duration
}

// Coordinator owns the job table and the worker pool that drains it.
type Coordinator struct {
	logger       *slog.Logger
	parser       *settlement.Parser
	builder      *report.Builder
	store        history.RunStore
	tracer       trace.Tracer
	parseTimeout time.Duration

	mu        sync.Mutex
	jobs      map[uuid.UUID]*record
	closed    bool
	abandoned int

	queue  chan uuid.UUID
	wg     sync.WaitGroup
	runCtx context.Context
	cancel context.CancelFunc
}

// NewCoordinator starts the worker pool. store may be nil, in which case
// completed runs are not persisted.
func NewCoordinator(cfg Config, parser *settlement.Parser, builder *report.Builder, store history.RunStore, logger *slog.Logger) *Coordinator {
	workers := cfg.Workers
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}
	queueSize := cfg.QueueSize
	if queueSize < 1 {
		queueSize = defaultQueueSize
	}
	parseTimeout := cfg.ParseTimeout
	if parseTimeout <= 0 {
		parseTimeout = defaultParseTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		logger:       logger,
		parser:       parser,
		builder:      builder,
		store:        store,
		tracer:       otel.Tracer("settlement/job"),
		parseTimeout: parseTimeout,
		jobs:         make(map[uuid.UUID]*record),
		queue:        make(chan uuid.UUID, queueSize),
		runCtx:       ctx,
		cancel:       cancel,
	}

	for i := 0; i < workers; i++ {
		c.wg.Add(1)
		go c.worker()
	}
	logger.Info("job coordinator started", slog.Int("workers", workers), slog.Int("queue_size", queueSize))

	return c
}

// Submit validates the request, registers a queued job, and hands it to the
// pool. It returns immediately; progress is observable through Status.
func (c *Coordinator) Submit(req Request) (uuid.UUID, error) {
	if !settlement.ValidChannel(req.Channel) {
		return uuid.Nil, fmt.Errorf("%w: %s", settlement.ErrUnknownChannel, req.Channel)
	}
	if !settlement.ValidArea(req.Area) {
		return uuid.Nil, fmt.Errorf("%w: %s", settlement.ErrInvalidArea, req.Area)
	}

	id := uuid.New()
	rec := &record{id: id, req: req, status: StatusQueued, submitted: time.Now()}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return uuid.Nil, ErrShuttingDown
	}
	c.jobs[id] = rec
	select {
	case c.queue <- id:
	default:
		delete(c.jobs, id)
		c.mu.Unlock()
		return uuid.Nil, ErrQueueFull
	}
	c.mu.Unlock()

	c.logger.Info("job queued",
		slog.String("job_id", id.String()),
		slog.String("channel", req.Channel),
		slog.String("area", req.Area),
		slog.String("filename", req.OriginalName),
	)
	return id, nil
}

// Status returns a snapshot of the job, or false if the id is unknown.
func (c *Coordinator) Status(id uuid.UUID) (*Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.jobs[id]
	if !ok {
		return nil, false
	}
	return rec.snapshot(), true
}

// Result returns a completed job's result. A queued or running job yields
// ErrNotFinished; a failed job yields ErrJobFailed with its message.
func (c *Coordinator) Result(id uuid.UUID) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	switch rec.status {
	case StatusCompleted:
		return rec.result, nil
	case StatusError:
		return nil, fmt.Errorf("%w: %s", ErrJobFailed, rec.errMsg)
	default:
		return nil, ErrNotFinished
	}
}

// BuildArchive renders a completed job's groups into the downloadable zip.
func (c *Coordinator) BuildArchive(ctx context.Context, id uuid.UUID, baseName string) (*report.Archive, error) {
	c.mu.Lock()
	rec, ok := c.jobs[id]
	if !ok {
		c.mu.Unlock()
		return nil, ErrNotFound
	}
	snap := rec.snapshot()
	c.mu.Unlock()

	if snap.Status != StatusCompleted {
		if snap.Status == StatusError {
			return nil, fmt.Errorf("%w: %s", ErrJobFailed, snap.Error)
		}
		return nil, ErrNotFinished
	}

	in := report.Input{
		Groups:   resultGroups(snap.Result.Aggregation),
		BaseName: baseName,
		Area:     snap.Area,
	}
	return c.builder.Build(ctx, in)
}

// Shutdown stops intake and drains the pool. If ctx expires first, in-flight
// parses are cancelled and remaining queued jobs are abandoned with a logged
// warning.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.queue)
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("job coordinator drained")
		return nil
	case <-ctx.Done():
		c.cancel()
		<-done
		c.mu.Lock()
		abandoned := c.abandoned
		c.mu.Unlock()
		c.logger.Warn("job coordinator shut down before draining", slog.Int("abandoned_jobs", abandoned))
		return ctx.Err()
	}
}

func (c *Coordinator) worker() {
	defer c.wg.Done()
	for id := range c.queue {
		if c.runCtx.Err() != nil {
			c.abandon(id)
			continue
		}
		c.process(id)
	}
}

// process runs one job end to end, bounded by the parse timeout. The upload
// file is removed whichever way the job ends.
func (c *Coordinator) process(id uuid.UUID) {
	req, ok := c.markProcessing(id)
	if !ok {
		return
	}
	defer c.removeUpload(req.UploadPath)

	observability.ActiveJobs.Inc()
	defer observability.ActiveJobs.Dec()

	ctx, cancel := context.WithTimeout(c.runCtx, c.parseTimeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "job.process", trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.String("job.id", id.String()),
		attribute.String("settlement.channel", req.Channel),
		attribute.String("settlement.area", req.Area),
	)
	defer span.End()

	data, err := os.ReadFile(req.UploadPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.fail(id, req.Channel, fmt.Sprintf("failed to read upload: %v", err))
		return
	}

	text, encoding, err := settlement.DecodeContent(data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.fail(id, req.Channel, err.Error())
		return
	}
	span.SetAttributes(attribute.String("settlement.encoding", encoding))

	progress := func(done, total int) {
		c.setProgress(id, progressPercent(done, total))
	}

	started := time.Now()
	parseCtx, parseSpan := c.tracer.Start(ctx, "job.parse")
	agg, stats, err := c.parser.Run(parseCtx, text, req.Channel, progress)
	if err != nil {
		parseSpan.RecordError(err)
		parseSpan.SetStatus(codes.Error, err.Error())
		parseSpan.End()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			c.fail(id, req.Channel, fmt.Sprintf("processing timed out after %s", c.parseTimeout))
		case errors.Is(err, context.Canceled):
			c.fail(id, req.Channel, "processing abandoned during shutdown")
		default:
			c.fail(id, req.Channel, err.Error())
		}
		return
	}
	parseSpan.SetAttributes(
		attribute.Int("settlement.lines", stats.Lines),
		attribute.Int("settlement.records", stats.Records),
	)
	parseSpan.SetStatus(codes.Ok, "ok")
	parseSpan.End()

	desc, _ := settlement.Lookup(req.Channel)
	result := &Result{
		Aggregation: agg,
		Stats:       stats,
		Separator:   desc.Delimiter.Symbol(),
		Encoding:    encoding,
	}
	c.complete(id, result)

	elapsed := time.Since(started)
	span.SetAttributes(attribute.Int("settlement.groups", agg.Len()))
	span.SetStatus(codes.Ok, "ok")
	observability.JobsTotal.WithLabelValues(req.Channel, string(StatusCompleted)).Inc()
	observability.JobDuration.WithLabelValues(req.Channel).Observe(elapsed.Seconds())
	observability.LinesParsed.WithLabelValues(req.Channel).Add(float64(stats.Lines))
	for reason, n := range stats.SkipReasons {
		observability.LinesSkipped.WithLabelValues(req.Channel, reason).Add(float64(n))
	}

	c.logger.Info("job completed",
		slog.String("job_id", id.String()),
		slog.String("channel", req.Channel),
		slog.Int("lines", stats.Lines),
		slog.Int("records", stats.Records),
		slog.Int("groups", agg.Len()),
		slog.Duration("elapsed", elapsed),
	)

	c.persist(id, req, result)
}

func (c *Coordinator) markProcessing(id uuid.UUID) (Request, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.jobs[id]
	if !ok {
		return Request{}, false
	}
	rec.status = StatusProcessing
	return rec.req, true
}

func (c *Coordinator) setProgress(id uuid.UUID, percent int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec, ok := c.jobs[id]; ok {
		rec.progress = percent
	}
}

func (c *Coordinator) fail(id uuid.UUID, channel, msg string) {
	c.mu.Lock()
	rec, ok := c.jobs[id]
	if ok {
		rec.status = StatusError
		rec.errMsg = msg
		rec.finished = time.Now()
	}
	c.mu.Unlock()

	observability.JobsTotal.WithLabelValues(channel, string(StatusError)).Inc()
	c.logger.Error("job failed", slog.String("job_id", id.String()), slog.String("error", msg))
}

func (c *Coordinator) complete(id uuid.UUID, result *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec, ok := c.jobs[id]; ok {
		rec.status = StatusCompleted
		rec.progress = 100
		rec.result = result
		rec.finished = time.Now()
	}
}

func (c *Coordinator) abandon(id uuid.UUID) {
	c.mu.Lock()
	rec, ok := c.jobs[id]
	var path, channel string
	if ok {
		rec.status = StatusError
		rec.errMsg = "processing abandoned during shutdown"
		rec.finished = time.Now()
		path = rec.req.UploadPath
		channel = rec.req.Channel
	}
	c.abandoned++
	c.mu.Unlock()

	observability.JobsTotal.WithLabelValues(channel, string(StatusError)).Inc()

	c.logger.Warn("job abandoned during shutdown", slog.String("job_id", id.String()))
	if path != "" {
		c.removeUpload(path)
	}
}

func (c *Coordinator) removeUpload(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		c.logger.Warn("failed to remove upload", slog.String("path", path), slog.Any("error", err))
	}
}

// persist writes the run's summary to the history store. Failures are logged
// and never affect the job's outcome.
func (c *Coordinator) persist(id uuid.UUID, req Request, result *Result) {
	if c.store == nil {
		return
	}

	c.mu.Lock()
	rec, ok := c.jobs[id]
	var submitted, finished time.Time
	if ok {
		submitted, finished = rec.submitted, rec.finished
	}
	c.mu.Unlock()

	agg := result.Aggregation
	run := &history.Run{
		ID:          id,
		Channel:     req.Channel,
		Area:        req.Area,
		Filename:    req.OriginalName,
		Encoding:    result.Encoding,
		LineCount:   result.Stats.Lines,
		RecordCount: result.Stats.Records,
		GroupCount:  agg.Len(),
		TotalCents:  agg.TotalCents(),
		SubmittedAt: submitted,
		CompletedAt: finished,
	}
	groups := make([]*history.RunGroup, 0, agg.Len())
	for _, ref := range agg.Keys() {
		g, _ := agg.Group(ref)
		groups = append(groups, &history.RunGroup{
			RunID:      id,
			Reference:  ref,
			Count:      g.Count,
			TotalCents: g.TotalCents,
			Dates:      g.Dates(),
		})
	}

	if err := c.store.SaveRun(c.runCtx, run, groups); err != nil {
		c.logger.Warn("failed to persist run history", slog.String("job_id", id.String()), slog.Any("error", err))
	}
}

// resultGroups projects an aggregation into the report builder's input, in
// group insertion order.
func resultGroups(agg *settlement.Aggregation) []report.Group {
	groups := make([]report.Group, 0, agg.Len())
	for _, ref := range agg.Keys() {
		g, _ := agg.Group(ref)
		groups = append(groups, report.Group{
			Reference:  ref,
			Count:      g.Count,
			TotalCents: g.TotalCents,
			Channel:    g.Channel,
			Dates:      g.Dates(),
			RawLines:   g.RawLines,
		})
	}
	return groups
}

func progressPercent(done, total int) int {
	if total <= 0 {
		return 100
	}
	return done * 100 / total
}
