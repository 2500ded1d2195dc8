package core

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pixfold/image-editor/config"
	apperrors "github.com/pixfold/image-editor/errors"
	"github.com/pixfold/image-editor/utils"
)

// PipelineRunner is a minimal interface over pipeline.Pipeline so that core
// does not import the pipeline package (avoiding a circular dependency).
type PipelineRunner interface {
	Run(ctx context.Context, img *ImageData) (*ImageData, map[string]time.Duration, error)
	Clone() PipelineRunner
}

// Editor is the central orchestrator.  It is safe for concurrent use.
type Editor struct {
	cfg      config.Config
	registry Registry
	hooks    []Hook
	logger   Logger
	metrics  MetricsCollector

	// Worker pool.
	taskQueue chan Task
	wg        sync.WaitGroup
	once      sync.Once
	stopOnce  sync.Once
	shutdown  chan struct{}

	// Atomic counters for lightweight internal metrics.
	editedCount int64
	errorCount  int64
}

// New creates an Editor with the given config.  Call Start() before
// submitting tasks; call Stop() when done.
func New(cfg config.Config, reg Registry) *Editor {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Editor{
		cfg:       cfg,
		registry:  reg,
		taskQueue: make(chan Task, queueSize),
		shutdown:  make(chan struct{}),
	}
}

// SetLogger attaches a structured logger.
func (e *Editor) SetLogger(l Logger) { e.logger = l }

// SetMetrics attaches a metrics collector.
func (e *Editor) SetMetrics(m MetricsCollector) { e.metrics = m }

// AddHook registers a pipeline hook.
func (e *Editor) AddHook(h Hook) { e.hooks = append(e.hooks, h) }

// Registry returns the underlying registry so callers can register
// encoders/decoders after construction.
func (e *Editor) Registry() Registry { return e.registry }

// Start launches the worker pool.  It is idempotent.
func (e *Editor) Start() {
	e.once.Do(func() {
		workerCount := e.cfg.WorkerCount
		if workerCount <= 0 {
			workerCount = runtime.NumCPU()
		}
		for i := 0; i < workerCount; i++ {
			e.wg.Add(1)
			go e.worker()
		}
	})
}

// Stop signals all workers to exit and waits for them.  Queued tasks that no
// worker has picked up yet are abandoned.  It is idempotent.
func (e *Editor) Stop() {
	e.stopOnce.Do(func() {
		close(e.shutdown)
		e.wg.Wait()
	})
}

// Process is the primary synchronous API.  It reads from src, runs steps, and
// returns an EditResult.
func (e *Editor) Process(ctx context.Context, src Source, steps ...Step) (*EditResult, error) {
	if len(steps) == 0 {
		return nil, apperrors.New(apperrors.CategoryPipeline, "process", apperrors.ErrEmptyInput)
	}

	start := time.Now()

	// --- 1. Drain source into memory (respecting max size limit) -------------
	var limitedR = src.Reader
	if e.cfg.MaxImageBytes > 0 {
		limitedR = &utils.LimitedReader{R: src.Reader, Max: e.cfg.MaxImageBytes}
	}

	buf, err := utils.DrainReader(ctx, limitedR, e.cfg.ChunkSize)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "process.drain", err)
	}
	rawBytes := utils.CloneBytes(buf.Bytes())
	utils.ReleaseBuffer(buf)

	// --- 2. Detect format ----------------------------------------------------
	format := Format(utils.DetectFormat(rawBytes))
	if format == FormatUnknown && src.ContentType != "" {
		format = ContentTypeToFormat(src.ContentType)
	}

	img := &ImageData{
		Data:         rawBytes,
		Format:       format,
		OriginalSize: int64(len(rawBytes)),
	}

	// --- 3. Run steps --------------------------------------------------------
	timings := make(map[string]time.Duration, len(steps))
	current := img
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			atomic.AddInt64(&e.errorCount, 1)
			return nil, apperrors.Wrap(apperrors.CategoryPipeline, step.Name(), err)
		}
		e.notifyBefore(ctx, step.Name(), current)
		t := time.Now()
		next, stepErr := e.runWithRetry(ctx, step, current)
		elapsed := time.Since(t)
		timings[step.Name()] = elapsed
		e.notifyAfter(ctx, step.Name(), next, elapsed, stepErr)
		if stepErr != nil {
			atomic.AddInt64(&e.errorCount, 1)
			return nil, stepErr
		}
		current = next
	}

	atomic.AddInt64(&e.editedCount, 1)

	total := time.Since(start)
	return &EditResult{
		Primary:     current,
		EditTime:    total,
		StepTimings: timings,
	}, nil
}

// Submit enqueues an async task.  Returns ErrTaskQueueFull if the queue is full.
func (e *Editor) Submit(task Task) error {
	select {
	case e.taskQueue <- task:
		return nil
	default:
		return apperrors.New(apperrors.CategoryPipeline, "submit", apperrors.ErrTaskQueueFull)
	}
}

// Batch processes multiple sources concurrently (fan-out / fan-in).
func (e *Editor) Batch(ctx context.Context, sources []Source, steps ...Step) ([]*EditResult, []error) {
	results := make([]*EditResult, len(sources))
	errs := make([]error, len(sources))
	var wg sync.WaitGroup

	for i, src := range sources {
		wg.Add(1)
		go func(idx int, s Source) {
			defer wg.Done()
			r, err := e.Process(ctx, s, steps...)
			results[idx] = r
			errs[idx] = err
		}(i, src)
	}
	wg.Wait()
	return results, errs
}

// ProcessVariants runs each VariantDefinition against the decoded image in
// parallel and returns an EditResult with a populated Variants map.  Useful
// for producing several display sizes from the same crop region.
func (e *Editor) ProcessVariants(ctx context.Context, src Source, baseSteps []Step, variants []VariantDefinition) (*EditResult, error) {
	// First run base steps.
	base, err := e.Process(ctx, src, baseSteps...)
	if err != nil {
		return nil, err
	}

	variantResults := make(map[string]*ImageData, len(variants))
	var mu sync.Mutex
	var wg sync.WaitGroup
	errs := make([]error, 0)

	for _, v := range variants {
		wg.Add(1)
		go func(vd VariantDefinition) {
			defer wg.Done()
			// Clone the base ImageData so variant steps don't mutate each other.
			clone := *base.Primary
			result := &clone
			var stepErr error
			for _, step := range vd.Steps {
				result, stepErr = step.Execute(ctx, result)
				if stepErr != nil {
					mu.Lock()
					errs = append(errs, stepErr)
					mu.Unlock()
					return
				}
			}
			mu.Lock()
			variantResults[vd.Name] = result
			mu.Unlock()
		}(v)
	}
	wg.Wait()

	if len(errs) > 0 {
		return nil, errs[0]
	}
	base.Variants = variantResults
	return base, nil
}

// ── worker pool internals ──────────────────────────────────────────────────────

func (e *Editor) worker() {
	defer e.wg.Done()
	for {
		select {
		case <-e.shutdown:
			return
		case task, ok := <-e.taskQueue:
			if !ok {
				return
			}
			e.processTask(task)
		}
	}
}

func (e *Editor) processTask(task Task) {
	ctx := task.Ctx
	timeout := e.cfg.TaskTimeout
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result, err := e.Process(ctx, task.Source, task.Steps...)
	if task.ResultCh != nil {
		task.ResultCh <- TaskResult{TaskID: task.ID, Result: result, Err: err}
	}
}

func (e *Editor) runWithRetry(ctx context.Context, step Step, img *ImageData) (*ImageData, error) {
	maxRetries := e.cfg.MaxRetries
	delay := e.cfg.RetryDelay

	var (
		result *ImageData
		err    error
	)
	for i := 0; i <= maxRetries; i++ {
		result, err = step.Execute(ctx, img)
		if err == nil || !apperrors.IsRetryable(err) {
			return result, err
		}
		if i < maxRetries {
			select {
			case <-ctx.Done():
				return nil, apperrors.Wrap(apperrors.CategoryPipeline, step.Name(), ctx.Err())
			case <-time.After(delay):
			}
		}
	}
	return result, err
}

func (e *Editor) notifyBefore(ctx context.Context, name string, img *ImageData) {
	for _, h := range e.hooks {
		h.BeforeStep(ctx, name, img)
	}
}

func (e *Editor) notifyAfter(ctx context.Context, name string, img *ImageData, d time.Duration, err error) {
	for _, h := range e.hooks {
		h.AfterStep(ctx, name, img, d, err)
	}
}

// ContentTypeToFormat maps MIME types to Format values.
func ContentTypeToFormat(ct string) Format {
	switch ct {
	case "image/jpeg", "image/jpg":
		return FormatJPEG
	case "image/png":
		return FormatPNG
	case "image/webp":
		return FormatWebP
	}
	return FormatUnknown
}

// EditedCount returns the total number of successfully edited images.
func (e *Editor) EditedCount() int64 { return atomic.LoadInt64(&e.editedCount) }

// ErrorCount returns the total number of processing errors.
func (e *Editor) ErrorCount() int64 { return atomic.LoadInt64(&e.errorCount) }
