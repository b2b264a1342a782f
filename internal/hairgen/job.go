package hairgen

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultMaxPolls     = 60
)

// JobRef is the cancellation handle handed to the caller alongside an
// in-flight Generate. Cancellation is cooperative: it is observed at the
// top of each poll iteration, never mid network call.
type JobRef struct {
	canceled atomic.Bool
}

func NewJobRef() *JobRef { return &JobRef{} }

// Cancel requests a best-effort stop of the job.
func (r *JobRef) Cancel() { r.canceled.Store(true) }

// Canceled reports whether cancellation was requested.
func (r *JobRef) Canceled() bool { return r != nil && r.canceled.Load() }

// job is the orchestrator's private view of one provider-side task. It
// lives only for the duration of the Generate call.
type job struct {
	handle    JobHandle
	state     JobState
	createdAt time.Time
	lastPoll  time.Time
	polls     int
	output    string
	lastErr   error
}

// Options configures an Orchestrator. PresetProvider and PromptProvider
// are required; everything else has working defaults.
type Options struct {
	Schema         *SchemaCache
	PresetProvider Provider
	PromptProvider Provider
	Classifier     *Classifier
	Defaults       Defaults
	PollInterval   time.Duration
	MaxPolls       int
	Sleep          SleepFunc
	Now            func() time.Time
	Logger         zerolog.Logger
}

// Orchestrator drives one generation job from validation through
// submission and polling to a terminal result. Concurrent Generate calls
// are independent; the schema cache is the only shared state.
type Orchestrator struct {
	schema         *SchemaCache
	presetProvider Provider
	promptProvider Provider
	classifier     *Classifier
	retry          *RetryPolicy
	defaults       Defaults
	pollInterval   time.Duration
	maxPolls       int
	sleep          SleepFunc
	now            func() time.Time
	logger         zerolog.Logger
}

func New(opts Options) *Orchestrator {
	classifier := opts.Classifier
	if classifier == nil {
		classifier = NewClassifier()
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = realSleep
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	maxPolls := opts.MaxPolls
	if maxPolls <= 0 {
		maxPolls = defaultMaxPolls
	}
	schema := opts.Schema
	if schema == nil {
		schema = NewSchemaCache(nil, 0, opts.Logger)
	}
	return &Orchestrator{
		schema:         schema,
		presetProvider: opts.PresetProvider,
		promptProvider: opts.PromptProvider,
		classifier:     classifier,
		retry:          NewRetryPolicy(classifier, sleep, opts.Logger),
		defaults:       opts.Defaults,
		pollInterval:   pollInterval,
		maxPolls:       maxPolls,
		sleep:          sleep,
		now:            now,
		logger:         opts.Logger,
	}
}

// Schema exposes the cache for read-only callers such as the HTTP API.
func (o *Orchestrator) Schema() *SchemaCache { return o.schema }

// progressSink wraps the caller's sink with nil-safety and clamps percents
// so a single job never reports regressing progress.
type progressSink struct {
	fn   ProgressFunc
	high int
}

func (s *progressSink) emit(phase Phase, percent int, eta *int, label string) {
	if s.fn == nil {
		return
	}
	if phase != PhaseError && percent < s.high {
		percent = s.high
	}
	if percent > s.high {
		s.high = percent
	}
	s.fn(ProgressEvent{Phase: phase, Percent: percent, EstimatedSeconds: eta, Label: label})
}

// Generate runs one job to a terminal result. It returns either an outcome
// or exactly one classified error, never both, and never a raw provider
// error. ref may be nil when the caller does not need cancellation.
func (o *Orchestrator) Generate(ctx context.Context, req GenerationRequest, ref *JobRef, onProgress ProgressFunc) (*GenerationOutcome, error) {
	start := o.now()
	sink := &progressSink{fn: onProgress}
	sink.emit(PhasePreparing, 0, nil, "validating request")

	schema := o.schema.Get(ctx, false)
	built, verr := BuildRequest(req, schema, o.defaults)
	if verr != nil {
		sink.emit(PhaseError, 0, nil, string(verr.Code))
		return nil, verr
	}

	provider := o.presetProvider
	if built.Mode == ModePrompt {
		provider = o.promptProvider
	}
	if provider == nil {
		cerr := newClassified(CodeUnknown, SeverityMedium, false, "orchestrator",
			"no provider configured for mode "+string(built.Mode), nil)
		sink.emit(PhaseError, 0, nil, string(cerr.Code))
		return nil, cerr
	}

	j := &job{createdAt: start}
	if cerr := o.submit(ctx, provider, built, j); cerr != nil {
		sink.emit(PhaseError, 0, nil, string(cerr.Code))
		return nil, cerr
	}
	defer o.forget(provider, j.handle)
	sink.emit(PhaseUploading, 5, nil, "job created")

	outcome, cerr := o.pollLoop(ctx, provider, j, ref, sink)
	if cerr != nil {
		sink.emit(PhaseError, 0, nil, string(cerr.Code))
		o.logger.Warn().
			Str("provider", provider.Name()).
			Str("job_id", j.handle.ID).
			Str("code", string(cerr.Code)).
			Int("polls", j.polls).
			Msg("hairgen: job failed")
		return nil, cerr
	}

	outcome.ConsistencyReduced = built.ConsistencyReduced
	outcome.Elapsed = o.now().Sub(start)
	sink.emit(PhaseCompleted, 100, nil, "done")
	o.logger.Info().
		Str("provider", provider.Name()).
		Str("job_id", j.handle.ID).
		Dur("elapsed", outcome.Elapsed).
		Int("polls", j.polls).
		Msg("hairgen: job succeeded")
	return outcome, nil
}

func (o *Orchestrator) submit(ctx context.Context, provider Provider, built *BuiltRequest, j *job) *ClassifiedError {
	return o.retry.Do(ctx, provider.Name(), func() error {
		handle, err := provider.Submit(ctx, built)
		if err != nil {
			j.lastErr = err
			return err
		}
		j.handle = handle
		return nil
	})
}

func (o *Orchestrator) pollLoop(ctx context.Context, provider Provider, j *job, ref *JobRef, sink *progressSink) (*GenerationOutcome, *ClassifiedError) {
	for j.polls < o.maxPolls {
		if ref.Canceled() {
			acked := provider.Cancel(ctx, j.handle)
			o.logger.Debug().
				Str("job_id", j.handle.ID).
				Bool("provider_acked", acked).
				Msg("hairgen: caller canceled job")
			return nil, newClassified(CodeCanceled, SeverityLow, false, provider.Name(), "canceled by caller", nil)
		}
		if err := ctx.Err(); err != nil {
			return nil, o.classifier.Classify(err, provider.Name())
		}

		var result PollResult
		cerr := o.retry.Do(ctx, provider.Name(), func() error {
			var err error
			result, err = provider.Poll(ctx, j.handle)
			if err != nil {
				j.lastErr = err
			}
			return err
		})
		if cerr != nil {
			return nil, cerr
		}
		j.polls++
		j.lastPoll = o.now()
		j.state = result.State

		switch result.State {
		case JobStateStarting:
			sink.emit(PhaseProcessing, 10, o.etaSeconds(j), "starting")
		case JobStateProcessing:
			sink.emit(PhaseProcessing, 50, o.etaSeconds(j), "processing")
		case JobStateSucceeded:
			if result.Output == "" {
				// Provider bug: nominal success with nothing usable.
				return nil, newClassified(CodeEmptyOutput, SeverityMedium, false, provider.Name(),
					"succeeded state with no output locator", nil)
			}
			j.output = result.Output
			return &GenerationOutcome{
				Output:   result.Output,
				Provider: provider.Name(),
				JobID:    j.handle.ID,
				Polls:    j.polls,
			}, nil
		case JobStateFailed:
			return nil, newClassified(CodeProviderServerError, SeverityMedium, false, provider.Name(),
				"generation failed: "+result.ErrorMessage, nil)
		case JobStateCanceled:
			return nil, newClassified(CodeCanceled, SeverityLow, false, provider.Name(),
				"canceled on provider side", nil)
		}

		if j.polls >= o.maxPolls {
			break
		}
		if err := o.sleep(ctx, o.pollInterval); err != nil {
			return nil, o.classifier.Classify(err, provider.Name())
		}
	}

	// The provider job may still finish server-side; the caller decides
	// whether to cancel it.
	return nil, newClassified(CodeTimeout, SeverityMedium, false, provider.Name(),
		fmt.Sprintf("no terminal state after %d polls", j.polls), nil)
}

func (o *Orchestrator) etaSeconds(j *job) *int {
	remaining := int(float64(o.maxPolls-j.polls) * o.pollInterval.Seconds())
	if remaining < 0 {
		remaining = 0
	}
	return &remaining
}

func (o *Orchestrator) forget(provider Provider, handle JobHandle) {
	if forgetter, ok := provider.(interface{ Forget(JobHandle) }); ok && handle.ID != "" {
		forgetter.Forget(handle)
	}
}
