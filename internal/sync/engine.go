// Package sync runs the polling loop that keeps the local mirror in step with
// the remote folder.
package sync

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dl-alexandre/cloudmirror/internal/history"
	"github.com/dl-alexandre/cloudmirror/internal/logging"
	"github.com/dl-alexandre/cloudmirror/internal/mirror"
	"github.com/dl-alexandre/cloudmirror/internal/provider"
	"github.com/dl-alexandre/cloudmirror/internal/types"
	"github.com/dl-alexandre/cloudmirror/internal/utils"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Outcome classifies a finished tick
type Outcome string

const (
	// OutcomeSuccess means the batch was applied in full and the cursor advanced.
	OutcomeSuccess Outcome = "success"
	// OutcomeEmpty means the provider reported nothing to do.
	OutcomeEmpty Outcome = "empty"
	// OutcomePartial means some entries failed; the cursor was kept.
	OutcomePartial Outcome = "partial"
	// OutcomeTransient means the fetch failed and will be retried next tick.
	OutcomeTransient Outcome = "transient"
	// OutcomeFatal stops the loop.
	OutcomeFatal Outcome = "fatal"
)

// State is where the loop currently is
type State int32

const (
	StateIdle State = iota
	StateSyncing
	StateSleeping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSyncing:
		return "syncing"
	case StateSleeping:
		return "sleeping"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// CursorStore persists the provider cursor between ticks
type CursorStore interface {
	Load(providerID string) types.SyncCursor
	Save(providerID string, cursor types.SyncCursor) error
}

// Notifier is told when the mirror content changed
type Notifier interface {
	Notify(ctx context.Context) error
}

// Recorder keeps a log of ticks
type Recorder interface {
	Record(ctx context.Context, tick history.Tick) error
}

// TickResult summarizes one tick
type TickResult struct {
	TraceID        string
	Started        time.Time
	Duration       time.Duration
	Outcome        Outcome
	Reset          bool
	Applied        int
	Failed         int
	Skipped        int
	Bytes          int64
	CursorAdvanced bool
	Notified       bool
	Err            error
}

// Options configures an Engine
type Options struct {
	// Interval between ticks. Zero runs a single tick.
	Interval time.Duration
	Clock    clockwork.Clock
	Logger   logging.Logger
	Notifier Notifier
	Recorder Recorder
}

// Engine owns the mirror and the cursor for one provider. Ticks run
// sequentially; nothing else may write to the mirror while it runs.
type Engine struct {
	provider provider.Provider
	cursors  CursorStore
	writer   *mirror.Writer
	interval time.Duration
	clock    clockwork.Clock
	logger   logging.Logger
	notifier Notifier
	recorder Recorder
	state    atomic.Int32
}

// NewEngine creates an engine. writer must read content from p.
func NewEngine(p provider.Provider, cursors CursorStore, writer *mirror.Writer, opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNoOpLogger()
	}
	return &Engine{
		provider: p,
		cursors:  cursors,
		writer:   writer,
		interval: opts.Interval,
		clock:    opts.Clock,
		logger:   opts.Logger,
		notifier: opts.Notifier,
		recorder: opts.Recorder,
	}
}

// State reports what the loop is doing
func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
}

// Run ticks until ctx is cancelled or a tick fails fatally. With no interval
// it runs one tick; a tick that did not complete is then reported as an error.
// Cancellation is honoured between ticks only.
func (e *Engine) Run(ctx context.Context) error {
	defer e.setState(StateStopped)
	e.logger.Info("Sync loop started",
		logging.F("provider", e.provider.ID()),
		logging.F("interval", e.interval.String()),
	)

	for {
		if ctx.Err() != nil {
			e.logger.Info("Sync loop stopped")
			return nil
		}

		res := e.Tick(ctx)
		if res.Outcome == OutcomeFatal {
			return res.Err
		}
		if e.interval <= 0 {
			return singleShotError(res)
		}

		e.setState(StateSleeping)
		select {
		case <-ctx.Done():
			e.logger.Info("Sync loop stopped")
			return nil
		case <-e.clock.After(e.interval):
		}
	}
}

func singleShotError(res TickResult) error {
	switch res.Outcome {
	case OutcomeTransient:
		return res.Err
	case OutcomePartial:
		builder := utils.NewCLIError(utils.ErrCodeBatchPartialFailure,
			fmt.Sprintf("%d of %d entries failed to apply", res.Failed, res.Applied+res.Failed)).
			WithContext("traceId", res.TraceID).
			WithRetryable(true)
		return utils.WrapAppError(builder.Build(), res.Err)
	}
	return nil
}

// Tick runs one fetch and apply. It always runs to completion: ctx supplies
// values but its cancellation is ignored so a batch is never cut short.
func (e *Engine) Tick(parent context.Context) TickResult {
	e.setState(StateSyncing)
	defer func() {
		if e.State() == StateSyncing {
			e.setState(StateIdle)
		}
	}()

	traceID := uuid.New().String()
	ctx := logging.ContextWithTraceID(context.WithoutCancel(parent), traceID)
	logger := e.logger.WithContext(ctx)
	providerID := e.provider.ID()

	res := TickResult{TraceID: traceID, Started: e.clock.Now()}
	defer func() {
		res.Duration = e.clock.Now().Sub(res.Started)
		e.record(ctx, logger, providerID, res)
	}()

	cursor := e.cursors.Load(providerID)
	logger.Debug("Fetching changes",
		logging.F("provider", providerID),
		logging.F("full", cursor.IsEmpty()),
	)

	batch, err := e.provider.FetchChanges(ctx, cursor)
	if err != nil {
		res.Err = err
		fields := []logging.Field{
			logging.F("provider", providerID),
			logging.F("code", utils.ErrorCode(err)),
			logging.F("error", err.Error()),
		}
		if utils.IsFatal(err) {
			res.Outcome = OutcomeFatal
			e.setState(StateStopped)
			logger.Critical("Provider failed fatally, stopping", fields...)
		} else {
			res.Outcome = OutcomeTransient
			logger.Warn("Fetching changes failed, retrying next tick", fields...)
		}
		return res
	}

	if batch.IsEmpty() {
		res.Outcome = OutcomeEmpty
		logger.Debug("No remote changes")
		return res
	}

	if batch.ResetRequested {
		if err := e.writer.ClearAll(); err != nil {
			res.Err = err
			res.Outcome = OutcomeTransient
			logger.Error("Failed to clear mirror", logging.F("error", err.Error()))
			return res
		}
		res.Reset = true
	}

	applied := e.writer.Apply(ctx, batch.Entries)
	res.Applied = applied.Applied
	res.Failed = applied.Failed
	res.Skipped = applied.Skipped
	res.Bytes = applied.Bytes

	if applied.Failed == 0 {
		if err := e.cursors.Save(providerID, batch.NextCursor); err != nil {
			res.Err = err
			logger.Error("Failed to save cursor", logging.F("error", err.Error()))
		} else {
			res.CursorAdvanced = true
		}
	} else {
		res.Err = applied.Errors()
	}

	if res.Applied > 0 || res.Reset {
		res.Notified = e.notify(ctx, logger)
	}

	if res.CursorAdvanced {
		res.Outcome = OutcomeSuccess
	} else {
		res.Outcome = OutcomePartial
	}

	logger.Info("Sync tick finished",
		logging.F("outcome", string(res.Outcome)),
		logging.F("reset", res.Reset),
		logging.F("applied", res.Applied),
		logging.F("failed", res.Failed),
		logging.F("skipped", res.Skipped),
		logging.F("bytes", humanize.Bytes(uint64(res.Bytes))),
	)
	return res
}

func (e *Engine) notify(ctx context.Context, logger logging.Logger) bool {
	if e.notifier == nil {
		return false
	}
	if err := e.notifier.Notify(ctx); err != nil {
		logger.Warn("Reboot notification failed", logging.F("error", err.Error()))
		return false
	}
	return true
}

func (e *Engine) record(ctx context.Context, logger logging.Logger, providerID string, res TickResult) {
	if e.recorder == nil {
		return
	}
	tick := history.Tick{
		TraceID:        res.TraceID,
		Provider:       providerID,
		Started:        res.Started,
		Duration:       res.Duration,
		Outcome:        string(res.Outcome),
		Reset:          res.Reset,
		Applied:        res.Applied,
		Failed:         res.Failed,
		Skipped:        res.Skipped,
		Bytes:          res.Bytes,
		CursorAdvanced: res.CursorAdvanced,
		Notified:       res.Notified,
	}
	if res.Err != nil {
		tick.Error = res.Err.Error()
	}
	if err := e.recorder.Record(ctx, tick); err != nil {
		logger.Warn("Failed to record tick", logging.F("error", err.Error()))
	}
}
