package flight

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openwsm/openwsm/pkg/telemetry"
)

// Runner drives a single flight to completion or to its next terminal
// state. It owns no cross-flight state; all durable progress lives in the
// flight store, which is what lets any node resume any flight.
type Runner struct {
	store   Store
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	events  *telemetry.EventPublisher
	tracer  *telemetry.Tracer
}

// NewRunner creates a flight runner.
func NewRunner(store Store, tel *telemetry.Telemetry) *Runner {
	return &Runner{
		store:   store,
		logger:  tel.Logger.NewComponentLogger("flight-runner"),
		metrics: tel.Metrics,
		events:  tel.Events,
		tracer:  tel.Tracer,
	}
}

// Run executes the flight from its last durable checkpoint. It returns the
// terminal state and, for ERROR and FATAL, the original cause. A store
// failure mid-run returns the current (still active) state with the error;
// the flight stays resumable.
func (r *Runner) Run(ctx context.Context, f *Flight) (State, error) {
	rec, err := r.store.GetFlight(ctx, f.ID)
	if err != nil {
		return "", err
	}
	if !rec.Status.Active() {
		return rec.Status, causeError(rec.Cause)
	}

	inputs, err := DecodeParamMap(rec.Inputs)
	if err != nil {
		return rec.Status, err
	}
	working, err := DecodeParamMap(rec.Working)
	if err != nil {
		return rec.Status, err
	}
	fc := NewContext(f.ID, inputs, working)
	log := r.logger.WithFlightID(f.ID).WithField("class", f.Class)

	ctx, span := r.tracer.StartFlightSpan(ctx, f.ID, f.Class)
	defer span.End()

	started := time.Now()
	r.metrics.FlightStarted(f.Class)
	r.publish(telemetry.EventTypeFlightStarted, f, "flight started", "info")

	status, cause := r.execute(ctx, f, fc, rec, log)

	r.metrics.FlightFinished(f.Class, string(status), time.Since(started))
	if cause != nil {
		r.tracer.RecordError(span, cause)
	}
	return status, cause
}

// execute runs the forward pass and, when needed, the backward pass.
func (r *Runner) execute(ctx context.Context, f *Flight, fc *Context, rec *Record, log *telemetry.Logger) (State, error) {
	var cause error
	cursor := rec.StepCursor

	if rec.Status == StateRunningForward {
		i := cursor
		for i < len(f.Steps) {
			cancelled, err := r.store.CancelRequested(ctx, f.ID)
			if err != nil {
				return StateRunningForward, err
			}
			if cancelled {
				cause = errors.New("flight cancelled")
				log.Info("cancellation requested; compensating")
				break
			}

			res := r.attempt(ctx, fc, f.Steps[i], i, DirectionDo, log)
			if res.Status == StatusSuccess {
				if err := r.checkpoint(ctx, fc, f.ID, StateRunningForward, i+1); err != nil {
					return StateRunningForward, err
				}
				i++
				continue
			}
			cause = res.Err
			break
		}

		if cause == nil && i == len(f.Steps) {
			if err := r.store.CompleteFlight(ctx, f.ID, StateSuccess, ""); err != nil {
				return StateRunningForward, err
			}
			log.Info("flight succeeded")
			r.publish(telemetry.EventTypeFlightSucceeded, f, "flight succeeded", "info")
			return StateSuccess, nil
		}

		// Flip to reverse compensation. The cursor becomes the index of
		// the last step whose Do completed; the failing step is never
		// undone.
		if err := r.store.SetCause(ctx, f.ID, causeString(cause)); err != nil {
			return StateRunningForward, err
		}
		if err := r.checkpoint(ctx, fc, f.ID, StateRunningBackward, i-1); err != nil {
			return StateRunningForward, err
		}
		cursor = i - 1
		log.WithError(cause).Warn("flight failed; compensating completed steps")
		r.publish(telemetry.EventTypeFlightCompensating, f, "flight compensating: "+causeString(cause), "warning")
	} else if cause == nil {
		cause = causeError(rec.Cause)
	}

	for j := cursor; j >= 0; j-- {
		res := r.attempt(ctx, fc, f.Steps[j], j, DirectionUndo, log)
		if res.Status != StatusSuccess {
			// Compensation failed: the cloud and the metadata store may
			// now disagree. Terminal, operator-visible, never silent.
			if err := r.store.CompleteFlight(ctx, f.ID, StateFatal, causeString(cause)); err != nil {
				return StateRunningBackward, err
			}
			log.WithError(res.Err).WithStep(j, f.Steps[j].Step.Name()).
				Error("flight undo failed; cloud state may be inconsistent, manual intervention required")
			r.publish(telemetry.EventTypeFlightFatal, f, "flight fatal: "+causeString(res.Err), "error")
			return StateFatal, cause
		}
		if err := r.checkpoint(ctx, fc, f.ID, StateRunningBackward, j-1); err != nil {
			return StateRunningBackward, err
		}
	}

	if err := r.store.CompleteFlight(ctx, f.ID, StateError, causeString(cause)); err != nil {
		return StateRunningBackward, err
	}
	log.WithError(cause).Info("flight compensated cleanly")
	r.publish(telemetry.EventTypeFlightError, f, "flight error: "+causeString(cause), "warning")
	return StateError, cause
}

// attempt invokes one step in one direction under its retry rule. Retry
// exhaustion escalates to a fatal result; the orchestrator never loops
// forever on a transient failure.
func (r *Runner) attempt(ctx context.Context, fc *Context, entry StepEntry, index int, direction string, log *telemetry.Logger) Result {
	name := entry.Step.Name()
	slog := log.WithStep(index, name).WithField("direction", direction)
	start := time.Now()
	attempts := 0

	stepCtx, span := r.tracer.StartStepSpan(ctx, name, direction)
	defer span.End()

	for {
		attempts++
		fc.setAttempt(attempts)

		var res Result
		if direction == DirectionDo {
			res = entry.Step.Do(stepCtx, fc)
		} else {
			res = entry.Step.Undo(stepCtx, fc)
		}
		r.logStep(ctx, fc.FlightID(), index, name, direction, res)

		switch res.Status {
		case StatusSuccess:
			slog.Debug("step completed")
			r.metrics.StepExecuted(name, direction, string(res.Status), time.Since(start))
			return res
		case StatusFatal:
			slog.WithError(res.Err).Warn("step failed fatally")
			r.metrics.StepExecuted(name, direction, string(res.Status), time.Since(start))
			r.tracer.RecordError(span, res.Err)
			return res
		}

		delay, ok := entry.Retry.Backoff(attempts, time.Since(start))
		if !ok {
			err := fmt.Errorf("step %s: retries exhausted by rule %s after %d attempts: %w",
				name, entry.Retry.Name(), attempts, res.Err)
			slog.WithError(res.Err).Warnf("retries exhausted after %d attempts", attempts)
			r.metrics.StepExecuted(name, direction, string(StatusFatal), time.Since(start))
			r.tracer.RecordError(span, err)
			return Fatal(err)
		}

		slog.WithError(res.Err).Debugf("transient failure, retrying in %s (attempt %d)", delay, attempts)
		r.metrics.StepRetried(name)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Fatal(ctx.Err())
		}
	}
}

// checkpoint durably records the cursor and the working map snapshot.
func (r *Runner) checkpoint(ctx context.Context, fc *Context, id string, status State, cursor int) error {
	working, err := fc.workingSnapshot()
	if err != nil {
		return err
	}
	return r.store.Checkpoint(ctx, id, status, cursor, working)
}

func (r *Runner) logStep(ctx context.Context, flightID string, index int, name, direction string, res Result) {
	entry := &LogEntry{
		FlightID:  flightID,
		StepIndex: index,
		StepName:  name,
		Direction: direction,
		Status:    res.Status,
		LoggedAt:  time.Now(),
	}
	if res.Err != nil {
		entry.Error = res.Err.Error()
	}
	if err := r.store.AppendFlightLog(ctx, entry); err != nil {
		// The checkpoint log is diagnostic; a failed append must not fail
		// the flight.
		r.logger.WithFlightID(flightID).WithError(err).Warn("failed to append flight log entry")
	}
}

func (r *Runner) publish(eventType string, f *Flight, message, level string) {
	r.events.Publish(telemetry.Event{
		Type:     eventType,
		FlightID: f.ID,
		Message:  message,
		Level:    level,
	})
}

func causeString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func causeError(cause string) error {
	if cause == "" {
		return nil
	}
	return errors.New(cause)
}
