package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/plumb/errors"
	"github.com/teranos/plumb/execution"
	"github.com/teranos/plumb/logger"
	"github.com/teranos/plumb/pipeline"
	"github.com/teranos/plumb/pipeline/stage"
)

// runState carries one run through its steps. Only the worker executing the
// run touches it.
type runState struct {
	e      *Engine
	r      *run
	ctx    context.Context
	log    *zap.SugaredLogger
	failed int
}

// failure is a classified run error
type failure struct {
	kind    execution.ErrorKind
	stage   string
	err     error
	details map[string]interface{}
}

func (f *failure) Error() string { return f.err.Error() }

func fail(kind execution.ErrorKind, err error) *failure {
	return &failure{kind: kind, err: err}
}

var errCancelled = errors.New("execution cancelled")

func (e *Engine) execute(r *run) {
	ctx := logger.WithPipelineID(context.Background(), r.pipeline.ID)
	ctx = logger.WithExecutionID(ctx, r.exec.ID)
	s := &runState{e: e, r: r, ctx: ctx, log: logger.FromContext(ctx, e.logger)}

	defer e.forget(r)
	defer func() {
		if p := recover(); p != nil {
			s.log.Errorw("Run panicked", "panic", fmt.Sprint(p), "stack", string(debug.Stack()))
			s.finishFailed(&failure{
				kind:    execution.KindSystem,
				err:     errors.Newf("panic: %v", p),
				details: map[string]interface{}{"panic": fmt.Sprint(p)},
			}, 0)
		}
	}()

	batch, err := s.steps()
	switch {
	case err == nil:
		s.finishCompleted(len(batch))
	case errors.Is(err, errCancelled):
		s.finishCancelled()
	default:
		var f *failure
		if !errors.As(err, &f) {
			f = fail(execution.KindSystem, err)
		}
		s.finishFailed(f, 0)
	}
}

// steps runs extract, validation, stages and load, returning the final batch
func (s *runState) steps() ([]pipeline.Record, error) {
	p := s.r.pipeline
	// Stages and adapters are not interrupted by Cancel; it is honoured between steps
	workCtx := context.WithoutCancel(s.ctx)

	s.appendLog(execution.LevelInfo, "execution started", map[string]interface{}{
		"pipelineVersion": p.Version,
		"dryRun":          s.r.exec.DryRun,
	})

	extractor, err := s.e.adapters.Extractor(string(p.Source.Type))
	if err != nil {
		return nil, fail(execution.KindSystem, err)
	}
	batch, err := extractor.Extract(workCtx, p.Source.Config)
	if err != nil {
		return nil, fail(execution.KindSystem, errors.Wrapf(err, "extract from %s source", p.Source.Type))
	}
	s.appendLog(execution.LevelInfo, fmt.Sprintf("extracted %d records", len(batch)), map[string]interface{}{
		"count": len(batch),
	})

	if batch, err = s.validateSchema(batch); err != nil {
		return nil, err
	}
	if len(p.Source.Filters) > 0 {
		before := len(batch)
		if batch, err = stage.FilterRecords(p.Source.Filters, batch); err != nil {
			return nil, fail(execution.KindValidation, errors.Wrap(err, "source filters"))
		}
		s.appendLog(execution.LevelInfo, fmt.Sprintf("source filters kept %d of %d records", len(batch), before), nil)
	}

	for _, t := range p.Stages() {
		if s.r.cancelled.Load() {
			return nil, errCancelled
		}
		s.appendLog(execution.LevelInfo, fmt.Sprintf("applying stage %q (%s) to %d records", t.Name, t.Kind, len(batch)), map[string]interface{}{
			"stage": t.Name,
			"count": len(batch),
		})

		started := time.Now()
		res, err := s.e.stages.Apply(workCtx, t, batch)
		s.e.metrics.StageDuration.WithLabelValues(string(t.Kind)).Observe(time.Since(started).Seconds())
		if err != nil {
			return nil, &failure{
				kind:    execution.KindTransformation,
				stage:   t.Name,
				err:     err,
				details: map[string]interface{}{"stageId": t.ID, "kind": string(t.Kind)},
			}
		}
		for _, w := range res.Warnings {
			s.appendLog(execution.LevelWarn, w, map[string]interface{}{"stage": t.Name})
		}
		batch = res.Records
		s.appendLog(execution.LevelInfo, fmt.Sprintf("stage %q produced %d records", t.Name, len(batch)), map[string]interface{}{
			"stage": t.Name,
			"count": len(batch),
		})
	}

	if s.r.cancelled.Load() {
		return nil, errCancelled
	}

	if s.r.exec.DryRun {
		s.appendLog(execution.LevelInfo, "dry run, skip load", map[string]interface{}{"count": len(batch)})
		return batch, nil
	}

	loader, err := s.e.adapters.Loader(string(p.Destination.Type))
	if err != nil {
		return nil, fail(execution.KindSystem, err)
	}
	mode := p.Destination.Mode
	if mode == "" {
		mode = pipeline.ModeAppend
	}
	if err := loader.Load(workCtx, p.Destination.Config, mode, batch); err != nil {
		return nil, fail(execution.KindDestination, errors.Wrapf(err, "load into %s destination", p.Destination.Type))
	}
	s.appendLog(execution.LevelInfo, fmt.Sprintf("loaded %d records", len(batch)), map[string]interface{}{
		"count": len(batch),
		"mode":  string(mode),
	})
	return batch, nil
}

// validateSchema drops records that do not satisfy the source schema and
// records a validation error for each (up to a cap)
func (s *runState) validateSchema(batch []pipeline.Record) ([]pipeline.Record, error) {
	doc := s.r.pipeline.Source.Schema
	if len(doc) == 0 {
		return batch, nil
	}
	schema, err := compileSchema(doc)
	if err != nil {
		return nil, fail(execution.KindValidation, err)
	}

	kept := make([]pipeline.Record, 0, len(batch))
	for i, rec := range batch {
		verr := schema.validate(rec)
		if verr == nil {
			kept = append(kept, rec)
			continue
		}
		s.failed++
		if s.failed <= maxRecordedValidationErrors {
			er := execution.NewError(execution.KindValidation, verr.Error(), s.e.now())
			er.OffendingRecord = rec
			er.Details = map[string]interface{}{"index": i}
			s.appendError(er)
		}
	}
	if s.failed > 0 {
		s.appendLog(execution.LevelWarn, fmt.Sprintf("%d records failed schema validation", s.failed), map[string]interface{}{
			"count": s.failed,
		})
	}
	return kept, nil
}

func (s *runState) appendLog(level execution.Level, msg string, ctx map[string]interface{}) {
	entry := execution.LogEntry{Timestamp: s.e.now(), Level: level, Message: msg, Context: ctx}
	s.log.Debugw(msg, logger.FieldStatus, string(level))
	_ = s.e.withRetry(s.ctx, "append log", func() error {
		return s.e.executions.AppendLog(s.ctx, s.r.exec.ID, entry)
	})
}

func (s *runState) appendError(er execution.Error) {
	_ = s.e.withRetry(s.ctx, "append error", func() error {
		return s.e.executions.AppendError(s.ctx, s.r.exec.ID, er)
	})
}

func (s *runState) finishCompleted(processed int) {
	s.appendLog(execution.LevelInfo, "execution completed", map[string]interface{}{
		"recordsProcessed": processed,
		"recordsFailed":    s.failed,
	})
	if err := s.r.exec.Complete(s.e.now(), processed, s.failed); err != nil {
		s.log.Errorw("Invalid execution transition", logger.FieldError, err)
		return
	}
	s.persistTerminal(processed)
}

func (s *runState) finishCancelled() {
	s.appendLog(execution.LevelWarn, "execution cancelled", nil)
	if err := s.r.exec.Cancel(s.e.now()); err != nil {
		s.log.Errorw("Invalid execution transition", logger.FieldError, err)
		return
	}
	s.persistTerminal(0)
}

func (s *runState) finishFailed(f *failure, processed int) {
	er := execution.NewError(f.kind, f.err.Error(), s.e.now())
	er.Stage = f.stage
	er.Details = f.details
	s.appendError(er)
	s.appendLog(execution.LevelError, "execution failed: "+f.err.Error(), map[string]interface{}{
		"errorKind": string(f.kind),
	})
	s.log.Warnw("Execution failed",
		logger.FieldErrorKind, string(f.kind),
		logger.FieldStage, f.stage,
		logger.FieldError, f.err,
	)
	if err := s.r.exec.Fail(s.e.now(), processed, s.failed); err != nil {
		s.log.Errorw("Invalid execution transition", logger.FieldError, err)
		return
	}
	s.persistTerminal(processed)
}

func (s *runState) persistTerminal(processed int) {
	exec := s.r.exec
	status := string(exec.Status)
	_ = s.e.withRetry(s.ctx, "update execution", func() error {
		return s.e.executions.Update(s.ctx, exec)
	})

	m := s.e.metrics
	m.InFlight.Dec()
	m.RunsFinished.WithLabelValues(status).Inc()
	m.RunDuration.WithLabelValues(status).Observe(exec.Duration().Seconds())
	m.RecordsProcessed.Add(float64(processed))
	m.RecordsFailed.Add(float64(s.failed))

	s.log.Infow("Execution finished",
		logger.FieldStatus, status,
		logger.FieldDurationMS, exec.Duration().Milliseconds(),
		"records_processed", processed,
		"records_failed", s.failed,
	)
}
