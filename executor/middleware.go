package executor

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kbukum/execkit/command"
	"github.com/kbukum/execkit/execution"
	"github.com/kbukum/execkit/logger"
	"github.com/kbukum/execkit/observability"
)

// Middleware wraps an Executor with cross-cutting behavior.
type Middleware func(Executor) Executor

// Chain wraps e with mws. The first middleware is the outermost.
func Chain(e Executor, mws ...Middleware) Executor {
	for i := len(mws) - 1; i >= 0; i-- {
		e = mws[i](e)
	}
	return e
}

// executeFunc adapts a function to Executor, keeping the wrapped name.
type executeFunc struct {
	name string
	fn   func(ctx context.Context, cmd *command.Command) (execution.Execution, error)
}

func (f executeFunc) Name() string { return f.name }

func (f executeFunc) Execute(ctx context.Context, cmd *command.Command) (execution.Execution, error) {
	return f.fn(ctx, cmd)
}

// WithLogging logs every dispatch and every parametrization failure.
func WithLogging(log *logger.Logger) Middleware {
	return func(next Executor) Executor {
		l := log.WithFields(map[string]interface{}{logger.FieldBackend: next.Name()})
		return executeFunc{name: next.Name(), fn: func(ctx context.Context, cmd *command.Command) (execution.Execution, error) {
			start := time.Now()
			ex, err := next.Execute(ctx, cmd)
			if err != nil {
				fields := logger.ErrorFields("execute", err)
				if cmd != nil {
					fields[logger.FieldArgs] = cmd.Args()
				}
				l.WithContext(ctx).Error("command rejected", fields)
				return nil, err
			}
			l.WithContext(ctx).Debug("command dispatched", map[string]interface{}{
				logger.FieldExecutionID: ex.ID(),
				logger.FieldArgs:        ex.Args(),
				"daemon":                cmd.Daemon(),
				logger.FieldDuration:    time.Since(start).String(),
			})
			return ex, nil
		}}
	}
}

// WithTracing opens a span per execution. The span ends when the execution
// settles and carries its state and exit code.
func WithTracing(tracer trace.Tracer) Middleware {
	if tracer == nil {
		tracer = observability.DefaultTracer()
	}
	return func(next Executor) Executor {
		return executeFunc{name: next.Name(), fn: func(ctx context.Context, cmd *command.Command) (execution.Execution, error) {
			ctx, span := tracer.Start(ctx, observability.SpanExecute, trace.WithAttributes(
				attribute.String(observability.AttrBackend, next.Name()),
			))
			ex, err := next.Execute(ctx, cmd)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				span.End()
				return nil, err
			}
			span.SetAttributes(
				attribute.String(observability.AttrExecutionID, ex.ID()),
				attribute.StringSlice(observability.AttrArgs, ex.Args()),
				attribute.Bool(observability.AttrDaemon, cmd.Daemon()),
			)
			go func() {
				<-ex.Done()
				span.SetAttributes(
					attribute.String(observability.AttrState, ex.State().String()),
					attribute.Int(observability.AttrExitCode, ex.ExitCode()),
				)
				if err := ex.Err(); err != nil {
					span.RecordError(err)
					span.SetStatus(codes.Error, ex.State().String())
				}
				span.End()
			}()
			return ex, nil
		}}
	}
}

// WithMetrics records running executions and their outcomes.
func WithMetrics(m *observability.Metrics) Middleware {
	return func(next Executor) Executor {
		return executeFunc{name: next.Name(), fn: func(ctx context.Context, cmd *command.Command) (execution.Execution, error) {
			ex, err := next.Execute(ctx, cmd)
			if err != nil {
				m.RecordLaunchFailure(ctx, next.Name())
				return nil, err
			}
			if ex.Failure() {
				m.RecordLaunchFailure(ctx, next.Name())
				return ex, nil
			}
			mctx := context.WithoutCancel(ctx)
			m.RecordExecutionStart(mctx, next.Name())
			go func() {
				<-ex.Done()
				m.RecordExecutionEnd(mctx, next.Name(), outcome(ex), ex.Duration())
			}()
			return ex, nil
		}}
	}
}

func outcome(ex execution.Execution) string {
	if ex.State() == execution.Completed && ex.ExitCode() != 0 {
		return "non_zero_exit"
	}
	return ex.State().String()
}
