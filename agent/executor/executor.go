package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

const DefaultInactivityTimeout = 120 * time.Second

// ErrDelivery is wrapped by errors returned when a chunk could not be handed to the Sink.
var ErrDelivery = errors.New("delivering output chunk")

// CommandSpec is a resolved executable and its argument vector.
type CommandSpec struct {
	Path string
	Args []string
}

// Sink receives streamed chunks of output lines, in order.
type Sink interface {
	SendChunk(ctx context.Context, lines []string) error
}

// Result is the outcome of a Run.
type Result struct {
	// Lines holds the collected output in batch mode. It is nil in streaming mode.
	Lines []string
	// Streamed is true when output was delivered to the Sink instead of being collected.
	Streamed bool
	// TimedOut is true when the inactivity timeout ended the run before EOF.
	TimedOut bool
}

// Text returns the collected output joined with newlines. ok is false for streamed runs.
func (r *Result) Text() (text string, ok bool) {
	if r.Streamed {
		return "", false
	}
	return strings.Join(r.Lines, "\n"), true
}

type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("starting %q: %s", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

type DeliveryError struct {
	Err error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s: %s", ErrDelivery, e.Err)
}

func (e *DeliveryError) Is(target error) bool { return target == ErrDelivery }

func (e *DeliveryError) Unwrap() error { return e.Err }

type Executor struct {
	Log *zap.SugaredLogger

	// InactivityTimeout bounds the wait for each line, measured from the previous line or from the start.
	InactivityTimeout time.Duration
	BatchSize         int
	FlushInterval     time.Duration

	// KillOnCancel kills the child and everything it started when the context passed to Run is done.
	// The child then runs in its own process group.
	// By default cancellation only stops forwarding output and the child runs to completion.
	KillOnCancel bool
}

func (e *Executor) logger() *zap.SugaredLogger {
	if e.Log == nil {
		return zap.NewNop().Sugar()
	}
	return e.Log
}

func (e *Executor) inactivityTimeout() time.Duration {
	if e.InactivityTimeout <= 0 {
		return DefaultInactivityTimeout
	}
	return e.InactivityTimeout
}

// Run starts the command and drains its output.
// In streaming mode every line goes through a Batcher into sink and the result carries no lines.
// In batch mode the lines are collected and nothing is sent to sink.
// A spawn failure returns a *SpawnError; a sink failure stops the run and returns an error wrapping ErrDelivery.
// If ctx is done before the output ends, Run returns ctx.Err() without flushing what is pending.
func (e *Executor) Run(ctx context.Context, spec CommandSpec, streaming bool, sink Sink) (*Result, error) {
	log := e.logger().With("Command", spec.Path)

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating output pipe: %w", err)
	}

	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Stdout = pw
	cmd.Stderr = pw
	if e.KillOnCancel {
		setProcessGroup(cmd)
	}

	start := time.Now()
	err = cmd.Start()
	// the child holds its own copy of the write end
	pw.Close()
	if err != nil {
		pr.Close()
		return nil, &SpawnError{Path: spec.Path, Err: err}
	}
	log.Debugw("process started", "PID", cmd.Process.Pid, "Streaming", streaming)

	e.reap(ctx, log, cmd, start)

	lines := NewLineReader(pr)
	defer lines.Close()

	res := &Result{Streamed: streaming}

	var batcher *Batcher
	if streaming {
		batcher = NewBatcher(e.BatchSize, e.FlushInterval, func(chunk []string) error {
			err := sink.SendChunk(ctx, chunk)
			if err != nil {
				return &DeliveryError{Err: err}
			}
			return nil
		})
	}

	inactivity := time.NewTimer(e.inactivityTimeout())
	defer inactivity.Stop()

	flushTimer := time.NewTimer(time.Hour)
	stopTimer(flushTimer)
	defer flushTimer.Stop()
	var (
		flushArmed    bool
		flushArmedFor time.Time
	)
	syncFlushTimer := func() {
		deadline, ok := batcher.Deadline()
		if !ok {
			if flushArmed {
				stopTimer(flushTimer)
				flushArmed = false
			}
			return
		}
		if flushArmed && deadline.Equal(flushArmedFor) {
			return
		}
		resetTimer(flushTimer, time.Until(deadline))
		flushArmed = true
		flushArmedFor = deadline
	}

	for {
		select {
		case line, ok := <-lines.Lines():
			if !ok {
				if err := lines.Err(); err != nil {
					log.Debugf("error reading process output: %s", err)
				}
				return e.finish(log, res, batcher)
			}
			resetTimer(inactivity, e.inactivityTimeout())
			if !streaming {
				res.Lines = append(res.Lines, line)
				continue
			}
			if err := batcher.Push(line); err != nil {
				log.Debugf("stopping stream: %s", err)
				return nil, err
			}
			syncFlushTimer()
		case <-flushTimer.C:
			flushArmed = false
			if err := batcher.Flush(); err != nil {
				log.Debugf("stopping stream: %s", err)
				return nil, err
			}
		case <-inactivity.C:
			log.Debugf("no output for %s, abandoning process output", e.inactivityTimeout())
			res.TimedOut = true
			return e.finish(log, res, batcher)
		case <-ctx.Done():
			log.Debugf("run canceled: %s", ctx.Err())
			return nil, ctx.Err()
		}
	}
}

func (e *Executor) finish(log *zap.SugaredLogger, res *Result, batcher *Batcher) (*Result, error) {
	if batcher == nil {
		return res, nil
	}
	if err := batcher.Flush(); err != nil {
		log.Debugf("error flushing trailing chunk: %s", err)
		return nil, err
	}
	return res, nil
}

// reap waits for the child in the background so it never lingers as a zombie,
// regardless of whether anyone is still reading its output.
func (e *Executor) reap(ctx context.Context, log *zap.SugaredLogger, cmd *exec.Cmd, start time.Time) {
	exited := make(chan struct{})
	go func() {
		err := cmd.Wait()
		close(exited)
		if err != nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				log.Debugf("unexpected wait error: %s", err)
			}
		}
		log.Debugf("process %d exited with code %d after %s", cmd.Process.Pid, cmd.ProcessState.ExitCode(), time.Since(start))
	}()

	if !e.KillOnCancel {
		return
	}
	go func() {
		select {
		case <-ctx.Done():
			log.Debugf("killing process group of %d: %s", cmd.Process.Pid, ctx.Err())
			if err := killProcessGroup(cmd.Process); err != nil {
				log.Debugf("error killing process group of %d: %s", cmd.Process.Pid, err)
			}
		case <-exited:
		}
	}()
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	stopTimer(t)
	t.Reset(d)
}
