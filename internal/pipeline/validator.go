// Package pipeline runs validation methods over certificate chains held in
// a certificate store and writes one result row per chain.
package pipeline

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sensiblebit/chainscan/internal/certdb"
	"github.com/sensiblebit/chainscan/internal/validation"
)

// Config configures a ChainValidator.
type Config struct {
	// Store provides the chain certificates. Required.
	Store certdb.Reader
	// ReferenceTime is passed to every method. Required.
	ReferenceTime time.Time
	// ExportDir receives exported certificates. When empty a temporary
	// directory is created and removed when the pipeline closes.
	ExportDir string
	// Methods selects methods by name; empty runs every registered method.
	Methods []string
	// Registry resolves method names. Required.
	Registry *validation.Registry
	// QueueSize bounds the pooled task queue. Defaults to 4 per worker.
	QueueSize int
	// Registerer receives the pipeline counters. Defaults to a private registry.
	Registerer prometheus.Registerer
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Stats counts the tasks a pipeline has seen.
type Stats struct {
	Scheduled int64
	Written   int64
	Dropped   int64
}

type task struct {
	host  string
	chain []string
}

// ChainValidator schedules (host, chain) tasks, validates them with the
// selected methods and writes result rows to its output. With parallelism
// 0 tasks run inline in Schedule; otherwise a fixed pool of workers takes
// tasks from a bounded queue and rows are written in completion order by a
// single collector goroutine.
type ChainValidator struct {
	out         io.Writer
	w           *bufio.Writer
	methods     []validation.Method
	vcfg        validation.Config
	resolver    *Resolver
	ownedDir    string
	parallelism int
	logger      *slog.Logger
	metrics     *metrics

	// ctx is cancelled by Abort and on fatal errors. It derives from
	// context.Background so signals delivered to the process never reach
	// the workers directly.
	ctx    context.Context
	cancel context.CancelFunc

	tasks         chan task
	rows          chan string
	workers       sync.WaitGroup
	collectorDone chan struct{}

	// sendMu is held for reading by Schedule while it enqueues and for
	// writing while the queue is closed.
	sendMu  sync.RWMutex
	closing atomic.Bool
	// finished is closed once the first finish call has drained the
	// pipeline and closed the output; finishErr is its result.
	finished  chan struct{}
	finishErr error

	mu     sync.Mutex
	err    error
	closed bool

	scheduled atomic.Int64
	written   atomic.Int64
	dropped   atomic.Int64
}

// Open validates cfg, writes the header row to out and starts accepting
// tasks. On a *ConfigError nothing is written.
func Open(out io.Writer, parallelism int, cfg Config) (*ChainValidator, error) {
	methods, err := checkConfig(parallelism, cfg)
	if err != nil {
		return nil, err
	}

	reg := cfg.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m, err := newMetrics(reg)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("run", uuid.NewString())

	dir, owned := cfg.ExportDir, ""
	if dir == "" {
		if dir, err = os.MkdirTemp("", "chainscan-export-"); err != nil {
			return nil, fmt.Errorf("creating export directory: %w", err)
		}
		owned = dir
	} else if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating export directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	v := &ChainValidator{
		out:         out,
		w:           bufio.NewWriter(out),
		methods:     methods,
		vcfg:        validation.Config{ReferenceTime: cfg.ReferenceTime},
		resolver:    NewResolver(cfg.Store, dir),
		ownedDir:    owned,
		parallelism: parallelism,
		logger:      logger,
		metrics:     m,
		ctx:         ctx,
		cancel:      cancel,
		finished:    make(chan struct{}),
	}

	names := make([]string, len(methods))
	for i, method := range methods {
		names[i] = method.Name()
	}
	if err := v.writeLine(formatHeader(names)); err != nil {
		cancel()
		v.removeOwnedDir()
		return nil, err
	}

	if parallelism > 0 {
		queue := cfg.QueueSize
		if queue <= 0 {
			queue = 4 * parallelism
		}
		v.tasks = make(chan task, queue)
		v.rows = make(chan string, parallelism)
		v.collectorDone = make(chan struct{})
		go v.collect()
		for range parallelism {
			v.workers.Add(1)
			go v.work()
		}
	}

	logger.Info("pipeline opened",
		"parallelism", parallelism,
		"methods", names,
		"export_dir", dir,
		"reference_time", cfg.ReferenceTime.UTC().Format(time.RFC3339))
	return v, nil
}

func checkConfig(parallelism int, cfg Config) ([]validation.Method, error) {
	if cfg.Store == nil {
		return nil, &ConfigError{Field: "store", Err: errors.New("no certificate store")}
	}
	if cfg.ReferenceTime.IsZero() {
		return nil, &ConfigError{Field: "reference time", Err: errors.New("not set")}
	}
	if parallelism < 0 {
		return nil, &ConfigError{Field: "parallelism", Err: fmt.Errorf("negative value %d", parallelism)}
	}
	if cfg.Registry == nil {
		return nil, &ConfigError{Field: "methods", Err: errors.New("no method registry")}
	}
	methods, err := cfg.Registry.Select(cfg.Methods)
	if err != nil {
		return nil, &ConfigError{Field: "methods", Err: err}
	}
	if len(methods) == 0 {
		return nil, &ConfigError{Field: "methods", Err: errors.New("no validation methods resolved")}
	}
	return methods, nil
}

// Schedule submits a task. Inline pipelines process it before returning;
// pooled pipelines block while the queue is full. Returns ErrClosed once
// Done or Abort ran, or the fatal error that stopped the pipeline.
func (v *ChainValidator) Schedule(host string, chain []string) error {
	v.sendMu.RLock()
	defer v.sendMu.RUnlock()

	if err := v.fatal(); err != nil {
		return err
	}
	if v.closing.Load() {
		return ErrClosed
	}
	t := task{host: host, chain: chain}

	if v.parallelism == 0 {
		v.countScheduled()
		row, ok, err := v.process(t)
		if err != nil {
			v.fail(err)
			return err
		}
		if ok {
			if err := v.writeRow(row); err != nil {
				v.fail(err)
				return err
			}
		}
		return nil
	}

	select {
	case v.tasks <- t:
		// Workers skip tasks dequeued after cancellation.
		if v.ctx.Err() != nil {
			return v.stoppedErr()
		}
		v.countScheduled()
		return nil
	case <-v.ctx.Done():
		return v.stoppedErr()
	}
}

func (v *ChainValidator) stoppedErr() error {
	if err := v.fatal(); err != nil {
		return err
	}
	return ErrClosed
}

func (v *ChainValidator) countScheduled() {
	v.scheduled.Add(1)
	v.metrics.scheduled.Inc()
}

func (v *ChainValidator) work() {
	defer v.workers.Done()
	for t := range v.tasks {
		if v.ctx.Err() != nil {
			continue
		}
		row, ok, err := v.process(t)
		if err != nil {
			v.fail(err)
			continue
		}
		if ok {
			v.rows <- row
		}
	}
}

// collect is the only writer of the output in pooled mode. After a write
// error it keeps draining rows so workers never block.
func (v *ChainValidator) collect() {
	defer close(v.collectorDone)
	for row := range v.rows {
		if v.fatal() != nil {
			continue
		}
		if err := v.writeRow(row); err != nil {
			v.fail(err)
		}
	}
}

// process resolves and validates one task. ok is false for dropped tasks.
func (v *ChainValidator) process(t task) (row string, ok bool, err error) {
	paths, err := v.resolver.Resolve(t.chain)
	if err != nil {
		if errors.Is(err, ErrBrokenChain) {
			v.dropped.Add(1)
			v.metrics.dropped.Inc()
			v.logger.Info("dropping broken chain", "host", t.host, "error", err)
			return "", false, nil
		}
		return "", false, err
	}

	results := make([][]string, len(v.methods))
	for i, m := range v.methods {
		results[i] = m.Validate(v.ctx, paths, v.vcfg)
	}
	return formatRow(t.host, results, t.chain), true, nil
}

func (v *ChainValidator) writeRow(row string) error {
	if err := v.writeLine(row); err != nil {
		return err
	}
	v.written.Add(1)
	v.metrics.written.Inc()
	return nil
}

func (v *ChainValidator) writeLine(line string) error {
	if _, err := v.w.WriteString(line); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	if err := v.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	return nil
}

// fail records the first fatal error and stops the pipeline.
func (v *ChainValidator) fail(err error) {
	v.mu.Lock()
	if v.err == nil {
		v.err = err
		v.logger.Error("pipeline failed", "error", err)
	}
	v.mu.Unlock()
	v.cancel()
}

func (v *ChainValidator) fatal() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.err
}

// Done stops accepting tasks, waits for every queued task, flushes and
// closes the output and removes an owned export directory. It returns the
// first fatal error of the run. Later calls to Done, Abort or Close wait
// for the first one to finish and return its result.
func (v *ChainValidator) Done() error {
	return v.finish(false)
}

// Abort stops the pipeline without running queued tasks. Tasks already
// being validated see a cancelled context. The output is still flushed
// and closed. Abort may be called from another goroutine while Done is
// waiting, which cuts the drain short.
func (v *ChainValidator) Abort() error {
	v.cancel()
	return v.finish(true)
}

// Close aborts the pipeline unless Done already completed. It is safe to
// call any number of times and suits defer.
func (v *ChainValidator) Close() error {
	v.mu.Lock()
	closed := v.closed
	v.mu.Unlock()
	if closed {
		return nil
	}
	return v.Abort()
}

func (v *ChainValidator) finish(aborted bool) error {
	if !v.closing.CompareAndSwap(false, true) {
		<-v.finished
		return v.finishErr
	}
	v.finishErr = v.drain(aborted)
	close(v.finished)
	return v.finishErr
}

func (v *ChainValidator) drain(aborted bool) error {
	// Waits for an inline Schedule or a blocked enqueue to return.
	v.sendMu.Lock()
	if v.parallelism > 0 {
		close(v.tasks)
	}
	v.sendMu.Unlock()
	if v.parallelism > 0 {
		v.workers.Wait()
		close(v.rows)
		<-v.collectorDone
	}
	v.cancel()

	var errs []error
	if err := v.w.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("flushing output: %w", err))
	}
	if c, ok := v.out.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing output: %w", err))
		}
	}
	v.removeOwnedDir()

	v.mu.Lock()
	v.closed = true
	v.mu.Unlock()

	stats := v.Stats()
	v.logger.Info("pipeline closed",
		"aborted", aborted,
		"scheduled", stats.Scheduled,
		"written", stats.Written,
		"dropped", stats.Dropped)
	if err := v.fatal(); err != nil && !aborted {
		errs = append([]error{err}, errs...)
	}
	return errors.Join(errs...)
}

func (v *ChainValidator) removeOwnedDir() {
	if v.ownedDir == "" {
		return
	}
	if err := os.RemoveAll(v.ownedDir); err != nil {
		v.logger.Warn("removing export directory", "path", v.ownedDir, "error", err)
	}
}

// Stats returns the task counters of this pipeline.
func (v *ChainValidator) Stats() Stats {
	return Stats{
		Scheduled: v.scheduled.Load(),
		Written:   v.written.Load(),
		Dropped:   v.dropped.Load(),
	}
}

// ExportDir returns the directory certificates are exported to.
func (v *ChainValidator) ExportDir() string {
	return v.resolver.Dir()
}

// Run opens a pipeline, passes it to fn and finishes it with Done. When fn
// returns an error or panics the pipeline is aborted instead.
func Run(out io.Writer, parallelism int, cfg Config, fn func(*ChainValidator) error) error {
	v, err := Open(out, parallelism, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = v.Close() }()

	if err := fn(v); err != nil {
		if abortErr := v.Abort(); abortErr != nil {
			v.logger.Warn("aborting pipeline", "error", abortErr)
		}
		return err
	}
	return v.Done()
}
