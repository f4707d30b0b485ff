package archive

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/narvanalabs/tower-controller/internal/history"
)

// WriterConfig configures the background writer.
type WriterConfig struct {
	QueueSize     int
	WriteTimeout  time.Duration
	Retention     time.Duration // 0 keeps everything
	PruneInterval time.Duration
}

// DefaultWriterConfig returns a WriterConfig with sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		QueueSize:     16,
		WriteTimeout:  10 * time.Second,
		PruneInterval: 24 * time.Hour,
	}
}

// Writer moves snapshot batches to the archive off the control loop.
type Writer struct {
	archive Archive
	cfg     WriterConfig
	queue   chan []history.Record
	dropped atomic.Uint64
	logger  *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewWriter creates a writer. Call Start to begin processing.
func NewWriter(a Archive, cfg WriterConfig, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = 24 * time.Hour
	}
	return &Writer{
		archive: a,
		cfg:     cfg,
		queue:   make(chan []history.Record, cfg.QueueSize),
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
}

// Submit queues a batch without blocking. It returns false if the batch was dropped.
func (w *Writer) Submit(records []history.Record) bool {
	if len(records) == 0 {
		return true
	}
	select {
	case w.queue <- records:
		return true
	default:
		w.dropped.Add(1)
		w.logger.Warn("archive queue full, dropping snapshot", "records", len(records))
		return false
	}
}

// Dropped returns the number of batches dropped.
func (w *Writer) Dropped() uint64 {
	return w.dropped.Load()
}

// Start launches the writer goroutine.
func (w *Writer) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop flushes queued batches and waits for the writer to exit.
func (w *Writer) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

func (w *Writer) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case records := <-w.queue:
			w.write(records)
		case <-ticker.C:
			w.prune()
		case <-w.stopCh:
			w.drain()
			return
		case <-ctx.Done():
			w.drain()
			return
		}
	}
}

func (w *Writer) drain() {
	for {
		select {
		case records := <-w.queue:
			w.write(records)
		default:
			return
		}
	}
}

func (w *Writer) write(records []history.Record) {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.WriteTimeout)
	defer cancel()
	if err := w.archive.Append(ctx, records); err != nil {
		w.logger.Error("failed to archive snapshot", "records", len(records), "error", err)
		return
	}
	w.logger.Debug("snapshot archived", "records", len(records))
}

// prune removes archived samples older than the retention period.
func (w *Writer) prune() {
	if w.cfg.Retention <= 0 {
		return
	}
	start := time.Now()
	cutoff := start.Add(-w.cfg.Retention)

	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.WriteTimeout)
	defer cancel()

	removed, err := w.archive.Prune(ctx, cutoff)
	if err != nil {
		w.logger.Error("archive cleanup failed", "cutoff", cutoff, "error", err)
		return
	}
	w.logger.Info("archive cleanup completed",
		"removed", removed,
		"retention", w.cfg.Retention,
		"duration", time.Since(start),
	)
}
