// Package batch applies bulk writes to the remote store in chunks no
// larger than the store's atomic commit limit.
//
// Each chunk is one Commit run through the retry executor. Chunks are
// committed in order and the first chunk that gives up stops the write.
// Ops carry their document ids, so a retried chunk rewrites the same
// documents instead of duplicating them.
package batch

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/pithecene-io/despacho/log"
	"github.com/pithecene-io/despacho/metrics"
	"github.com/pithecene-io/despacho/remote"
	"github.com/pithecene-io/despacho/retry"
)

// ErrInvalidChunkSize is returned for chunk sizes outside 1..MaxBatchSize.
var ErrInvalidChunkSize = fmt.Errorf("chunk size must be between 1 and %d", remote.MaxBatchSize)

// ProgressFunc receives the percentage of ops committed (0-100) and a
// human-readable status line after every chunk.
type ProgressFunc func(percent int, message string)

// ChunkError reports a chunk that could not be committed.
// Chunks before it are committed; it and every later chunk are not.
type ChunkError struct {
	// Chunk is the 0-indexed chunk that failed.
	Chunk int
	// Committed is the number of ops committed before the failure.
	Committed int
	// Err is the executor's error for the chunk.
	Err error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d failed after %d committed: %v", e.Chunk, e.Committed, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *ChunkError) Unwrap() error {
	return e.Err
}

// Config configures a Writer.
type Config struct {
	// ChunkSize is the number of ops per commit.
	// Zero means remote.MaxBatchSize.
	ChunkSize int
	// Logger is optional.
	Logger *log.Logger
	// Metrics is optional.
	Metrics *metrics.Collector
}

// Writer commits bulk writes. Safe for concurrent use.
type Writer struct {
	store     remote.Store
	exec      *retry.Executor
	chunkSize int
	logger    *log.Logger
	metrics   *metrics.Collector
}

// NewWriter creates a writer over store.
func NewWriter(store remote.Store, exec *retry.Executor, config Config) (*Writer, error) {
	if store == nil || exec == nil {
		return nil, errors.New("batch writer needs a store and an executor")
	}
	size := config.ChunkSize
	if size == 0 {
		size = remote.MaxBatchSize
	}
	if size < 1 || size > remote.MaxBatchSize {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidChunkSize, size)
	}
	return &Writer{
		store:     store,
		exec:      exec,
		chunkSize: size,
		logger:    config.Logger.With("batch"),
		metrics:   config.Metrics,
	}, nil
}

// ChunkSize returns the number of ops per commit.
func (w *Writer) ChunkSize() int {
	return w.chunkSize
}

// Commit writes ops chunk by chunk and returns how many were committed.
// onProgress may be nil. On failure the count covers the chunks that
// did commit and the error is a *ChunkError.
func (w *Writer) Commit(ctx context.Context, label string, ops []remote.WriteOp, onProgress ProgressFunc) (int, error) {
	total := len(ops)
	committed := 0

	for chunk, start := 0, 0; start < total; chunk, start = chunk+1, start+w.chunkSize {
		end := min(start+w.chunkSize, total)
		part := ops[start:end]

		err := w.exec.Run(ctx, fmt.Sprintf("%s chunk %d", label, chunk), func(ctx context.Context) error {
			return w.store.Commit(ctx, part)
		})
		if err != nil {
			w.metrics.IncBatchChunkFailed()
			w.logger.Error("chunk commit failed", map[string]any{
				"label":     label,
				"chunk":     chunk,
				"committed": committed,
				"total":     total,
				"error":     err.Error(),
			})
			return committed, &ChunkError{Chunk: chunk, Committed: committed, Err: err}
		}

		committed = end
		w.metrics.AddBatchChunk(len(part))
		w.logger.Debug("chunk committed", map[string]any{
			"label":     label,
			"chunk":     chunk,
			"committed": committed,
			"total":     total,
		})
		if onProgress != nil {
			onProgress(Percent(committed, total), fmt.Sprintf("%d/%d %s saved", committed, total, label))
		}
	}
	return committed, nil
}

// Percent returns done/total as a rounded percentage.
// An empty total counts as complete.
func Percent(done, total int) int {
	if total <= 0 {
		return 100
	}
	return int(math.Round(float64(done) / float64(total) * 100))
}
