// Package metrics provides per-session counters for the data layer.
//
// The Collector accumulates counters for one session. It is a leaf
// package with no internal dependencies: labels such as cache sources and
// failure kinds are passed as strings.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Cache reads by outcome (fresh, stale, fetched, fallback, empty)
	CacheReads       map[string]int64 `json:"cache_reads"`
	RefreshesStarted int64            `json:"refreshes_started"`
	RefreshesFailed  int64            `json:"refreshes_failed"`

	// Remote operations through the retry executor
	OpsSucceeded int64 `json:"ops_succeeded"`
	OpsFailed    int64 `json:"ops_failed"`
	// Retries by failure kind (permission, transient)
	Retries map[string]int64 `json:"retries"`

	// Batch writer
	BatchChunksCommitted int64 `json:"batch_chunks_committed"`
	BatchOpsCommitted    int64 `json:"batch_ops_committed"`
	BatchChunksFailed    int64 `json:"batch_chunks_failed"`

	// Realtime
	LiveSnapshots int64 `json:"live_snapshots"`
	LiveErrors    int64 `json:"live_errors"`

	// Durable local store
	LocalWriteSuccess int64 `json:"local_write_success"`
	LocalWriteFailure int64 `json:"local_write_failure"`

	// Dimensions (informational, set at construction)
	SessionID    string `json:"session_id"`
	Backend      string `json:"backend"`
	LocalBackend string `json:"local_backend"`
}

// Collector accumulates counters during one session.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	cacheReads       map[string]int64
	refreshesStarted int64
	refreshesFailed  int64

	opsSucceeded int64
	opsFailed    int64
	retries      map[string]int64

	batchChunksCommitted int64
	batchOpsCommitted    int64
	batchChunksFailed    int64

	liveSnapshots int64
	liveErrors    int64

	localWriteSuccess int64
	localWriteFailure int64

	sessionID    string
	backend      string
	localBackend string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(sessionID, backend, localBackend string) *Collector {
	return &Collector{
		cacheReads:   make(map[string]int64),
		retries:      make(map[string]int64),
		sessionID:    sessionID,
		backend:      backend,
		localBackend: localBackend,
	}
}

// --- Cache ---

// IncCacheRead records one cache read served from source.
func (c *Collector) IncCacheRead(source string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.cacheReads[source]++
	c.mu.Unlock()
}

// IncRefreshStarted records a background refresh launch.
func (c *Collector) IncRefreshStarted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.refreshesStarted++
	c.mu.Unlock()
}

// IncRefreshFailed records a background refresh that gave up.
func (c *Collector) IncRefreshFailed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.refreshesFailed++
	c.mu.Unlock()
}

// --- Remote operations ---

// IncOpSucceeded records an operation that eventually succeeded.
func (c *Collector) IncOpSucceeded() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.opsSucceeded++
	c.mu.Unlock()
}

// IncOpFailed records an operation that failed fatally or ran out of attempts.
func (c *Collector) IncOpFailed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.opsFailed++
	c.mu.Unlock()
}

// IncRetry records one retry scheduled after a failure of kind.
func (c *Collector) IncRetry(kind string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.retries[kind]++
	c.mu.Unlock()
}

// --- Batch ---

// AddBatchChunk records one committed chunk of ops writes.
func (c *Collector) AddBatchChunk(ops int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.batchChunksCommitted++
	c.batchOpsCommitted += int64(ops)
	c.mu.Unlock()
}

// IncBatchChunkFailed records a chunk whose commit ran out of attempts.
func (c *Collector) IncBatchChunkFailed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.batchChunksFailed++
	c.mu.Unlock()
}

// --- Realtime ---

// IncLiveSnapshot records one snapshot delivered to a subscriber.
func (c *Collector) IncLiveSnapshot() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.liveSnapshots++
	c.mu.Unlock()
}

// IncLiveError records a failed live re-query.
func (c *Collector) IncLiveError() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.liveErrors++
	c.mu.Unlock()
}

// --- Local store ---

// IncLocalWriteSuccess records a successful durable local write.
func (c *Collector) IncLocalWriteSuccess() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.localWriteSuccess++
	c.mu.Unlock()
}

// IncLocalWriteFailure records a failed durable local write.
func (c *Collector) IncLocalWriteFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.localWriteFailure++
	c.mu.Unlock()
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{CacheReads: map[string]int64{}, Retries: map[string]int64{}}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	reads := make(map[string]int64, len(c.cacheReads))
	for k, v := range c.cacheReads {
		reads[k] = v
	}
	retries := make(map[string]int64, len(c.retries))
	for k, v := range c.retries {
		retries[k] = v
	}

	return Snapshot{
		CacheReads:       reads,
		RefreshesStarted: c.refreshesStarted,
		RefreshesFailed:  c.refreshesFailed,

		OpsSucceeded: c.opsSucceeded,
		OpsFailed:    c.opsFailed,
		Retries:      retries,

		BatchChunksCommitted: c.batchChunksCommitted,
		BatchOpsCommitted:    c.batchOpsCommitted,
		BatchChunksFailed:    c.batchChunksFailed,

		LiveSnapshots: c.liveSnapshots,
		LiveErrors:    c.liveErrors,

		LocalWriteSuccess: c.localWriteSuccess,
		LocalWriteFailure: c.localWriteFailure,

		SessionID:    c.sessionID,
		Backend:      c.backend,
		LocalBackend: c.localBackend,
	}
}
