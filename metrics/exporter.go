package metrics

import (
	"net/http"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every exported metric name.
const Namespace = "despacho"

// ConnSource reports live connectivity for the exported gauges.
type ConnSource func() (online bool, permissionDenied int)

// Exporter exposes a Collector as Prometheus metrics. Values are read
// from a fresh Snapshot on every scrape, so the Collector remains the
// single source of truth.
type Exporter struct {
	source *Collector
	conn   ConnSource

	cacheReads    *prometheus.Desc
	refreshes     *prometheus.Desc
	refreshFails  *prometheus.Desc
	ops           *prometheus.Desc
	retries       *prometheus.Desc
	batchChunks   *prometheus.Desc
	batchOps      *prometheus.Desc
	batchFailures *prometheus.Desc
	liveSnapshots *prometheus.Desc
	liveErrors    *prometheus.Desc
	localWrites   *prometheus.Desc
	online        *prometheus.Desc
	denied        *prometheus.Desc
}

// NewExporter builds an exporter over c. conn may be nil.
func NewExporter(c *Collector, conn ConnSource) *Exporter {
	s := c.Snapshot()
	constLabels := prometheus.Labels{
		"backend":       s.Backend,
		"local_backend": s.LocalBackend,
	}
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(Namespace, "", name), help, labels, constLabels)
	}
	return &Exporter{
		source:        c,
		conn:          conn,
		cacheReads:    desc("cache_reads_total", "Cache reads by serving outcome", "source"),
		refreshes:     desc("cache_refreshes_started_total", "Background refreshes launched"),
		refreshFails:  desc("cache_refreshes_failed_total", "Background refreshes that gave up"),
		ops:           desc("remote_ops_total", "Remote operations by final result", "result"),
		retries:       desc("remote_retries_total", "Retries scheduled by failure kind", "kind"),
		batchChunks:   desc("batch_chunks_committed_total", "Batch chunks committed"),
		batchOps:      desc("batch_ops_committed_total", "Writes committed through batches"),
		batchFailures: desc("batch_chunks_failed_total", "Batch chunks that ran out of attempts"),
		liveSnapshots: desc("live_snapshots_total", "Snapshots delivered to live subscribers"),
		liveErrors:    desc("live_errors_total", "Live re-queries that failed"),
		localWrites:   desc("local_writes_total", "Durable local store writes by result", "result"),
		online:        desc("remote_online", "1 when the remote store is reachable"),
		denied:        desc("remote_permission_denied", "Consecutive permission failures"),
	}
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		e.cacheReads, e.refreshes, e.refreshFails, e.ops, e.retries,
		e.batchChunks, e.batchOps, e.batchFailures,
		e.liveSnapshots, e.liveErrors, e.localWrites, e.online, e.denied,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	s := e.source.Snapshot()
	counter := func(d *prometheus.Desc, v int64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}

	for _, source := range sortedKeys(s.CacheReads) {
		counter(e.cacheReads, s.CacheReads[source], source)
	}
	counter(e.refreshes, s.RefreshesStarted)
	counter(e.refreshFails, s.RefreshesFailed)
	counter(e.ops, s.OpsSucceeded, "success")
	counter(e.ops, s.OpsFailed, "failure")
	for _, kind := range sortedKeys(s.Retries) {
		counter(e.retries, s.Retries[kind], kind)
	}
	counter(e.batchChunks, s.BatchChunksCommitted)
	counter(e.batchOps, s.BatchOpsCommitted)
	counter(e.batchFailures, s.BatchChunksFailed)
	counter(e.liveSnapshots, s.LiveSnapshots)
	counter(e.liveErrors, s.LiveErrors)
	counter(e.localWrites, s.LocalWriteSuccess, "success")
	counter(e.localWrites, s.LocalWriteFailure, "failure")

	if e.conn != nil {
		online, denied := e.conn()
		v := 0.0
		if online {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(e.online, prometheus.GaugeValue, v)
		ch <- prometheus.MustNewConstMetric(e.denied, prometheus.GaugeValue, float64(denied))
	}
}

// Handler registers the exporter on a fresh registry and returns the
// scrape handler for it.
func (e *Exporter) Handler() (http.Handler, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(e); err != nil {
		return nil, err
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var _ prometheus.Collector = (*Exporter)(nil)
