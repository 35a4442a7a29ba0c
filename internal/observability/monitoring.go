// Package observability periodically samples the compression core's
// stats.Registry and surfaces compression-ratio regressions and skip-rate
// spikes as alerts, adapted from the teacher's generic metrics/anomaly/alert
// trio (internal/observability/monitoring.go in the teacher copy).
package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/minio/cachecomp/internal/stats"
)

// Sample is one point-in-time reading derived from a stats.Snapshot,
// namespaced the same way the registry is.
type Sample struct {
	Namespace string
	Timestamp time.Time
	Ratio     float64 // bytes_compressed / bytes_raw, 0 if no bytes observed
	SkipRate  float64 // skips / (skips + write_ops)
	ErrorRate float64 // (err_compress+err_decompress+err_dict_miss) / (read_ops+write_ops)
	Snapshot  stats.Snapshot
}

func sampleFrom(ns string, snap stats.Snapshot, now time.Time) Sample {
	s := Sample{Namespace: ns, Timestamp: now, Snapshot: snap}
	if snap.BytesRaw > 0 {
		s.Ratio = float64(snap.BytesCompressed) / float64(snap.BytesRaw)
	}
	skips := snap.SkipMinSize + snap.SkipMaxSize + snap.SkipIncompressible + snap.SkipDisabled
	if total := skips + snap.WriteOps; total > 0 {
		s.SkipRate = float64(skips) / float64(total)
	}
	errs := snap.ErrCompress + snap.ErrDecompress + snap.ErrDictMiss
	if total := snap.ReadOps + snap.WriteOps; total > 0 {
		s.ErrorRate = float64(errs) / float64(total)
	}
	return s
}

// Baseline is an exponentially-smoothed running mean for one metric on
// one namespace, the same shape as the teacher's anomaly baseline.
type Baseline struct {
	Mean       float64
	LastUpdate time.Time
}

// AnomalyDetector flags when a namespace's compression ratio drifts
// worse than threshold percent above its running baseline — e.g. a
// dictionary went stale and traffic quietly stopped compressing well.
type AnomalyDetector struct {
	mu        sync.Mutex
	baselines map[string]Baseline
	threshold float64
}

func NewAnomalyDetector(thresholdPercent float64) *AnomalyDetector {
	return &AnomalyDetector{baselines: make(map[string]Baseline), threshold: thresholdPercent}
}

// Observe folds value into ns's baseline and reports whether it counts
// as an anomaly against the pre-update baseline.
func (ad *AnomalyDetector) Observe(ns string, value float64, now time.Time) (isAnomaly bool, deviationPct float64) {
	ad.mu.Lock()
	defer ad.mu.Unlock()

	b, exists := ad.baselines[ns]
	if !exists {
		ad.baselines[ns] = Baseline{Mean: value, LastUpdate: now}
		return false, 0
	}
	if b.Mean > 0 {
		deviationPct = ((value - b.Mean) / b.Mean) * 100
		isAnomaly = deviationPct > ad.threshold
	}
	const alpha = 0.3
	b.Mean = alpha*value + (1-alpha)*b.Mean
	b.LastUpdate = now
	ad.baselines[ns] = b
	return isAnomaly, deviationPct
}

// Alert is a single fired condition, mirroring the teacher's Alert shape.
type Alert struct {
	Namespace string
	Metric    string
	Severity  string // "critical", "warning"
	Message   string
	Value     float64
	FiredAt   time.Time
}

// AlertSubscriber receives fired alerts.
type AlertSubscriber interface {
	OnAlert(a Alert)
}

// AlertManager evaluates a fixed set of rules against each sampling pass
// and fans fired alerts out to subscribers.
type AlertManager struct {
	mu          sync.RWMutex
	subscribers map[string]AlertSubscriber
	ratioAD     *AnomalyDetector
	skipRateMax float64
	errRateMax  float64
}

// NewAlertManager wires thresholds for the two non-anomaly-based rules
// (skip rate, error rate) alongside a ratio anomaly detector.
func NewAlertManager(ratioAnomalyThresholdPct, skipRateMax, errRateMax float64) *AlertManager {
	return &AlertManager{
		subscribers: make(map[string]AlertSubscriber),
		ratioAD:     NewAnomalyDetector(ratioAnomalyThresholdPct),
		skipRateMax: skipRateMax,
		errRateMax:  errRateMax,
	}
}

func (am *AlertManager) Subscribe(name string, sub AlertSubscriber) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.subscribers[name] = sub
}

// Evaluate runs every rule against s and notifies subscribers for any
// that fire. Returns the fired alerts for callers that want them
// synchronously (e.g. tests) in addition to the async notification.
func (am *AlertManager) Evaluate(s Sample) []Alert {
	var fired []Alert

	if isAnom, dev := am.ratioAD.Observe(s.Namespace, s.Ratio, s.Timestamp); isAnom {
		fired = append(fired, Alert{
			Namespace: s.Namespace, Metric: "compression_ratio", Severity: "warning",
			Message: fmt.Sprintf("compression ratio for %s degraded %.1f%% from baseline", s.Namespace, dev),
			Value:   s.Ratio, FiredAt: s.Timestamp,
		})
	}
	if am.skipRateMax > 0 && s.SkipRate > am.skipRateMax {
		fired = append(fired, Alert{
			Namespace: s.Namespace, Metric: "skip_rate", Severity: "warning",
			Message: fmt.Sprintf("skip rate for %s is %.1f%%, above %.1f%% threshold", s.Namespace, s.SkipRate*100, am.skipRateMax*100),
			Value:   s.SkipRate, FiredAt: s.Timestamp,
		})
	}
	if am.errRateMax > 0 && s.ErrorRate > am.errRateMax {
		fired = append(fired, Alert{
			Namespace: s.Namespace, Metric: "error_rate", Severity: "critical",
			Message: fmt.Sprintf("error rate for %s is %.2f%%, above %.2f%% threshold", s.Namespace, s.ErrorRate*100, am.errRateMax*100),
			Value:   s.ErrorRate, FiredAt: s.Timestamp,
		})
	}

	if len(fired) > 0 {
		am.mu.RLock()
		subs := make([]AlertSubscriber, 0, len(am.subscribers))
		for _, sub := range am.subscribers {
			subs = append(subs, sub)
		}
		am.mu.RUnlock()
		for _, a := range fired {
			for _, sub := range subs {
				go sub.OnAlert(a)
			}
		}
	}
	return fired
}

// Monitor periodically samples a stats.Registry and drives an
// AlertManager off the result. A host starts one via Run.
type Monitor struct {
	reg      *stats.Registry
	alerts   *AlertManager
	interval time.Duration
}

func NewMonitor(reg *stats.Registry, alerts *AlertManager, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{reg: reg, alerts: alerts, interval: interval}
}

// Run samples on a ticker until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

func (m *Monitor) tick() {
	now := time.Now().UTC()
	for ns, snap := range m.reg.Namespaces() {
		m.alerts.Evaluate(sampleFrom(ns, snap, now))
	}
	m.alerts.Evaluate(sampleFrom("_global", m.reg.Global().Snapshot(), now))
}

// ExportPrometheusText renders a minimal Prometheus text-exposition
// snapshot of the global counters (spec has no metrics-server
// requirement; this backs an optional /metrics handler a host can wire
// in on its own).
func ExportPrometheusText(reg *stats.Registry) string {
	g := reg.Global().Snapshot()
	var out string
	out += "# HELP cachecomp_bytes_raw_total Raw bytes observed before compression\n"
	out += "# TYPE cachecomp_bytes_raw_total counter\n"
	out += fmt.Sprintf("cachecomp_bytes_raw_total %d\n", g.BytesRaw)
	out += "# HELP cachecomp_bytes_compressed_total Compressed bytes written\n"
	out += "# TYPE cachecomp_bytes_compressed_total counter\n"
	out += fmt.Sprintf("cachecomp_bytes_compressed_total %d\n", g.BytesCompressed)
	out += "# HELP cachecomp_write_ops_total Encode operations\n"
	out += "# TYPE cachecomp_write_ops_total counter\n"
	out += fmt.Sprintf("cachecomp_write_ops_total %d\n", g.WriteOps)
	out += "# HELP cachecomp_read_ops_total Decode operations\n"
	out += "# TYPE cachecomp_read_ops_total counter\n"
	out += fmt.Sprintf("cachecomp_read_ops_total %d\n", g.ReadOps)
	out += "# HELP cachecomp_trainer_publishes_total Dictionaries published\n"
	out += "# TYPE cachecomp_trainer_publishes_total counter\n"
	out += fmt.Sprintf("cachecomp_trainer_publishes_total %d\n", g.TrainerPublishes)
	return out
}
