// Package metrics instruments an EntityStore with Prometheus counters.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/nvandessel/ecsrepl/internal/store"
)

// Recorder holds the store metrics.
type Recorder struct {
	ops      *prometheus.CounterVec
	duration *prometheus.HistogramVec
	live     prometheus.Gauge
	epoch    prometheus.Gauge
}

// NewRecorder creates the store metrics and registers them with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ecsrepl_store_operations_total",
			Help: "Store operations by operation and result.",
		}, []string{"op", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ecsrepl_store_operation_duration_seconds",
			Help:    "Store operation latency.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8),
		}, []string{"op"}),
		live: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ecsrepl_store_live_entities",
			Help: "Entities currently alive in the store.",
		}),
		epoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ecsrepl_store_epoch",
			Help: "Current change-tracking epoch.",
		}),
	}
	reg.MustRegister(r.ops, r.duration, r.live, r.epoch)
	return r
}

// Observe records one operation outcome.
func (r *Recorder) Observe(op string, err error, d time.Duration) {
	r.ops.WithLabelValues(op, Result(err)).Inc()
	r.duration.WithLabelValues(op).Observe(d.Seconds())
}

// Result maps an operation error to a low-cardinality label value.
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, store.ErrAttributeMissing):
		return "attribute_missing"
	case errors.Is(err, store.ErrCycleDetected):
		return "cycle"
	case errors.Is(err, store.ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, store.ErrRelationMissing):
		return "relation_missing"
	case errors.Is(err, store.ErrInvalidName):
		return "invalid_name"
	default:
		return "error"
	}
}

// Sample is one gathered series, flattened for printing.
type Sample struct {
	Name   string
	Labels string // k=v pairs joined by commas, sorted
	Value  float64
}

func (s Sample) String() string {
	if s.Labels == "" {
		return fmt.Sprintf("%s %g", s.Name, s.Value)
	}
	return fmt.Sprintf("%s{%s} %g", s.Name, s.Labels, s.Value)
}

// Summary gathers g and flattens counters and gauges into samples sorted by
// name and labels. Histograms report their sample count.
func Summary(g prometheus.Gatherer) ([]Sample, error) {
	families, err := g.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather metrics: %w", err)
	}

	var out []Sample
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			s := Sample{Name: mf.GetName(), Labels: labelString(m.GetLabel())}
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				s.Value = m.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				s.Value = m.GetGauge().GetValue()
			case dto.MetricType_HISTOGRAM:
				s.Name += "_count"
				s.Value = float64(m.GetHistogram().GetSampleCount())
			default:
				continue
			}
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Labels < out[j].Labels
	})
	return out, nil
}

func labelString(pairs []*dto.LabelPair) string {
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, p.GetName()+"="+p.GetValue())
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

// InstrumentedStore decorates an EntityStore, recording every call.
type InstrumentedStore struct {
	next     store.EntityStore
	rec      *Recorder
	gatherer prometheus.Gatherer
}

// Instrument wraps s with metrics registered on a fresh private registry.
// The gauges start from the store's current epoch and live entity count.
func Instrument(ctx context.Context, s store.EntityStore) (*InstrumentedStore, error) {
	e, err := s.Epoch(ctx)
	if err != nil {
		return nil, fmt.Errorf("read epoch: %w", err)
	}
	snaps, err := s.Entities(ctx)
	if err != nil {
		return nil, fmt.Errorf("count entities: %w", err)
	}

	reg := prometheus.NewRegistry()
	rec := NewRecorder(reg)
	rec.epoch.Set(float64(e))
	rec.live.Set(float64(len(snaps)))
	return &InstrumentedStore{next: s, rec: rec, gatherer: reg}, nil
}

// Gatherer exposes the registry holding this store's metrics.
func (s *InstrumentedStore) Gatherer() prometheus.Gatherer { return s.gatherer }

// Unwrap returns the decorated store.
func (s *InstrumentedStore) Unwrap() store.EntityStore { return s.next }

func (s *InstrumentedStore) observe(op string, start time.Time, err error) {
	s.rec.Observe(op, err, time.Since(start))
}

func (s *InstrumentedStore) CreateEntity(ctx context.Context, name string) (store.EntityID, error) {
	start := time.Now()
	id, err := s.next.CreateEntity(ctx, name)
	if err == nil {
		s.rec.live.Inc()
	}
	s.observe("create_entity", start, err)
	return id, err
}

func (s *InstrumentedStore) RemoveEntity(ctx context.Context, id store.EntityID) error {
	start := time.Now()
	err := s.next.RemoveEntity(ctx, id)
	if err == nil {
		s.rec.live.Dec()
	}
	s.observe("remove_entity", start, err)
	return err
}

func (s *InstrumentedStore) Lookup(ctx context.Context, name string) (store.EntityID, error) {
	start := time.Now()
	id, err := s.next.Lookup(ctx, name)
	s.observe("lookup", start, err)
	return id, err
}

func (s *InstrumentedStore) Entity(ctx context.Context, id store.EntityID) (store.Snapshot, error) {
	start := time.Now()
	snap, err := s.next.Entity(ctx, id)
	s.observe("entity", start, err)
	return snap, err
}

func (s *InstrumentedStore) Entities(ctx context.Context) ([]store.Snapshot, error) {
	start := time.Now()
	snaps, err := s.next.Entities(ctx)
	s.observe("entities", start, err)
	return snaps, err
}

func (s *InstrumentedStore) SetAttribute(ctx context.Context, id store.EntityID, name string, value int64) error {
	start := time.Now()
	err := s.next.SetAttribute(ctx, id, name, value)
	s.observe("set_attribute", start, err)
	return err
}

func (s *InstrumentedStore) SetAttributes(ctx context.Context, id store.EntityID, attrs ...store.Attribute) error {
	start := time.Now()
	err := s.next.SetAttributes(ctx, id, attrs...)
	s.observe("set_attributes", start, err)
	return err
}

func (s *InstrumentedStore) UpdateAttribute(ctx context.Context, id store.EntityID, name string, fn func(cur int64) (int64, error)) (int64, error) {
	start := time.Now()
	v, err := s.next.UpdateAttribute(ctx, id, name, fn)
	s.observe("update_attribute", start, err)
	return v, err
}

func (s *InstrumentedStore) GetAttribute(ctx context.Context, id store.EntityID, name string) (int64, error) {
	start := time.Now()
	v, err := s.next.GetAttribute(ctx, id, name)
	s.observe("get_attribute", start, err)
	return v, err
}

func (s *InstrumentedStore) SetRelation(ctx context.Context, rel string, child, parent store.EntityID) error {
	start := time.Now()
	err := s.next.SetRelation(ctx, rel, child, parent)
	s.observe("set_relation", start, err)
	return err
}

func (s *InstrumentedStore) LinkRelation(ctx context.Context, rel string, child, parent store.EntityID) error {
	start := time.Now()
	err := s.next.LinkRelation(ctx, rel, child, parent)
	s.observe("link_relation", start, err)
	return err
}

func (s *InstrumentedStore) RemoveRelation(ctx context.Context, rel string, child, parent store.EntityID) error {
	start := time.Now()
	err := s.next.RemoveRelation(ctx, rel, child, parent)
	s.observe("remove_relation", start, err)
	return err
}

func (s *InstrumentedStore) Parents(ctx context.Context, rel string, child store.EntityID) ([]store.EntityID, error) {
	start := time.Now()
	ids, err := s.next.Parents(ctx, rel, child)
	s.observe("parents", start, err)
	return ids, err
}

func (s *InstrumentedStore) Children(ctx context.Context, rel string, parent store.EntityID) ([]store.EntityID, error) {
	start := time.Now()
	ids, err := s.next.Children(ctx, rel, parent)
	s.observe("children", start, err)
	return ids, err
}

func (s *InstrumentedStore) Orphans(ctx context.Context, rel string) ([]store.EntityID, error) {
	start := time.Now()
	ids, err := s.next.Orphans(ctx, rel)
	s.observe("orphans", start, err)
	return ids, err
}

func (s *InstrumentedStore) Dump(ctx context.Context, filter store.Filter) ([]store.Snapshot, error) {
	start := time.Now()
	snaps, err := s.next.Dump(ctx, filter)
	s.observe("dump", start, err)
	return snaps, err
}

func (s *InstrumentedStore) TreeDFS(ctx context.Context, rel string) ([]store.EntityID, error) {
	start := time.Now()
	ids, err := s.next.TreeDFS(ctx, rel)
	s.observe("tree_dfs", start, err)
	return ids, err
}

func (s *InstrumentedStore) TreeTopo(ctx context.Context, rel string) ([]store.EntityID, error) {
	start := time.Now()
	ids, err := s.next.TreeTopo(ctx, rel)
	s.observe("tree_topo", start, err)
	return ids, err
}

func (s *InstrumentedStore) Epoch(ctx context.Context) (store.Epoch, error) {
	start := time.Now()
	e, err := s.next.Epoch(ctx)
	if err == nil {
		s.rec.epoch.Set(float64(e))
	}
	s.observe("epoch", start, err)
	return e, err
}

func (s *InstrumentedStore) AdvanceEpoch(ctx context.Context) (store.Epoch, error) {
	start := time.Now()
	e, err := s.next.AdvanceEpoch(ctx)
	if err == nil {
		s.rec.epoch.Set(float64(e))
	}
	s.observe("advance_epoch", start, err)
	return e, err
}

func (s *InstrumentedStore) Close() error {
	return s.next.Close()
}

var _ store.EntityStore = (*InstrumentedStore)(nil)
