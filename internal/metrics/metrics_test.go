package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/nvandessel/ecsrepl/internal/store"
)

func instrument(t *testing.T, next store.EntityStore) *InstrumentedStore {
	t.Helper()
	s, err := Instrument(context.Background(), next)
	if err != nil {
		t.Fatalf("Instrument() error = %v", err)
	}
	return s
}

func findSample(samples []Sample, name, labels string) (Sample, bool) {
	for _, s := range samples {
		if s.Name == name && s.Labels == labels {
			return s, true
		}
	}
	return Sample{}, false
}

func TestInstrument_CountsOperations(t *testing.T) {
	ctx := context.Background()
	s := instrument(t, store.NewInMemoryEntityStore())

	a, _ := s.CreateEntity(ctx, "a")
	b, _ := s.CreateEntity(ctx, "b")
	s.CreateEntity(ctx, "a") // duplicate
	s.SetRelation(ctx, "child", b, a)
	s.SetRelation(ctx, "child", a, b) // cycle
	s.RemoveEntity(ctx, b)
	s.AdvanceEpoch(ctx)

	samples, err := Summary(s.Gatherer())
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}

	tests := []struct {
		name   string
		labels string
		want   float64
	}{
		{"ecsrepl_store_operations_total", "op=create_entity,result=ok", 2},
		{"ecsrepl_store_operations_total", "op=create_entity,result=already_exists", 1},
		{"ecsrepl_store_operations_total", "op=set_relation,result=ok", 1},
		{"ecsrepl_store_operations_total", "op=set_relation,result=cycle", 1},
		{"ecsrepl_store_operations_total", "op=remove_entity,result=ok", 1},
		{"ecsrepl_store_live_entities", "", 1},
		{"ecsrepl_store_epoch", "", 2},
		{"ecsrepl_store_operation_duration_seconds_count", "op=create_entity", 3},
	}
	for _, tt := range tests {
		got, ok := findSample(samples, tt.name, tt.labels)
		if !ok {
			t.Errorf("sample %s{%s} missing", tt.name, tt.labels)
			continue
		}
		if got.Value != tt.want {
			t.Errorf("%s{%s} = %v, want %v", tt.name, tt.labels, got.Value, tt.want)
		}
	}
}

func TestInstrument_PassesThroughErrors(t *testing.T) {
	s := instrument(t, store.NewInMemoryEntityStore())
	_, err := s.GetAttribute(context.Background(), 7, "health")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetAttribute() error = %v, want ErrNotFound", err)
	}
}

func TestInstrument_SeedsGauges(t *testing.T) {
	ctx := context.Background()
	inner := store.NewInMemoryEntityStore()
	inner.CreateEntity(ctx, "a")
	inner.CreateEntity(ctx, "b")
	inner.AdvanceEpoch(ctx)

	fresh := instrument(t, store.NewInMemoryEntityStore())
	used := instrument(t, inner)

	tests := []struct {
		name string
		s    *InstrumentedStore
		live float64
		want float64
	}{
		{"fresh store", fresh, 0, 1},
		{"store in use", used, 2, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			samples, err := Summary(tt.s.Gatherer())
			if err != nil {
				t.Fatalf("Summary() error = %v", err)
			}
			if got, ok := findSample(samples, "ecsrepl_store_epoch", ""); !ok || got.Value != tt.want {
				t.Errorf("ecsrepl_store_epoch = %v (present %v), want %v", got.Value, ok, tt.want)
			}
			if got, ok := findSample(samples, "ecsrepl_store_live_entities", ""); !ok || got.Value != tt.live {
				t.Errorf("ecsrepl_store_live_entities = %v (present %v), want %v", got.Value, ok, tt.live)
			}
			if _, ok := findSample(samples, "ecsrepl_store_operations_total", "op=epoch,result=ok"); ok {
				t.Error("seeding the gauges was counted as an operation")
			}
		})
	}
}

func TestInstrument_AttributeBatchOps(t *testing.T) {
	ctx := context.Background()
	s := instrument(t, store.NewInMemoryEntityStore())
	id, _ := s.CreateEntity(ctx, "a")
	s.SetAttributes(ctx, id, store.Attribute{Name: "mana", Value: 5}, store.Attribute{Name: "max_mana", Value: 5})
	s.UpdateAttribute(ctx, id, "mana", func(cur int64) (int64, error) { return cur - 1, nil })
	s.UpdateAttribute(ctx, id, "health", func(cur int64) (int64, error) { return cur, nil })

	samples, err := Summary(s.Gatherer())
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	for _, labels := range []string{
		"op=set_attributes,result=ok",
		"op=update_attribute,result=ok",
		"op=update_attribute,result=attribute_missing",
	} {
		if got, ok := findSample(samples, "ecsrepl_store_operations_total", labels); !ok || got.Value != 1 {
			t.Errorf("ecsrepl_store_operations_total{%s} = %v (present %v), want 1", labels, got.Value, ok)
		}
	}
}

func TestResult(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{fmt.Errorf("wrapped: %w", store.ErrNotFound), "not_found"},
		{store.ErrAttributeMissing, "attribute_missing"},
		{store.ErrCycleDetected, "cycle"},
		{store.ErrRelationMissing, "relation_missing"},
		{store.ErrInvalidName, "invalid_name"},
		{errors.New("boom"), "error"},
	}
	for _, tt := range tests {
		if got := Result(tt.err); got != tt.want {
			t.Errorf("Result(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestSample_String(t *testing.T) {
	s := Sample{Name: "x_total", Labels: "op=a", Value: 3}
	if got := s.String(); got != "x_total{op=a} 3" {
		t.Errorf("String() = %q", got)
	}
	s.Labels = ""
	if got := s.String(); got != "x_total 3" {
		t.Errorf("String() = %q", got)
	}
}
