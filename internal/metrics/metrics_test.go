package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveStageRecordsHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.ObserveStage("plan", 120*time.Millisecond, "SUCCESS")

	count := testutil.CollectAndCount(reg, "meshrun_stage_duration_ms")
	if count != 1 {
		t.Fatalf("CollectAndCount=%d, want 1 observed series", count)
	}
}

func TestAddRetriesAccumulates(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.AddRetries("plan", 2)
	c.AddRetries("plan", 1)

	got := testutil.ToFloat64(c.retries.WithLabelValues("plan"))
	if got != 3 {
		t.Fatalf("retries total=%v, want 3", got)
	}
}

func TestIncPipelineCountsByStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.IncPipeline("SUCCESS")
	c.IncPipeline("SUCCESS")
	c.IncPipeline("FAIL")

	if got := testutil.ToFloat64(c.pipelines.WithLabelValues("SUCCESS")); got != 2 {
		t.Fatalf("SUCCESS count=%v, want 2", got)
	}
	if got := testutil.ToFloat64(c.pipelines.WithLabelValues("FAIL")); got != 1 {
		t.Fatalf("FAIL count=%v, want 1", got)
	}
}

func TestNilCollectorMethodsAreNoops(t *testing.T) {
	var c *Collector
	c.ObserveStage("x", time.Second, "SUCCESS")
	c.AddRetries("x", 1)
	c.IncPipeline("SUCCESS")
}

func TestNewCollectorWithNilRegistryUsesDefault(t *testing.T) {
	c := NewCollector(nil)
	c.IncPipeline("SUCCESS")

	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, mf := range mfs {
		if strings.HasPrefix(mf.GetName(), "meshrun_pipelines_total") {
			found = true
		}
	}
	if !found {
		t.Fatal("expected meshrun_pipelines_total to be registered on the default registerer")
	}
}
