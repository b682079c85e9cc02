package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecording(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("test", reg)

	m.ObserveDocking("qvina", "qvina02", "success", 3.2)
	m.ObserveDocking("qvina", "qvina02", "failed", 1.0)
	m.ObserveDocking("qvina", "qvina02", "success", 2.0)
	m.IncSkipped("ligand_coordinates")
	m.ObserveUpload("success", 2048, 0.5)
	m.ObserveUpload("error", 0, 0)
	m.SetQueueDepth("unpack", 7)

	if got := testutil.ToFloat64(m.Dockings.WithLabelValues("qvina", "success")); got != 2 {
		t.Errorf("successful dockings = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.LigandsSkipped.WithLabelValues("ligand_coordinates")); got != 1 {
		t.Errorf("skipped = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.UploadBytes); got != 2048 {
		t.Errorf("upload bytes = %v, want 2048", got)
	}
	if got := testutil.ToFloat64(m.QueueDepth.WithLabelValues("unpack")); got != 7 {
		t.Errorf("queue depth = %v, want 7", got)
	}
}
