package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordAPIRequest(t *testing.T) {
	before := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/api/sessions", "200"))
	RecordAPIRequest("GET", "/api/sessions", 200, 15*time.Millisecond)
	after := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/api/sessions", "200"))
	if after-before != 1 {
		t.Fatalf("request counter advanced by %v, want 1", after-before)
	}
}

func TestPipelineCounters(t *testing.T) {
	before := testutil.ToFloat64(DetectionsSuppressed.WithLabelValues("PHONE"))
	DetectionsSuppressed.WithLabelValues("PHONE").Inc()
	if got := testutil.ToFloat64(DetectionsSuppressed.WithLabelValues("PHONE")) - before; got != 1 {
		t.Fatalf("suppressed counter advanced by %v, want 1", got)
	}
}
