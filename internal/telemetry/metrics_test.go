package telemetry

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// ---------------------------------------------------------------------------
// Registration: checked through Describe() because Gather() omits *Vec
// metrics that have not been observed yet.
// ---------------------------------------------------------------------------

func TestMetrics_AllRegistered(t *testing.T) {
	type describer interface {
		Describe(chan<- *prometheus.Desc)
	}

	cases := []struct {
		name string
		c    describer
	}{
		{"http_requests_total", HTTPRequestsTotal},
		{"http_request_duration_seconds", HTTPRequestDuration},
		{"audit_records_written_total", AuditRecordsWrittenTotal},
		{"audit_records_discarded_total", AuditRecordsDiscardedTotal},
		{"queue_messages_total", QueueMessagesTotal},
		{"queue_batch_size", QueueBatchSize},
		{"queue_tag_maintenance_total", QueueTagMaintenanceTotal},
		{"notifications_total", NotificationsTotal},
		{"db_open_connections", DBOpenConnections},
		{"queue_depth", QueueDepth},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ch := make(chan *prometheus.Desc, 10)
			tc.c.Describe(ch)
			close(ch)
			for desc := range ch {
				if strings.Contains(desc.String(), `"`+tc.name+`"`) {
					return
				}
			}
			t.Errorf("metric %q: Describe() returned no descriptor with this fqName", tc.name)
		})
	}
}

func TestMetrics_CounterVecsIncrement(t *testing.T) {
	cases := []struct {
		name   string
		cv     *prometheus.CounterVec
		labels prometheus.Labels
	}{
		{"http", HTTPRequestsTotal, prometheus.Labels{"method": "POST", "path": "/api/circulars/:id/publish", "status": "202"}},
		{"audit", AuditRecordsWrittenTotal, prometheus.Labels{"operation": "C"}},
		{"queue", QueueMessagesTotal, prometheus.Labels{"queue": "circolare", "outcome": "acked"}},
		{"maintenance", QueueTagMaintenanceTotal, prometheus.Labels{"operation": "update", "result": "rescheduled"}},
		{"notifications", NotificationsTotal, prometheus.Labels{"channel": "email", "type": "avviso", "outcome": "sent"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := counterValue(t, tc.cv, tc.labels)
			tc.cv.With(tc.labels).Inc()
			if after := counterValue(t, tc.cv, tc.labels); after-before < 1 {
				t.Errorf("counter did not increase (before=%.0f after=%.0f)", before, after)
			}
		})
	}
}

func TestMetrics_AuditRecordsDiscarded(t *testing.T) {
	before := plainCounterValue(t, AuditRecordsDiscardedTotal)
	AuditRecordsDiscardedTotal.Add(3)
	if after := plainCounterValue(t, AuditRecordsDiscardedTotal); after-before != 3 {
		t.Errorf("discarded counter grew by %.0f, want 3", after-before)
	}
}

func TestMetrics_QueueBatchSize_CanBeObserved(t *testing.T) {
	QueueBatchSize.WithLabelValues("circolare").Observe(10)
}

func TestMetrics_DBOpenConnections_CanBeSet(t *testing.T) {
	DBOpenConnections.Set(5)
	DBOpenConnections.Set(0)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func counterValue(t *testing.T, cv *prometheus.CounterVec, labels prometheus.Labels) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 50)
	cv.Collect(ch)
	close(ch)
	for m := range ch {
		var dm dto.Metric
		if err := m.Write(&dm); err != nil {
			continue
		}
		if labelsMatch(dm.GetLabel(), labels) {
			return dm.GetCounter().GetValue()
		}
	}
	return 0
}

func plainCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var dm dto.Metric
	if err := c.Write(&dm); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return dm.GetCounter().GetValue()
}

func labelsMatch(got []*dto.LabelPair, want prometheus.Labels) bool {
	for k, v := range want {
		found := false
		for _, lp := range got {
			if lp.GetName() == k && lp.GetValue() == v {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
