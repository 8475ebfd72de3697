package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// counterValue sums every sample of family name whose labels include want.
func counterValue(t *testing.T, name string, want map[string]string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metric:
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue metric
				}
			}
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestObserveOutcome(t *testing.T) {
	labels := map[string]string{"path": PathTrack, "outcome": "match"}
	before := counterValue(t, "acousticlink_recognitions_total", labels)

	ObserveOutcome(PathTrack, "match", 3*time.Second)
	ObserveOutcome(PathTrack, "match", time.Second)

	if got := counterValue(t, "acousticlink_recognitions_total", labels) - before; got != 2 {
		t.Fatalf("recognitions delta = %v, want 2", got)
	}
}

func TestCountEventAndCommand(t *testing.T) {
	ev := map[string]string{"event": "cacheStatus", "disposition": EventStale}
	cmd := map[string]string{"event": "processURL", "command": "download"}
	evBefore := counterValue(t, "acousticlink_channel_events_total", ev)
	cmdBefore := counterValue(t, "acousticlink_commands_sent_total", cmd)

	CountEvent("cacheStatus", EventStale)
	CountCommand("processURL", "download")

	if got := counterValue(t, "acousticlink_channel_events_total", ev) - evBefore; got != 1 {
		t.Errorf("events delta = %v, want 1", got)
	}
	if got := counterValue(t, "acousticlink_commands_sent_total", cmd) - cmdBefore; got != 1 {
		t.Errorf("commands delta = %v, want 1", got)
	}
}
