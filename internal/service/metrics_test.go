package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/hugo-lorenzo-mato/nodeflow/internal/events"
	"github.com/hugo-lorenzo-mato/nodeflow/internal/service"
	"github.com/hugo-lorenzo-mato/nodeflow/internal/testutil"
)

func TestMetricsCollector_Runs(t *testing.T) {
	collector := service.NewMetricsCollector()

	collector.RecordRunStarted()
	collector.RecordRunStarted()
	collector.RecordRunCompleted("success", time.Second)

	runs := collector.Snapshot().Runs
	testutil.AssertEqual(t, runs.Started, 2)
	testutil.AssertEqual(t, runs.Active, 1)
	testutil.AssertEqual(t, runs.Succeeded, 1)
	testutil.AssertEqual(t, runs.TotalDuration, time.Second)
	testutil.AssertTrue(t, !runs.LastRunAt.IsZero(), "last run time should be set")

	collector.RecordRunCompleted("partial", 0)
	collector.RecordRunCompleted("failed", 0)
	collector.RecordRunCompleted("failed", 0)

	runs = collector.Snapshot().Runs
	testutil.AssertEqual(t, runs.Partial, 1)
	testutil.AssertEqual(t, runs.Failed, 2)
	testutil.AssertEqual(t, runs.Active, 0)
}

func TestMetricsCollector_NodeKinds(t *testing.T) {
	collector := service.NewMetricsCollector()

	collector.RecordNode("llm", "running", 0, 0)
	collector.RecordNode("llm", "success", 100*time.Millisecond, 2)
	collector.RecordNode("llm", "failed", 300*time.Millisecond, 0)
	collector.RecordNode("crop", "skipped", 0, 0)

	nodes := collector.Snapshot().Nodes
	testutil.AssertLen(t, nodes, 2)
	testutil.AssertEqual(t, nodes[0].Kind, "crop")
	testutil.AssertEqual(t, nodes[0].Skipped, 1)
	testutil.AssertEqual(t, nodes[0].Executions, 0)

	llm := nodes[1]
	testutil.AssertEqual(t, llm.Executions, 2)
	testutil.AssertEqual(t, llm.Succeeded, 1)
	testutil.AssertEqual(t, llm.Failed, 1)
	testutil.AssertEqual(t, llm.Retries, 2)
	testutil.AssertEqual(t, llm.AvgDuration, 200*time.Millisecond)
	testutil.AssertEqual(t, llm.MaxDuration, 300*time.Millisecond)
}

func TestMetricsCollector_TrackEvents(t *testing.T) {
	bus := events.New(10)
	defer bus.Close()

	collector := service.NewMetricsCollector()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	collector.TrackEvents(ctx, bus)

	bus.Publish(events.NewRunStartedEvent("r1", "full", 1))
	done := events.NewNodeStatusEvent("r1", "a", "text", "success")
	done.Duration = 5
	bus.Publish(done)
	bus.PublishPriority(events.NewRunCompletedEvent("r1", "success", 10*time.Millisecond))

	deadline := time.Now().Add(time.Second)
	for collector.Snapshot().Runs.Succeeded == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	m := collector.Snapshot()
	testutil.AssertEqual(t, m.Runs.Started, 1)
	testutil.AssertEqual(t, m.Runs.Succeeded, 1)
	testutil.AssertLen(t, m.Nodes, 1)
	testutil.AssertEqual(t, m.Nodes[0].AvgDuration, 5*time.Millisecond)
	testutil.AssertEqual(t, m.EventsDropped, int64(0))
}

func TestMetricsCollector_Reset(t *testing.T) {
	collector := service.NewMetricsCollector()
	collector.RecordRunStarted()
	collector.RecordNode("text", "success", time.Millisecond, 0)

	collector.Reset()

	m := collector.Snapshot()
	testutil.AssertEqual(t, m.Runs.Started, 0)
	testutil.AssertLen(t, m.Nodes, 0)
}
