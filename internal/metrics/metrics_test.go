package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pi-agent/pi/internal/event"
	"github.com/pi-agent/pi/pkg/types"
)

func TestCollectorObservesRun(t *testing.T) {
	c := New()
	bus := event.NewBus()
	t.Cleanup(func() { _ = bus.Close() })
	unsubscribe := c.Attach(bus)
	defer unsubscribe()

	clock := time.Unix(100, 0)
	c.now = func() time.Time { return clock }

	bus.Publish(event.Event{Type: event.AgentStart})
	assert.Equal(t, 1.0, testutil.ToFloat64(c.streaming))

	bus.Publish(event.Event{Type: event.TurnStart})
	bus.Publish(event.Event{Type: event.MessageEnd, Data: event.MessageData{Message: &types.AssistantMessage{
		StopReason: types.StopReasonToolUse,
		Usage:      types.Usage{Input: 100, Output: 20, CacheRead: 5, Cost: &types.Cost{Total: 0.25}},
	}}})
	bus.Publish(event.Event{Type: event.ToolExecutionStart, Data: event.ToolExecutionStartData{ToolCallID: "c1", ToolName: "bash"}})
	clock = clock.Add(2 * time.Second)
	bus.Publish(event.Event{Type: event.ToolExecutionEnd, Data: event.ToolExecutionEndData{ToolCallID: "c1", ToolName: "bash", IsError: true}})
	bus.Publish(event.Event{Type: event.AutoRetry, Data: event.AutoRetryData{Attempt: 1}})
	bus.Publish(event.Event{Type: event.QueueUpdate, Data: event.QueueUpdateData{Steering: []string{"a", "b"}, FollowUp: []string{}}})
	bus.Publish(event.Event{Type: event.AgentEnd})
	bus.Publish(event.Event{Type: event.AutoCompactionEnd, Data: event.AutoCompactionEndData{Aborted: true}})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.runs))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.turns))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.streaming))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.modelCalls.WithLabelValues("toolUse")))
	assert.Equal(t, 100.0, testutil.ToFloat64(c.tokens.WithLabelValues("input")))
	assert.Equal(t, 5.0, testutil.ToFloat64(c.tokens.WithLabelValues("cache_read")))
	assert.Equal(t, 0.25, testutil.ToFloat64(c.cost))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.toolCalls.WithLabelValues("bash", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.retries))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.queued.WithLabelValues("steering")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.compactions.WithLabelValues("auto", "cancelled")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.toolDuration))
}

func TestManualCompactionAndHTTP(t *testing.T) {
	c := New()
	c.ObserveManualCompaction(nil)
	c.ObserveManualCompaction(errors.New("Compaction cancelled"))
	c.ObserveHTTP(http.MethodPost, "/session/prompt", http.StatusConflict, 10*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.compactions.WithLabelValues("manual", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.compactions.WithLabelValues("manual", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequests.WithLabelValues("POST", "/session/prompt", "409")))
}

func TestHandlerServesText(t *testing.T) {
	c := New()
	c.Observe(event.Event{Type: event.AgentStart})

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "pi_agent_runs_total 1"))
}
