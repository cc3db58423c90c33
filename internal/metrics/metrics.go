// Package metrics exports Prometheus metrics about agent runs. A Collector
// subscribes to an engine's event bus; it never calls into the engine.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pi-agent/pi/internal/event"
	"github.com/pi-agent/pi/pkg/types"
)

// Collector turns agent events into metrics.
type Collector struct {
	registry *prometheus.Registry

	runs          prometheus.Counter
	turns         prometheus.Counter
	streaming     prometheus.Gauge
	modelCalls    *prometheus.CounterVec
	tokens        *prometheus.CounterVec
	cost          prometheus.Counter
	toolCalls     *prometheus.CounterVec
	toolDuration  *prometheus.HistogramVec
	compactions   *prometheus.CounterVec
	retries       prometheus.Counter
	queued        *prometheus.GaugeVec
	httpRequests  *prometheus.CounterVec
	httpDurations *prometheus.HistogramVec

	mu         sync.Mutex
	toolStarts map[string]time.Time
	now        func() time.Time
}

// New creates a collector with its own registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pi_agent_runs_total",
			Help: "Total number of agent runs",
		}),
		turns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pi_agent_turns_total",
			Help: "Total number of turns (model calls with their tool executions)",
		}),
		streaming: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pi_agent_streaming",
			Help: "1 while a run is in progress",
		}),
		modelCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pi_model_calls_total",
			Help: "Total number of model calls by stop reason",
		}, []string{"stop_reason"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pi_model_tokens_total",
			Help: "Tokens reported by model calls",
		}, []string{"kind"}),
		cost: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pi_model_cost_dollars_total",
			Help: "Cost reported by model calls",
		}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pi_tool_calls_total",
			Help: "Total number of tool calls",
		}, []string{"tool", "status"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pi_tool_call_duration_seconds",
			Help:    "Tool call duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
		compactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pi_compactions_total",
			Help: "Total number of compactions",
		}, []string{"trigger", "outcome"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pi_model_retries_total",
			Help: "Total number of retried model calls",
		}),
		queued: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pi_queued_messages",
			Help: "Messages waiting in the steering and follow-up queues",
		}, []string{"queue"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pi_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		httpDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pi_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		toolStarts: make(map[string]time.Time),
		now:        time.Now,
	}
	c.registry.MustRegister(
		c.runs, c.turns, c.streaming, c.modelCalls, c.tokens, c.cost,
		c.toolCalls, c.toolDuration, c.compactions, c.retries, c.queued,
		c.httpRequests, c.httpDurations,
	)
	return c
}

// Registry returns the registry holding the collector's metrics.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the metrics in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Attach subscribes the collector to bus and returns the unsubscribe
// function.
func (c *Collector) Attach(bus *event.Bus) func() {
	return bus.SubscribeAll(c.Observe)
}

// Observe records one event.
func (c *Collector) Observe(ev event.Event) {
	switch ev.Type {
	case event.AgentStart:
		c.runs.Inc()
		c.streaming.Set(1)
	case event.AgentEnd:
		c.streaming.Set(0)
	case event.TurnStart:
		c.turns.Inc()
	case event.MessageEnd:
		data, ok := ev.Data.(event.MessageData)
		if !ok {
			return
		}
		if msg, ok := data.Message.(*types.AssistantMessage); ok {
			c.observeAssistant(msg)
		}
	case event.ToolExecutionStart:
		if data, ok := ev.Data.(event.ToolExecutionStartData); ok {
			c.mu.Lock()
			c.toolStarts[data.ToolCallID] = c.now()
			c.mu.Unlock()
		}
	case event.ToolExecutionEnd:
		if data, ok := ev.Data.(event.ToolExecutionEndData); ok {
			c.observeToolEnd(data)
		}
	case event.AutoCompactionEnd:
		if data, ok := ev.Data.(event.AutoCompactionEndData); ok {
			c.compactions.WithLabelValues("auto", compactionOutcome(data)).Inc()
		}
	case event.AutoRetry:
		c.retries.Inc()
	case event.QueueUpdate:
		if data, ok := ev.Data.(event.QueueUpdateData); ok {
			c.queued.WithLabelValues("steering").Set(float64(len(data.Steering)))
			c.queued.WithLabelValues("follow_up").Set(float64(len(data.FollowUp)))
		}
	}
}

// ObserveManualCompaction counts a compaction requested by a user.
func (c *Collector) ObserveManualCompaction(err error) {
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	c.compactions.WithLabelValues("manual", outcome).Inc()
}

func (c *Collector) observeAssistant(msg *types.AssistantMessage) {
	c.modelCalls.WithLabelValues(string(msg.StopReason)).Inc()
	u := msg.Usage
	c.tokens.WithLabelValues("input").Add(float64(u.Input))
	c.tokens.WithLabelValues("output").Add(float64(u.Output))
	c.tokens.WithLabelValues("cache_read").Add(float64(u.CacheRead))
	c.tokens.WithLabelValues("cache_write").Add(float64(u.CacheWrite))
	if u.Cost != nil && u.Cost.Total > 0 {
		c.cost.Add(u.Cost.Total)
	}
}

func (c *Collector) observeToolEnd(data event.ToolExecutionEndData) {
	status := "ok"
	if data.IsError {
		status = "error"
	}
	c.toolCalls.WithLabelValues(data.ToolName, status).Inc()

	c.mu.Lock()
	start, ok := c.toolStarts[data.ToolCallID]
	delete(c.toolStarts, data.ToolCallID)
	c.mu.Unlock()
	if ok {
		c.toolDuration.WithLabelValues(data.ToolName).Observe(c.now().Sub(start).Seconds())
	}
}

func compactionOutcome(d event.AutoCompactionEndData) string {
	switch {
	case d.Aborted:
		return "cancelled"
	case d.Error != "":
		return "failed"
	}
	return "ok"
}

// ObserveHTTP records one served HTTP request.
func (c *Collector) ObserveHTTP(method, route string, status int, d time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpDurations.WithLabelValues(method, route).Observe(d.Seconds())
}
