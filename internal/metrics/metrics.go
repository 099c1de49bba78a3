// Package metrics exposes gateway decision counters in Prometheus text
// format without pulling in client_golang.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Counter is a monotonically increasing counter.
type Counter struct {
	name  string
	help  string
	value atomic.Int64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() { c.value.Add(1) }

// Add increments the counter by n.
func (c *Counter) Add(n int64) { c.value.Add(n) }

// Value returns the current counter value.
func (c *Counter) Value() int64 { return c.value.Load() }

// Registry holds all registered counters and renders them on /metrics.
type Registry struct {
	mu        sync.Mutex
	counters  []*Counter
	startTime time.Time
}

var defaultRegistry = &Registry{startTime: time.Now()}

// Default returns the process-wide registry.
func Default() *Registry { return defaultRegistry }

// NewCounter registers a counter in the default registry.
func NewCounter(name, help string) *Counter {
	c := &Counter{name: name, help: help}
	defaultRegistry.mu.Lock()
	defaultRegistry.counters = append(defaultRegistry.counters, c)
	defaultRegistry.mu.Unlock()
	return c
}

// Gateway decision counters.
var (
	CommandsExecuted    = NewCounter("gateway_commands_executed_total", "Commands allowed and debited")
	CommandsRejected    = NewCounter("gateway_commands_rejected_total", "Commands blocked by a rule or the default policy")
	AuthFailures        = NewCounter("gateway_auth_failures_total", "Requests with a missing or unknown API key")
	InsufficientCredits = NewCounter("gateway_insufficient_credits_total", "Requests refused for an exhausted balance")
)

// Handler renders the registry in Prometheus text exposition format.
func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder
		fmt.Fprintf(&sb, "# HELP gateway_uptime_seconds Time since start in seconds\n")
		fmt.Fprintf(&sb, "# TYPE gateway_uptime_seconds gauge\n")
		fmt.Fprintf(&sb, "gateway_uptime_seconds %d\n\n", int64(time.Since(r.startTime).Seconds()))

		r.mu.Lock()
		counters := make([]*Counter, len(r.counters))
		copy(counters, r.counters)
		r.mu.Unlock()

		sort.Slice(counters, func(i, j int) bool { return counters[i].name < counters[j].name })
		for _, c := range counters {
			fmt.Fprintf(&sb, "# HELP %s %s\n", c.name, c.help)
			fmt.Fprintf(&sb, "# TYPE %s counter\n", c.name)
			fmt.Fprintf(&sb, "%s %d\n", c.name, c.Value())
		}

		w.Write([]byte(sb.String()))
	}
}
