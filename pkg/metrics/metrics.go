package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// Registry collects per-route request stats, access decisions and
// mutation outcomes for the allocations service.
type Registry struct {
	mu        sync.RWMutex
	endpoint  map[string]*EndpointStat
	decisions map[string]int64
	mutations map[string]int64
	gauges    map[string]float64
	Latency   *HistogramRegistry
}

type EndpointStat struct {
	Count          int64   `json:"count"`
	ErrorCount     int64   `json:"error_count"`
	TotalMillis    int64   `json:"total_millis"`
	MaxMillis      int64   `json:"max_millis"`
	AverageMillis  float64 `json:"average_millis"`
	LastStatusCode int     `json:"last_status_code"`
}

// DecisionKey identifies one access decision counter.
type DecisionKey struct {
	Action  string `json:"action"`
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

type DecisionCount struct {
	DecisionKey
	Count int64 `json:"count"`
}

type Snapshot struct {
	GeneratedAt string                  `json:"generated_at"`
	Endpoints   map[string]EndpointStat `json:"endpoints"`
	Decisions   []DecisionCount         `json:"decisions"`
	Mutations   map[string]int64        `json:"mutations"`
	Gauges      map[string]float64      `json:"gauges"`
	Latency     []HistogramSnapshot     `json:"latency,omitempty"`
}

func NewRegistry() *Registry {
	return &Registry{
		endpoint:  map[string]*EndpointStat{},
		decisions: map[string]int64{},
		mutations: map[string]int64{},
		gauges:    map[string]float64{},
		Latency:   NewHistogramRegistry(),
	}
}

// Observe records one finished request against its route pattern.
func (r *Registry) Observe(route string, status int, d time.Duration) {
	r.Latency.ObserveDuration(route, d)
	millis := d.Milliseconds()
	r.mu.Lock()
	defer r.mu.Unlock()
	stat, ok := r.endpoint[route]
	if !ok {
		stat = &EndpointStat{}
		r.endpoint[route] = stat
	}
	stat.Count++
	if status >= 400 {
		stat.ErrorCount++
	}
	stat.TotalMillis += millis
	if millis > stat.MaxMillis {
		stat.MaxMillis = millis
	}
	stat.LastStatusCode = status
	stat.AverageMillis = float64(stat.TotalMillis) / float64(stat.Count)
}

func decisionKey(action string, allowed bool, reason string) string {
	verdict := "deny"
	if allowed {
		verdict = "allow"
	}
	return action + "|" + verdict + "|" + reason
}

// ObserveDecision counts an access policy decision by action and reason.
func (r *Registry) ObserveDecision(action string, allowed bool, reason string) {
	action = strings.TrimSpace(action)
	if action == "" {
		return
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "UNKNOWN"
	}
	r.mu.Lock()
	r.decisions[decisionKey(action, allowed, reason)]++
	r.mu.Unlock()
}

// IncMutation counts a mutation outcome such as "update|ok" or "create|validation".
func (r *Registry) IncMutation(op, outcome string) {
	if op == "" || outcome == "" {
		return
	}
	r.mu.Lock()
	r.mutations[op+"|"+outcome]++
	r.mu.Unlock()
}

func (r *Registry) SetGauge(name string, value float64) {
	if name == "" {
		return
	}
	r.mu.Lock()
	r.gauges[name] = value
	r.mu.Unlock()
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := Snapshot{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Endpoints:   make(map[string]EndpointStat, len(r.endpoint)),
		Decisions:   make([]DecisionCount, 0, len(r.decisions)),
		Mutations:   make(map[string]int64, len(r.mutations)),
		Gauges:      make(map[string]float64, len(r.gauges)),
	}
	for k, v := range r.endpoint {
		out.Endpoints[k] = *v
	}
	for _, k := range SortedKeys(r.decisions) {
		parts := strings.SplitN(k, "|", 3)
		out.Decisions = append(out.Decisions, DecisionCount{
			DecisionKey: DecisionKey{Action: parts[0], Allowed: parts[1] == "allow", Reason: parts[2]},
			Count:       r.decisions[k],
		})
	}
	for k, v := range r.mutations {
		out.Mutations[k] = v
	}
	for k, v := range r.gauges {
		out.Gauges[k] = v
	}
	out.Latency = r.Latency.Snapshots()
	return out
}

// Handler serves the JSON snapshot, or Prometheus text when ?format=prometheus.
func (r *Registry) Handler() http.HandlerFunc {
	prom := r.PrometheusHandler()
	return func(w http.ResponseWriter, req *http.Request) {
		if strings.EqualFold(req.URL.Query().Get("format"), "prometheus") {
			prom(w, req)
			return
		}
		snap := r.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(snap)
	}
}

func (r *Registry) PrometheusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		b := &strings.Builder{}
		b.WriteString("# HELP allocations_http_requests_total total requests by route\n")
		b.WriteString("# TYPE allocations_http_requests_total counter\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			fmt.Fprintf(b, "allocations_http_requests_total{route=%q} %d\n", ep, snap.Endpoints[ep].Count)
		}
		b.WriteString("# HELP allocations_http_errors_total requests answered with status >= 400\n")
		b.WriteString("# TYPE allocations_http_errors_total counter\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			fmt.Fprintf(b, "allocations_http_errors_total{route=%q} %d\n", ep, snap.Endpoints[ep].ErrorCount)
		}
		b.WriteString("# HELP allocations_http_max_millis slowest request per route in milliseconds\n")
		b.WriteString("# TYPE allocations_http_max_millis gauge\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			fmt.Fprintf(b, "allocations_http_max_millis{route=%q} %d\n", ep, snap.Endpoints[ep].MaxMillis)
		}
		b.WriteString("# HELP allocations_access_decisions_total access policy decisions\n")
		b.WriteString("# TYPE allocations_access_decisions_total counter\n")
		for _, d := range snap.Decisions {
			fmt.Fprintf(b, "allocations_access_decisions_total{action=%q,allowed=\"%t\",reason=%q} %d\n", d.Action, d.Allowed, d.Reason, d.Count)
		}
		b.WriteString("# HELP allocations_mutations_total mutation outcomes by operation\n")
		b.WriteString("# TYPE allocations_mutations_total counter\n")
		for _, key := range SortedKeys(snap.Mutations) {
			op, outcome, _ := strings.Cut(key, "|")
			fmt.Fprintf(b, "allocations_mutations_total{op=%q,outcome=%q} %d\n", op, outcome, snap.Mutations[key])
		}
		b.WriteString("# HELP allocations_gauge operational gauges\n")
		b.WriteString("# TYPE allocations_gauge gauge\n")
		for _, name := range SortedKeys(snap.Gauges) {
			fmt.Fprintf(b, "allocations_gauge{name=%q} %.3f\n", name, snap.Gauges[name])
		}
		if len(snap.Latency) > 0 {
			b.WriteString("# HELP allocations_http_latency_seconds request latency by route\n")
			b.WriteString("# TYPE allocations_http_latency_seconds histogram\n")
		}
		for _, h := range snap.Latency {
			for _, bucket := range h.Buckets {
				fmt.Fprintf(b, "allocations_http_latency_seconds_bucket{route=%q,le=\"%.3f\"} %d\n", h.Name, bucket.Le, bucket.Count)
			}
			fmt.Fprintf(b, "allocations_http_latency_seconds_bucket{route=%q,le=\"+Inf\"} %d\n", h.Name, h.Count)
			fmt.Fprintf(b, "allocations_http_latency_seconds_sum{route=%q} %.6f\n", h.Name, h.Sum)
			fmt.Fprintf(b, "allocations_http_latency_seconds_count{route=%q} %d\n", h.Name, h.Count)
		}
		_, _ = w.Write([]byte(b.String()))
	}
}

func SortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
