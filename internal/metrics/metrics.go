package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Simple Prometheus-style metrics for HTTP requests, crawl pages and LLM
// extraction. In-memory only.

var (
	mu             sync.RWMutex
	requestsTotal  = make(map[reqKey]int64)
	latencyMsSum   = make(map[latKey]int64)
	latencyMsCount = make(map[latKey]int64)
	llmExtracts    = make(map[llmKey]int64)

	pagesTotal    = make(map[string]int64)
	sessionsTotal = make(map[string]int64)

	retentionSessionsDeleted int64
)

type reqKey struct {
	Method string
	Path   string
	Status int
}

type latKey struct {
	Method string
	Path   string
}

type llmKey struct {
	Provider string
	Model    string
	Success  string
}

// RecordRequest increments request counter and records latency.
func RecordRequest(method, path string, status int, latencyMs int64) {
	mu.Lock()
	defer mu.Unlock()

	rk := reqKey{Method: method, Path: path, Status: status}
	requestsTotal[rk]++

	lk := latKey{Method: method, Path: path}
	latencyMsSum[lk] += latencyMs
	latencyMsCount[lk]++
}

// RecordLLMExtract counts one extraction call. success is false when the
// page fell back to truncated raw content.
func RecordLLMExtract(provider, model string, success bool) {
	mu.Lock()
	defer mu.Unlock()

	s := "false"
	if success {
		s = "true"
	}
	key := llmKey{Provider: provider, Model: model, Success: s}
	llmExtracts[key]++
}

// RecordPage counts a page reaching a terminal status (done or failed).
func RecordPage(status string) {
	mu.Lock()
	defer mu.Unlock()
	pagesTotal[status]++
}

// RecordSession counts a crawl session reaching a final state.
func RecordSession(state string) {
	mu.Lock()
	defer mu.Unlock()
	sessionsTotal[state]++
}

// RecordRetentionSessions increments the counter of stored crawl sessions
// deleted by TTL cleanup.
func RecordRetentionSessions(deleted int64) {
	if deleted <= 0 {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	retentionSessionsDeleted += deleted
}

// Export returns Prometheus-style metrics text.
func Export() string {
	mu.RLock()
	defer mu.RUnlock()

	var b strings.Builder

	b.WriteString("# HELP doccrawl_http_requests_total Total HTTP requests\n")
	b.WriteString("# TYPE doccrawl_http_requests_total counter\n")

	// Sort keys for stable output
	var reqKeys []reqKey
	for k := range requestsTotal {
		reqKeys = append(reqKeys, k)
	}
	sort.Slice(reqKeys, func(i, j int) bool {
		if reqKeys[i].Method != reqKeys[j].Method {
			return reqKeys[i].Method < reqKeys[j].Method
		}
		if reqKeys[i].Path != reqKeys[j].Path {
			return reqKeys[i].Path < reqKeys[j].Path
		}
		return reqKeys[i].Status < reqKeys[j].Status
	})

	for _, k := range reqKeys {
		fmt.Fprintf(&b, "doccrawl_http_requests_total{method=\"%s\",path=\"%s\",status=\"%d\"} %d\n",
			k.Method, k.Path, k.Status, requestsTotal[k])
	}

	b.WriteString("# HELP doccrawl_http_request_duration_ms_sum Total request duration in milliseconds\n")
	b.WriteString("# TYPE doccrawl_http_request_duration_ms_sum counter\n")
	b.WriteString("# HELP doccrawl_http_request_duration_ms_count Request count for latency metric\n")
	b.WriteString("# TYPE doccrawl_http_request_duration_ms_count counter\n")

	var latKeys []latKey
	for k := range latencyMsSum {
		latKeys = append(latKeys, k)
	}
	sort.Slice(latKeys, func(i, j int) bool {
		if latKeys[i].Method != latKeys[j].Method {
			return latKeys[i].Method < latKeys[j].Method
		}
		return latKeys[i].Path < latKeys[j].Path
	})

	for _, k := range latKeys {
		fmt.Fprintf(&b, "doccrawl_http_request_duration_ms_sum{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, latencyMsSum[k])
		fmt.Fprintf(&b, "doccrawl_http_request_duration_ms_count{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, latencyMsCount[k])
	}

	b.WriteString("# HELP doccrawl_crawl_pages_total Crawl pages by terminal status\n")
	b.WriteString("# TYPE doccrawl_crawl_pages_total counter\n")
	writeStringCounter(&b, "doccrawl_crawl_pages_total", "status", pagesTotal)

	b.WriteString("# HELP doccrawl_crawl_sessions_total Crawl sessions by final state\n")
	b.WriteString("# TYPE doccrawl_crawl_sessions_total counter\n")
	writeStringCounter(&b, "doccrawl_crawl_sessions_total", "state", sessionsTotal)

	b.WriteString("# HELP doccrawl_llm_extract_requests_total Total LLM extract requests\n")
	b.WriteString("# TYPE doccrawl_llm_extract_requests_total counter\n")

	var llmKeys []llmKey
	for k := range llmExtracts {
		llmKeys = append(llmKeys, k)
	}
	sort.Slice(llmKeys, func(i, j int) bool {
		if llmKeys[i].Provider != llmKeys[j].Provider {
			return llmKeys[i].Provider < llmKeys[j].Provider
		}
		if llmKeys[i].Model != llmKeys[j].Model {
			return llmKeys[i].Model < llmKeys[j].Model
		}
		return llmKeys[i].Success < llmKeys[j].Success
	})

	for _, k := range llmKeys {
		fmt.Fprintf(&b, "doccrawl_llm_extract_requests_total{provider=\"%s\",model=\"%s\",success=\"%s\"} %d\n",
			k.Provider, k.Model, k.Success, llmExtracts[k])
	}

	b.WriteString("# HELP doccrawl_retention_sessions_deleted_total Total crawl sessions deleted by TTL\n")
	b.WriteString("# TYPE doccrawl_retention_sessions_deleted_total counter\n")
	fmt.Fprintf(&b, "doccrawl_retention_sessions_deleted_total %d\n", retentionSessionsDeleted)

	return b.String()
}

func writeStringCounter(b *strings.Builder, name, label string, values map[string]int64) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, "%s{%s=\"%s\"} %d\n", name, label, k, values[k])
	}
}
