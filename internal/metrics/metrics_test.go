package metrics

import (
	"strings"
	"testing"
)

func TestRecordRequestAndExport(t *testing.T) {
	// Record a single request and ensure it appears in the export.
	RecordRequest("GET", "/v1/crawl", 200, 42)

	out := Export()
	if !strings.Contains(out, "doccrawl_http_requests_total{method=\"GET\",path=\"/v1/crawl\",status=\"200\"}") {
		t.Fatalf("expected HTTP request metric for GET /v1/crawl in export, got:\n%s", out)
	}
	if !strings.Contains(out, "doccrawl_http_request_duration_ms_sum") || !strings.Contains(out, "doccrawl_http_request_duration_ms_count") {
		t.Fatalf("expected latency metrics headers in export, got:\n%s", out)
	}
}

func TestRecordCrawlMetrics(t *testing.T) {
	RecordPage("done")
	RecordPage("done")
	RecordPage("failed")
	RecordSession("aborted")

	out := Export()
	if !strings.Contains(out, "doccrawl_crawl_pages_total{status=\"done\"}") {
		t.Fatalf("expected done page counter, got:\n%s", out)
	}
	if !strings.Contains(out, "doccrawl_crawl_pages_total{status=\"failed\"}") {
		t.Fatalf("expected failed page counter, got:\n%s", out)
	}
	if !strings.Contains(out, "doccrawl_crawl_sessions_total{state=\"aborted\"}") {
		t.Fatalf("expected aborted session counter, got:\n%s", out)
	}
}

func TestRecordLLMAndRetentionMetrics(t *testing.T) {
	RecordLLMExtract("openai", "gpt-test", true)
	RecordLLMExtract("openai", "gpt-test", false)
	RecordRetentionSessions(0)

	out := Export()
	if !strings.Contains(out, "doccrawl_llm_extract_requests_total{provider=\"openai\",model=\"gpt-test\",success=\"true\"}") {
		t.Fatalf("expected successful extract counter, got:\n%s", out)
	}
	if !strings.Contains(out, "doccrawl_llm_extract_requests_total{provider=\"openai\",model=\"gpt-test\",success=\"false\"}") {
		t.Fatalf("expected fallback extract counter, got:\n%s", out)
	}
	if !strings.Contains(out, "doccrawl_retention_sessions_deleted_total") {
		t.Fatalf("expected retention counter, got:\n%s", out)
	}
}
