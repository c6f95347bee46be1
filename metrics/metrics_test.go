package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegister_Idempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second Register: %v", err)
	}
}

func TestCollectors_Gathered(t *testing.T) {
	reg := prometheus.NewRegistry()
	MustRegister(reg)

	FallbacksTotal.WithLabelValues("characters").Inc()
	LLMRequestsTotal.WithLabelValues("groq", "llama3-70b-8192", "ok").Inc()

	n, err := testutil.GatherAndCount(reg, "bookshelf_fallbacks_total", "bookshelf_llm_requests_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if n < 2 {
		t.Errorf("expected at least 2 series, got %d", n)
	}

	if v := testutil.ToFloat64(FallbacksTotal.WithLabelValues("characters")); v < 1 {
		t.Errorf("expected fallbacks_total >= 1, got %f", v)
	}
}

func TestHandler_ServesMetrics(t *testing.T) {
	reg, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	SectionsWrittenTotal.Inc()

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	for _, name := range []string{"bookshelf_sections_written_total", "go_goroutines"} {
		if !strings.Contains(string(body), name) {
			t.Errorf("missing %s", name)
		}
	}
}
