package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestMetricsServer(t *testing.T) {
	srv, err := Start("127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("failed to start metrics server: %v", err)
	}
	defer srv.Stop(context.Background())

	RecordFetch("example.com", 200, "", time.Second, 11)
	RecordFetch("example.com", 0, "", 10*time.Millisecond, 0)
	RecordCompletion("openai", 2*time.Second, nil)
	RecordSearch("googlenews", errors.New("boom"))

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("failed to fetch metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	output := string(body)

	for _, want := range []string{
		`newsbrief_fetch_requests_total{detection_src="",domain="example.com",status="200"} 1`,
		`newsbrief_fetch_requests_total{detection_src="",domain="example.com",status="error"} 1`,
		`newsbrief_fetch_bytes_total{domain="example.com"} 11`,
		`newsbrief_fetch_duration_seconds_bucket`,
		`newsbrief_llm_requests_total{outcome="ok",provider="openai"} 1`,
		`newsbrief_search_requests_total{outcome="error",provider="googlenews"} 1`,
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected metrics output to contain %s", want)
		}
	}
}

func TestStart_BadAddr(t *testing.T) {
	if _, err := Start("256.0.0.1:bad", nil); err == nil {
		t.Fatal("expected listen error")
	}
}

func TestStop_Nil(t *testing.T) {
	var s *Server
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
