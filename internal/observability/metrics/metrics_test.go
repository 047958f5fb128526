package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"SonicPilot/internal/dispatch"
	xerrors "SonicPilot/internal/errors"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	return string(body)
}

func expectLines(t *testing.T, body string, lines ...string) {
	t.Helper()
	for _, want := range lines {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in metrics output:\n%s", want, body)
		}
	}
}

func TestObserveDispatchLabelsByCode(t *testing.T) {
	m := New()
	m.ObserveDispatch(dispatch.KindCreateToken, 20*time.Millisecond, nil)
	m.ObserveDispatch(dispatch.KindCreateToken, time.Second, xerrors.New(xerrors.CodeDispatchTransport, "down"))
	m.ObserveDispatch(dispatch.KindGetSwapQuote, time.Second, errors.New("plain"))

	expectLines(t, scrape(t, m),
		`sonicpilot_dispatch_calls_total{code="OK",kind="create_token"} 1`,
		`sonicpilot_dispatch_calls_total{code="DISPATCH_TRANSPORT",kind="create_token"} 1`,
		`sonicpilot_dispatch_calls_total{code="UNKNOWN",kind="get_swap_quote"} 1`,
		`sonicpilot_dispatch_duration_seconds_count{kind="create_token"} 2`,
	)
}

func TestHTTPMetricsExposed(t *testing.T) {
	m := New()
	m.ObserveHTTPRequest("/api/v1/wizards", "POST", 200, 30*time.Millisecond)
	m.ObserveHTTPRequest("/api/v1/wizards", "POST", 503, 30*time.Millisecond)
	m.ObserveTransition("launch", "prompt")
	m.ObserveSessionConflict()

	expectLines(t, scrape(t, m),
		`sonicpilot_http_requests_total{code="200",handler="/api/v1/wizards",method="POST"} 1`,
		`sonicpilot_http_request_errors_total{handler="/api/v1/wizards",method="POST"} 1`,
		`sonicpilot_wizard_transitions_total{flow="launch",result="prompt"} 1`,
		`sonicpilot_session_conflicts_total 1`,
	)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveHTTPRequest("h", "GET", 200, time.Millisecond)
	m.ObserveTransition("launch", "prompt")
	m.ObserveDispatch(dispatch.KindAIComplete, time.Millisecond, nil)
	m.ObserveSessionConflict()
}
