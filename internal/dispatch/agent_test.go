package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	xerrors "SonicPilot/internal/errors"
)

func newAgent(t *testing.T, handler http.HandlerFunc) *AgentClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewAgentClient(AgentConfig{URL: srv.URL + "/", Timeout: time.Second, HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("new agent client: %v", err)
	}
	return client
}

func TestAgentCreateTokenSuccess(t *testing.T) {
	var captured agentRequest
	client := newAgent(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/agent/action" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		_, _ = w.Write([]byte(`{"status":"success","result":{"contract_address":"0xabc","tx_hash":"0xdef","tokens_received":1000}}`))
	})

	res, err := client.Dispatch(context.Background(), Request{
		Kind:   KindCreateToken,
		Params: []string{"MyToken", "MYT", "0.1", "wallet-1"},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if captured.Connection != "sonic" || captured.Action != "create-token" {
		t.Fatalf("unexpected envelope: %+v", captured)
	}
	if len(captured.Params) != 4 || captured.Params[2] != "0.1" {
		t.Fatalf("params not forwarded: %v", captured.Params)
	}
	if res.Field("contract_address") != "0xabc" || res.Field("tokens_received") != "1000" {
		t.Fatalf("unexpected fields: %v", res.Fields)
	}
}

func TestAgentScalarResult(t *testing.T) {
	client := newAgent(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"success","result":"0xfeed"}`))
	})
	res, err := client.Dispatch(context.Background(), Request{Kind: KindExecuteSwap, Params: []string{"a", "b", "1", "0.5", "w"}})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Field("result") != "0xfeed" {
		t.Fatalf("unexpected fields: %v", res.Fields)
	}
}

func TestAgentFailureCodes(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		want    xerrors.Code
		message string
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `oops`, want: xerrors.CodeDispatchProtocol},
		{name: "detail on 400", status: http.StatusBadRequest, body: `{"detail":"insufficient funds"}`, want: xerrors.CodeDispatchSemantic, message: "insufficient funds"},
		{name: "bare 400", status: http.StatusBadRequest, body: `{}`, want: xerrors.CodeDispatchProtocol},
		{name: "not json", status: http.StatusOK, body: `<html>`, want: xerrors.CodeDispatchProtocol},
		{name: "error status", status: http.StatusOK, body: `{"status":"error","message":"nonce too low"}`, want: xerrors.CodeDispatchSemantic, message: "nonce too low"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newAgent(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			_, err := client.Dispatch(context.Background(), Request{Kind: KindExecuteSell, Params: []string{"0x1", "10", "9", "w"}})
			if xerrors.CodeOf(err) != tc.want {
				t.Fatalf("expected %s, got %v", tc.want, err)
			}
			if tc.message != "" {
				e, _ := xerrors.From(err)
				if e.Message() != tc.message {
					t.Fatalf("unexpected message: %q", e.Message())
				}
			}
		})
	}
}

func TestAgentTimeoutIsTransport(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client, _ := NewAgentClient(AgentConfig{URL: srv.URL, Timeout: 50 * time.Millisecond, HTTPClient: srv.Client()})
	_, err := client.Dispatch(context.Background(), Request{Kind: KindCreateToken})
	if xerrors.CodeOf(err) != xerrors.CodeDispatchTransport {
		t.Fatalf("expected transport failure, got %v", err)
	}
	if !xerrors.RetryableError(err) {
		t.Fatalf("timeouts must be retryable")
	}
	if xerrors.MetadataOf(err)["timeout"] != "true" {
		t.Fatalf("timeout metadata missing: %v", xerrors.MetadataOf(err))
	}
}

func TestAgentSellQuote(t *testing.T) {
	t.Run("nested json string", func(t *testing.T) {
		client := newAgent(t, func(w http.ResponseWriter, r *http.Request) {
			inner := `{"result":{"estimated_output":"0.95","min_output":"0.9405","price_impact":"0.3","fee":"0.005","market_cap":"12000"}}`
			encoded, _ := json.Marshal(map[string]any{"status": "success", "result": inner})
			_, _ = w.Write(encoded)
		})
		res, err := client.Dispatch(context.Background(), Request{Kind: KindGetSellQuote, Params: []string{"0x1", "250"}})
		if err != nil {
			t.Fatalf("dispatch: %v", err)
		}
		if res.Field("estimated_output") != "0.95" || res.Field("min_output") != "0.9405" {
			t.Fatalf("unexpected quote fields: %v", res.Fields)
		}
	})

	t.Run("error payload", func(t *testing.T) {
		client := newAgent(t, func(w http.ResponseWriter, r *http.Request) {
			encoded, _ := json.Marshal(map[string]any{"status": "success", "result": `{"error":true,"detail":"no liquidity"}`})
			_, _ = w.Write(encoded)
		})
		_, err := client.Dispatch(context.Background(), Request{Kind: KindGetSellQuote, Params: []string{"0x1", "250"}})
		if xerrors.CodeOf(err) != xerrors.CodeDispatchSemantic {
			t.Fatalf("expected semantic failure, got %v", err)
		}
	})

	t.Run("missing estimate", func(t *testing.T) {
		client := newAgent(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"status":"success","result":{"result":{}}}`))
		})
		_, err := client.Dispatch(context.Background(), Request{Kind: KindGetSellQuote})
		if xerrors.CodeOf(err) != xerrors.CodeDispatchProtocol {
			t.Fatalf("expected protocol failure, got %v", err)
		}
	})
}

func TestAgentRejectsForeignKinds(t *testing.T) {
	client, _ := NewAgentClient(AgentConfig{URL: "http://127.0.0.1:1"})
	if _, err := client.Dispatch(context.Background(), Request{Kind: KindAIComplete}); xerrors.CodeOf(err) != xerrors.CodeDispatchProtocol {
		t.Fatalf("expected protocol error, got %v", err)
	}
	if _, err := NewAgentClient(AgentConfig{}); err == nil {
		t.Fatalf("expected error for empty url")
	}
}
