package wizard

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"SonicPilot/internal/catalog"
	"SonicPilot/internal/dispatch"
	xerrors "SonicPilot/internal/errors"
	"SonicPilot/pkg/logger"
)

const testWallet = "0x00000000000000000000000000000000000000aa"

type stubDispatcher struct {
	mu       sync.Mutex
	requests []dispatch.Request
	handle   func(ctx context.Context, req dispatch.Request) (*dispatch.Result, error)
}

func (s *stubDispatcher) Dispatch(ctx context.Context, req dispatch.Request) (*dispatch.Result, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	handle := s.handle
	s.mu.Unlock()
	if handle == nil {
		return &dispatch.Result{Kind: req.Kind, Fields: map[string]string{}}, nil
	}
	return handle(ctx, req)
}

func (s *stubDispatcher) last() dispatch.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		return dispatch.Request{}
	}
	return s.requests[len(s.requests)-1]
}

func newTestEngine(t *testing.T, d dispatch.Dispatcher, opts ...Option) *Engine {
	t.Helper()
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	base := []Option{WithClock(func() time.Time { return fixed }), WithLogger(logger.Discard())}
	engine, err := NewEngine(d, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}
	return engine
}

type driver struct {
	t      *testing.T
	engine *Engine
	flow   FlowID
	env    Env
	sess   *Session
}

// step 推进一次，并按引擎约定处理会话。
func (d *driver) step(action string, payload map[string]string) Result {
	d.t.Helper()
	res, next := d.engine.Advance(context.Background(), d.flow, d.sess, d.env, action, payload)
	switch {
	case next == nil:
		d.sess = nil
	case res.Kind == ResultPrompt || res.Discarded:
		d.sess = next
	}
	return res
}

func (d *driver) expect(action string, payload map[string]string, kind ResultKind, stepID string) Result {
	d.t.Helper()
	res := d.step(action, payload)
	if res.Kind != kind {
		d.t.Fatalf("%s: expected %s, got %s (%s)", action, kind, res.Kind, res.Message)
	}
	if stepID != "" && res.StepID != stepID {
		d.t.Fatalf("%s: expected step %s, got %s", action, stepID, res.StepID)
	}
	return res
}

func launchToConfirm(d *driver) {
	d.t.Helper()
	d.expect("name_input", map[string]string{"token_name": "My Token"}, ResultPrompt, "symbol")
	res := d.expect("symbol_input", map[string]string{"token_symbol": "abc"}, ResultPrompt, "amount")
	if !strings.Contains(res.Content, "ABC") {
		d.t.Fatalf("amount prompt should mention ABC: %q", res.Content)
	}
	d.expect("amount_input", map[string]string{"amount": "0.1"}, ResultPrompt, "image")
	d.expect("upload_image", map[string]string{"image": "logo.png", "size_bytes": "1024"}, ResultPrompt, "details")
	res = d.expect("details_input", map[string]string{"website": "https://abc.example"}, ResultPrompt, "confirm")
	if !strings.Contains(res.Content, "My Token") || !strings.Contains(res.Content, "0.1 S") {
		d.t.Fatalf("confirm summary incomplete: %q", res.Content)
	}
}

func TestLaunchFlowCreatesToken(t *testing.T) {
	stub := &stubDispatcher{handle: func(_ context.Context, req dispatch.Request) (*dispatch.Result, error) {
		return &dispatch.Result{Kind: req.Kind, Fields: map[string]string{"contract_address": "0xfeed"}}, nil
	}}
	d := &driver{t: t, engine: newTestEngine(t, stub), flow: FlowLaunch, env: Env{UserName: "Ada", WalletID: testWallet}}

	if cur := d.engine.Current(FlowLaunch, nil, d.env); !strings.Contains(cur.Content, "Hi Ada") || len(cur.Choices) != 2 {
		t.Fatalf("unexpected start prompt: %+v", cur)
	}

	launchToConfirm(d)
	res := d.expect("create_token", map[string]string{"confirmation": "yes"}, ResultSuccess, "create")

	if d.sess != nil {
		t.Fatalf("session should be cleared after success")
	}
	req := stub.last()
	if req.Kind != dispatch.KindCreateToken {
		t.Fatalf("unexpected dispatch kind: %s", req.Kind)
	}
	want := []string{"My Token", "ABC", "0.1", testWallet}
	if strings.Join(req.Params, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected params: %v", req.Params)
	}
	if !strings.Contains(res.Message, "0xfeed") || res.Answers["website"] != "https://abc.example" {
		t.Fatalf("success result incomplete: %+v", res)
	}
}

func TestLaunchFlowRetriesAfterUpstreamFailure(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"status":"success","result":{"contract_address":"0xbeef"}}`))
	}))
	defer srv.Close()

	agent, err := dispatch.NewAgentClient(dispatch.AgentConfig{URL: srv.URL, HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("NewAgentClient returned error: %v", err)
	}
	d := &driver{t: t, engine: newTestEngine(t, agent), flow: FlowLaunch, env: Env{WalletID: testWallet}}
	launchToConfirm(d)
	before := d.sess.Clone()

	res := d.expect("create_token", map[string]string{"confirmation": "yes"}, ResultFailure, "confirm")
	if !res.Retryable {
		t.Fatalf("HTTP 500 should be retryable")
	}
	if res.Code != xerrors.CodeDispatchProtocol {
		t.Fatalf("unexpected code: %s", res.Code)
	}
	if len(res.Recovery) != 2 || res.Recovery[0].Action != "create_token" || res.Recovery[1].Action != ActionRestart {
		t.Fatalf("unexpected recovery options: %+v", res.Recovery)
	}
	if d.sess == nil || d.sess.CurrentStep != "confirm" {
		t.Fatalf("session must survive a failed dispatch")
	}
	for _, key := range []string{"token_name", "token_symbol", "amount"} {
		if d.sess.Answers[key] != before.Answers[key] {
			t.Fatalf("answer %s changed: %q -> %q", key, before.Answers[key], d.sess.Answers[key])
		}
	}

	healthy.Store(true)
	retry := res.Recovery[0]
	res = d.expect(retry.Action, retry.Values, ResultSuccess, "create")
	if !strings.Contains(res.Message, "0xbeef") {
		t.Fatalf("unexpected success message: %q", res.Message)
	}
}

func TestInvalidInputKeepsStepAndAnswers(t *testing.T) {
	d := &driver{t: t, engine: newTestEngine(t, &stubDispatcher{}), flow: FlowLaunch}
	d.expect("name_input", map[string]string{"token_name": "My Token"}, ResultPrompt, "symbol")

	before := d.sess.Clone()
	res, next := d.engine.Advance(context.Background(), FlowLaunch, d.sess, d.env, "symbol_input", map[string]string{"token_symbol": "toolongsym"})
	if res.Kind != ResultValidationError || res.Code != xerrors.CodeValidationFailed {
		t.Fatalf("expected validation error, got %+v", res)
	}
	if res.StepID != "symbol" || res.Content == "" {
		t.Fatalf("validation error should re-render the symbol step: %+v", res)
	}
	if next.CurrentStep != before.CurrentStep || next.Version != before.Version || len(next.Answers) != len(before.Answers) {
		t.Fatalf("session changed on invalid input: %+v", next)
	}
	if d.sess.Answers["token_symbol"] != "" {
		t.Fatalf("rejected input must not be stored")
	}
}

func TestReplayedActionIsUnexpected(t *testing.T) {
	d := &driver{t: t, engine: newTestEngine(t, &stubDispatcher{}), flow: FlowLaunch}
	d.expect("name_input", map[string]string{"token_name": "My Token"}, ResultPrompt, "symbol")

	res := d.expect("name_input", map[string]string{"token_name": "Other"}, ResultValidationError, "symbol")
	if res.Code != xerrors.CodeUnexpectedAction {
		t.Fatalf("expected unexpected action, got %s", res.Code)
	}
	if d.sess.Answers["token_name"] != "My Token" {
		t.Fatalf("replayed action must not overwrite answers")
	}
	if len(res.Recovery) != 1 || res.Recovery[0].Action != ActionRestart {
		t.Fatalf("expected start over recovery: %+v", res.Recovery)
	}
}

func TestCancelAndRestartClearSession(t *testing.T) {
	for _, action := range []string{ActionCancel, ActionRestart} {
		t.Run(action, func(t *testing.T) {
			d := &driver{t: t, engine: newTestEngine(t, &stubDispatcher{}), flow: FlowLaunch}
			d.expect("name_input", map[string]string{"token_name": "My Token"}, ResultPrompt, "symbol")
			res := d.expect(action, nil, ResultCancelled, "name")
			if d.sess != nil {
				t.Fatalf("%s should clear the session", action)
			}
			if !strings.Contains(res.Content, "launch a token") {
				t.Fatalf("cancelled result should show the start prompt: %q", res.Content)
			}
			d.expect("name_input", map[string]string{"token_name": "Again"}, ResultPrompt, "symbol")
		})
	}
}

func TestDecliningConfirmationCancels(t *testing.T) {
	stub := &stubDispatcher{}
	d := &driver{t: t, engine: newTestEngine(t, stub), flow: FlowLaunch, env: Env{WalletID: testWallet}}
	launchToConfirm(d)
	d.expect("create_token", map[string]string{"confirmation": "no"}, ResultCancelled, "")
	if d.sess != nil || len(stub.requests) != 0 {
		t.Fatalf("declining must clear the session without dispatching")
	}
}

func TestMissingWalletIsNotRetryable(t *testing.T) {
	stub := &stubDispatcher{}
	d := &driver{t: t, engine: newTestEngine(t, stub), flow: FlowLaunch}
	launchToConfirm(d)
	res := d.expect("create_token", map[string]string{"confirmation": "yes"}, ResultFailure, "confirm")
	if res.Retryable || res.Code != xerrors.CodeValidationFailed {
		t.Fatalf("missing wallet should be a permanent failure: %+v", res)
	}
	if len(stub.requests) != 0 {
		t.Fatalf("nothing should be dispatched without a wallet")
	}
}

func TestDispatchPanicAndTimeout(t *testing.T) {
	panicking := &stubDispatcher{handle: func(context.Context, dispatch.Request) (*dispatch.Result, error) {
		panic("boom")
	}}
	d := &driver{t: t, engine: newTestEngine(t, panicking), flow: FlowLaunch, env: Env{WalletID: testWallet}}
	launchToConfirm(d)
	res := d.expect("create_token", map[string]string{"confirmation": "yes"}, ResultFailure, "confirm")
	if !res.Retryable || res.Code != xerrors.CodeUnknown {
		t.Fatalf("panic should become a retryable failure: %+v", res)
	}

	blocking := &stubDispatcher{handle: func(ctx context.Context, _ dispatch.Request) (*dispatch.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	d = &driver{t: t, engine: newTestEngine(t, blocking, WithDispatchTimeout(10*time.Millisecond)), flow: FlowLaunch, env: Env{WalletID: testWallet}}
	launchToConfirm(d)
	res = d.expect("create_token", map[string]string{"confirmation": "yes"}, ResultFailure, "confirm")
	if res.Code != xerrors.CodeDispatchTransport || !res.Retryable {
		t.Fatalf("timeout should be a retryable transport failure: %+v", res)
	}
}

func TestLaunchFlowWithSuggestion(t *testing.T) {
	stub := &stubDispatcher{handle: func(_ context.Context, req dispatch.Request) (*dispatch.Result, error) {
		if req.Kind != dispatch.KindAIComplete {
			return &dispatch.Result{Kind: req.Kind, Fields: map[string]string{}}, nil
		}
		if req.Completion == nil || !req.Completion.JSONObject || req.Completion.MaxTokens != 150 {
			t.Fatalf("unexpected completion request: %+v", req.Completion)
		}
		return &dispatch.Result{Kind: req.Kind, Fields: map[string]string{
			"name": "Sonic Otter", "symbol": "otr", "description": "Fast and fluffy.",
		}}, nil
	}}
	d := &driver{t: t, engine: newTestEngine(t, stub), flow: FlowLaunch}
	res := d.expect("ai_launch", nil, ResultPrompt, "combined_details")
	if !strings.Contains(res.Content, "Sonic Otter") || !strings.Contains(res.Content, "OTR") {
		t.Fatalf("suggestion missing from prompt: %q", res.Content)
	}
	use := res.Choices[0]
	d.expect(use.Action, use.Values, ResultPrompt, "amount")
	if d.sess.Answers["token_symbol"] != "OTR" || d.sess.Answers["description"] != "Fast and fluffy." {
		t.Fatalf("suggestion not applied: %v", d.sess.Answers)
	}
}

func TestLaunchStartAcceptsNameDirectly(t *testing.T) {
	engine := newTestEngine(t, &stubDispatcher{})
	res, next := engine.Advance(context.Background(), FlowLaunch, nil, Env{WalletID: testWallet}, "name_input", map[string]string{"token_name": "My Token"})
	if res.Kind != ResultPrompt || res.StepID != "symbol" {
		t.Fatalf("expected symbol prompt, got %+v", res)
	}
	if next == nil || next.Answers["token_name"] != "My Token" {
		t.Fatalf("name should be stored: %+v", next)
	}

	start := engine.Current(FlowLaunch, nil, Env{})
	actions := make([]string, 0, len(start.Choices))
	for _, c := range start.Choices {
		actions = append(actions, c.Action)
	}
	if strings.Join(actions, ",") != "name_input,ai_launch" {
		t.Fatalf("start prompt should offer both entry actions, got %v", actions)
	}
}

func TestSuggestionFailureRetriesSameAction(t *testing.T) {
	stub := &stubDispatcher{handle: func(context.Context, dispatch.Request) (*dispatch.Result, error) {
		return nil, xerrors.New(xerrors.CodeDispatchTransport, "completion unavailable", xerrors.WithRetryable(true))
	}}
	d := &driver{t: t, engine: newTestEngine(t, stub), flow: FlowLaunch}
	res := d.expect("ai_launch", nil, ResultFailure, "name")
	if !res.Retryable || len(res.Recovery) != 2 || res.Recovery[0].Action != "ai_launch" {
		t.Fatalf("retry should replay ai_launch: %+v", res.Recovery)
	}
	d.expect("name_input", map[string]string{"token_name": "Manual"}, ResultPrompt, "symbol")
}

func TestSellRejectsUnknownHolding(t *testing.T) {
	env := Env{WalletID: testWallet, Holdings: []Holding{
		{TokenID: "1", Name: "Wagmi", Symbol: "WAG", Address: "0x0000000000000000000000000000000000000001", Balance: decimal.NewFromInt(1000)},
	}}
	d := &driver{t: t, engine: newTestEngine(t, &stubDispatcher{}), flow: FlowSell, env: env}

	res := d.expect("select_token", map[string]string{"token_id": "5"}, ResultValidationError, "select")
	if res.Message != "You don't hold that token" {
		t.Fatalf("unexpected message: %q", res.Message)
	}
	if d.sess != nil {
		t.Fatalf("a rejected first step must not create a session")
	}
}

func TestSellFlowQuotesAndExecutes(t *testing.T) {
	env := Env{WalletID: testWallet, Holdings: []Holding{
		{TokenID: "1", Name: "Wagmi", Symbol: "WAG", Address: "0x0000000000000000000000000000000000000001", Balance: decimal.NewFromInt(600)},
	}}
	stub := &stubDispatcher{handle: func(_ context.Context, req dispatch.Request) (*dispatch.Result, error) {
		switch req.Kind {
		case dispatch.KindGetSellQuote:
			return &dispatch.Result{Kind: req.Kind, Fields: map[string]string{"estimated_output": "10", "price_impact": "0.5"}}, nil
		default:
			return &dispatch.Result{Kind: req.Kind, Fields: map[string]string{"result": `{"explorer_url":"https://scan/tx/1","amount_received":"9.95"}`}}, nil
		}
	}}
	d := &driver{t: t, engine: newTestEngine(t, stub), flow: FlowSell, env: env}

	res := d.expect("select_token", map[string]string{"token_id": "1"}, ResultPrompt, "amount")
	if len(res.Choices) != 3 {
		t.Fatalf("presets above the balance should be hidden: %+v", res.Choices)
	}
	d.expect("process_amount", map[string]string{"amount": "700"}, ResultValidationError, "amount")
	res = d.expect("process_amount", map[string]string{"amount": "250"}, ResultPrompt, "confirm")
	if d.sess.Answers["min_output"] != "9.9" {
		t.Fatalf("expected default min output 9.9, got %q", d.sess.Answers["min_output"])
	}
	if !strings.Contains(res.Content, "Minimum received: 9.9 S") {
		t.Fatalf("confirm content missing minimum: %q", res.Content)
	}

	res = d.expect("execute_sell", map[string]string{"confirmation": "yes"}, ResultSuccess, "execute")
	want := "0x0000000000000000000000000000000000000001|250|9.9|" + testWallet
	if got := strings.Join(stub.last().Params, "|"); got != want {
		t.Fatalf("unexpected sell params: %s", got)
	}
	if !strings.Contains(res.Message, "9.95 S") || !strings.Contains(res.Message, "https://scan/tx/1") {
		t.Fatalf("unexpected success message: %q", res.Message)
	}
}

func swapCatalog() *catalog.Catalog {
	return catalog.New([]catalog.Token{
		{ID: "wag", Name: "Wagmi", Symbol: "WAG", Address: "0x0000000000000000000000000000000000000001",
			PriceSonic: decimal.RequireFromString("0.5"), MarketCap: decimal.NewFromInt(5_000_000), Verified: true},
	})
}

func TestSwapQuoteFailureIsReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"routeSummary":`))
	}))
	defer srv.Close()

	quotes := dispatch.NewQuoteClient(dispatch.QuoteConfig{BaseURL: srv.URL, HTTPClient: srv.Client()})
	d := &driver{t: t, engine: newTestEngine(t, quotes), flow: FlowSwap, env: Env{WalletID: testWallet, Catalog: swapCatalog()}}

	d.expect("search", map[string]string{"token_id": "wag"}, ResultPrompt, "amount")
	res := d.expect("submit_amount", map[string]string{"amount": "1"}, ResultFailure, "amount")
	if !strings.Contains(strings.ToLower(res.Message), "quote fetch failed") {
		t.Fatalf("failure should mention the quote: %q", res.Message)
	}
	if d.sess == nil || d.sess.CurrentStep != "amount" {
		t.Fatalf("session should stay on the amount step")
	}
}

func TestSwapFlowAppliesSlippage(t *testing.T) {
	stub := &stubDispatcher{handle: func(_ context.Context, req dispatch.Request) (*dispatch.Result, error) {
		if req.Kind == dispatch.KindGetSwapQuote {
			if req.Query["token_out"] != "0x0000000000000000000000000000000000000001" || req.Query["amount"] != "2" {
				t.Fatalf("unexpected quote query: %v", req.Query)
			}
			return &dispatch.Result{Kind: req.Kind, Fields: map[string]string{"estimated_output": "100"}}, nil
		}
		return &dispatch.Result{Kind: req.Kind, Fields: map[string]string{}}, nil
	}}
	d := &driver{t: t, engine: newTestEngine(t, stub), flow: FlowSwap, env: Env{WalletID: testWallet, Catalog: swapCatalog()}}

	res := d.expect("search", map[string]string{"query": "wagmi"}, ResultPrompt, "amount")
	if !strings.Contains(res.Content, "WAG") {
		t.Fatalf("amount prompt should mention the symbol: %q", res.Content)
	}
	d.expect("submit_amount", map[string]string{"amount": "2"}, ResultPrompt, "review")
	d.expect("confirm_swap", map[string]string{"slippage": "60"}, ResultValidationError, "review")
	d.expect("confirm_swap", map[string]string{"slippage": "1"}, ResultPrompt, "execute")
	if d.sess.Answers["minimum_received"] != "99" {
		t.Fatalf("expected minimum received 99, got %q", d.sess.Answers["minimum_received"])
	}
	d.expect("execute_swap", map[string]string{"confirmation": "yes"}, ResultSuccess, "swap")
	req := stub.last()
	if req.Kind != dispatch.KindExecuteSwap || req.Params[0] != dispatch.NativeToken || req.Params[3] != "1" {
		t.Fatalf("unexpected swap request: %+v", req)
	}
}

func TestResearchFlowUsesMarketLeaders(t *testing.T) {
	stub := &stubDispatcher{handle: func(_ context.Context, req dispatch.Request) (*dispatch.Result, error) {
		c := req.Completion
		if c == nil || !c.JSONObject || c.Temperature != 1 || c.MaxTokens != 2048 {
			t.Fatalf("unexpected completion: %+v", c)
		}
		if !strings.Contains(c.Prompt, "Wagmi (WAG)") || !strings.Contains(c.Prompt, "market cap 5,000,000") || !strings.Contains(c.Prompt, "Question: what is hot") {
			t.Fatalf("prompt missing context: %q", c.Prompt)
		}
		return &dispatch.Result{Kind: req.Kind, Fields: map[string]string{
			"summary": "Sonic is busy.",
			"tokens":  `[{"symbol":"WAG","insight":"leading volume"}]`,
		}}, nil
	}}
	d := &driver{t: t, engine: newTestEngine(t, stub), flow: FlowResearch, env: Env{Catalog: swapCatalog()}}

	res := d.expect("research", map[string]string{"query": "what is hot"}, ResultSuccess, "analyze")
	if !strings.Contains(res.Message, "Sonic is busy.") || !strings.Contains(res.Message, "WAG: leading volume") {
		t.Fatalf("unexpected research message: %q", res.Message)
	}
}

func TestSwitchingFlowsDiscardsSession(t *testing.T) {
	engine := newTestEngine(t, &stubDispatcher{})
	prior := &Session{Key: "k", Flow: FlowLaunch, CurrentStep: "symbol", Answers: map[string]string{"token_name": "X"}, Version: 3}

	res, next := engine.Advance(context.Background(), FlowResearch, prior, Env{}, "cancel", nil)
	if res.Kind != ResultCancelled || !res.Discarded || next != nil {
		t.Fatalf("unexpected cancel across flows: %+v", res)
	}

	res, next = engine.Advance(context.Background(), FlowSell, prior, Env{}, "process_amount", map[string]string{"amount": "1"})
	if !res.Discarded || res.Code != xerrors.CodeUnexpectedAction {
		t.Fatalf("expected discarded session and unexpected action, got %+v", res)
	}
	if next.Flow != FlowSell || next.CurrentStep != "select" || next.Version != 3 || next.Key != "k" || len(next.Answers) != 0 {
		t.Fatalf("fresh session should keep key and version: %+v", next)
	}
	if prior.Flow != FlowLaunch || prior.Answers["token_name"] != "X" {
		t.Fatalf("caller session must not be mutated")
	}
}

func TestUnknownStepIsDiscarded(t *testing.T) {
	engine := newTestEngine(t, &stubDispatcher{})
	broken := &Session{Key: "k", Flow: FlowLaunch, CurrentStep: "gone", Version: 1}
	res, next := engine.Advance(context.Background(), FlowLaunch, broken, Env{}, "name_input", map[string]string{"token_name": "Fresh"})
	if res.Kind != ResultPrompt || !res.Discarded || next.CurrentStep != "symbol" {
		t.Fatalf("corrupt session should restart the flow: %+v", res)
	}
}

func TestUnknownFlow(t *testing.T) {
	engine := newTestEngine(t, &stubDispatcher{})
	res, _ := engine.Advance(context.Background(), FlowID("mint"), nil, Env{}, "x", nil)
	if res.Kind != ResultFailure || res.Code != xerrors.CodeNotFound {
		t.Fatalf("expected not found failure, got %+v", res)
	}
	if len(res.Recovery) != 1 || res.Recovery[0].Action != ActionRestart {
		t.Fatalf("unknown wizard should offer start over: %+v", res.Recovery)
	}
}

func TestNewEngineRequiresDispatcher(t *testing.T) {
	if _, err := NewEngine(nil); xerrors.CodeOf(err) != xerrors.CodeInitializationFailure {
		t.Fatalf("expected initialization failure, got %v", err)
	}
}

func TestFlowCatalog(t *testing.T) {
	engine := newTestEngine(t, &stubDispatcher{})
	if ids := engine.Flows(); len(ids) != 4 {
		t.Fatalf("expected four flows, got %v", ids)
	}
	want := map[FlowID]string{
		FlowLaunch:   "ai_launch,amount_input,combined_details_input,create_token,details_input,name_input,symbol_input,upload_image",
		FlowSell:     "execute_sell,process_amount,select_token",
		FlowSwap:     "confirm_swap,execute_swap,search,submit_amount",
		FlowResearch: "research",
	}
	for id, actions := range want {
		flow, ok := engine.Flow(id)
		if !ok {
			t.Fatalf("flow %s missing", id)
		}
		if got := strings.Join(flow.Actions(), ","); got != actions {
			t.Fatalf("%s actions = %s", id, got)
		}
	}
}

func TestNewFlowRejectsInvalidTables(t *testing.T) {
	validate := func(Input) (map[string]string, error) { return nil, nil }
	terminal := &Step{ID: "done", Kind: DispatchStep, Terminal: true,
		Request: func(View) (dispatch.Request, error) { return dispatch.Request{}, nil }}

	if _, err := NewFlow("x", "X", "a",
		&Step{ID: "a", Kind: PromptStep, ExpectedAction: "go", Validate: validate, Next: goTo("b")},
		&Step{ID: "b", Kind: PromptStep, ExpectedAction: "go", Validate: validate, Next: goTo("done")},
		terminal,
	); err == nil {
		t.Fatalf("duplicate actions should be rejected")
	}
	if _, err := NewFlow("x", "X", "a",
		&Step{ID: "a", Kind: PromptStep, ExpectedAction: "go", Validate: validate, Next: goTo("b"),
			Branches: map[string]Branch{"skip": {Next: goTo("done")}}},
		&Step{ID: "b", Kind: PromptStep, ExpectedAction: "skip", Validate: validate, Next: goTo("done")},
		terminal,
	); err == nil {
		t.Fatalf("branch actions must not collide with other steps")
	}
	if _, err := NewFlow("x", "X", "a",
		&Step{ID: "a", Kind: PromptStep, ExpectedAction: "go", Validate: validate, Next: goTo("done"),
			Branches: map[string]Branch{"skip": {}}},
		terminal,
	); err == nil {
		t.Fatalf("branch without next should be rejected")
	}
	if _, err := NewFlow("x", "X", "done", terminal); err == nil {
		t.Fatalf("dispatch start step should be rejected")
	}
	if _, err := NewFlow("x", "X", "a",
		&Step{ID: "a", Kind: PromptStep, ExpectedAction: "go", Validate: validate, Next: goTo("a")},
	); err == nil {
		t.Fatalf("flow without terminal step should be rejected")
	}
}

func TestRenderPlaceholders(t *testing.T) {
	v := View{Answers: map[string]string{"token_name": "Otter"}, Env: Env{WalletID: "0xabc"}}
	got := render("Hi {user_name}, {token_name} -> {wallet} {missing}", v)
	if got != "Hi there, Otter -> 0xabc {missing}" {
		t.Fatalf("unexpected render: %q", got)
	}
}

func TestMemorySessionStoreVersioning(t *testing.T) {
	store := NewMemorySessionStore()
	ctx := context.Background()

	if sess, err := store.Load(ctx, "k"); err != nil || sess != nil {
		t.Fatalf("expected empty load, got %v, %v", sess, err)
	}
	sess := &Session{Key: "k", Flow: FlowSwap, CurrentStep: "amount", Answers: map[string]string{"token_id": "wag"}}
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if sess.Version != 1 {
		t.Fatalf("expected version 1, got %d", sess.Version)
	}

	stale := sess.Clone()
	stale.Version = 0
	if err := store.Save(ctx, stale); !errors.Is(err, ErrSessionConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	loaded, _ := store.Load(ctx, "k")
	loaded.Answers["token_id"] = "mutated"
	again, _ := store.Load(ctx, "k")
	if again.Answers["token_id"] != "wag" {
		t.Fatalf("store must return copies")
	}

	if err := store.Delete(ctx, "k", 0); !errors.Is(err, ErrSessionConflict) {
		t.Fatalf("stale delete should conflict, got %v", err)
	}
	if err := store.Delete(ctx, "k", 1); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if sess, _ := store.Load(ctx, "k"); sess != nil {
		t.Fatalf("expected session to be deleted")
	}
}
