package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	defaultAgentTimeout = 30 * time.Second
	maxAgentBody        = 1 << 20
)

// agentActions 将分发类型映射到执行代理的动作名。
var agentActions = map[Kind]string{
	KindCreateToken:  "create-token",
	KindGetSellQuote: "get-sell-quote",
	KindExecuteSell:  "sell-token",
	KindExecuteSwap:  "swap",
}

// AgentConfig 描述执行代理的访问方式。
type AgentConfig struct {
	URL        string
	Connection string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// AgentClient 通过 POST /agent/action 调用链上执行代理。
type AgentClient struct {
	endpoint   string
	connection string
	timeout    time.Duration
	httpClient *http.Client
}

// NewAgentClient 创建执行代理客户端。
func NewAgentClient(cfg AgentConfig) (*AgentClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if base == "" {
		return nil, fmt.Errorf("执行代理地址不能为空")
	}
	connection := cfg.Connection
	if connection == "" {
		connection = "sonic"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultAgentTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &AgentClient{
		endpoint:   base + "/agent/action",
		connection: connection,
		timeout:    timeout,
		httpClient: httpClient,
	}, nil
}

// Kinds 返回代理支持的分发类型。
func (c *AgentClient) Kinds() []Kind {
	return []Kind{KindCreateToken, KindGetSellQuote, KindExecuteSell, KindExecuteSwap}
}

type agentRequest struct {
	Connection string   `json:"connection"`
	Action     string   `json:"action"`
	Params     []string `json:"params"`
}

// Dispatch 实现 Dispatcher。
func (c *AgentClient) Dispatch(ctx context.Context, req Request) (*Result, error) {
	action, ok := agentActions[req.Kind]
	if !ok {
		return nil, protocolError(req.Kind, nil, fmt.Sprintf("agent does not handle %s", req.Kind))
	}

	payload, err := json.Marshal(agentRequest{Connection: c.connection, Action: action, Params: req.Params})
	if err != nil {
		return nil, protocolError(req.Kind, err, "encode agent request")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, protocolError(req.Kind, err, "build agent request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportError(req.Kind, err, "agent unreachable")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAgentBody))
	if err != nil {
		return nil, transportError(req.Kind, err, "read agent response")
	}

	if resp.StatusCode != http.StatusOK {
		detail := strings.TrimSpace(gjson.GetBytes(body, "detail").String())
		if resp.StatusCode == http.StatusBadRequest && detail != "" {
			return nil, semanticError(req.Kind, detail)
		}
		return nil, protocolError(req.Kind, nil, fmt.Sprintf("agent returned status %d", resp.StatusCode))
	}

	if !gjson.ValidBytes(body) {
		return nil, protocolError(req.Kind, nil, "agent response is not valid JSON")
	}
	parsed := gjson.ParseBytes(body)
	if status := parsed.Get("status").String(); status != "success" {
		message := parsed.Get("message").String()
		if message == "" {
			message = fmt.Sprintf("agent reported status %q", status)
		}
		return nil, semanticError(req.Kind, message)
	}

	result := parsed.Get("result")
	if req.Kind == KindGetSellQuote {
		return sellQuote(result)
	}
	fields, raw := flatten(result)
	return &Result{Kind: req.Kind, Fields: fields, Raw: raw}, nil
}

// sellQuote 解析 get-sell-quote 返回的嵌套 JSON 字符串。
func sellQuote(result gjson.Result) (*Result, error) {
	inner := result
	if result.Type == gjson.String {
		if !gjson.Valid(result.Str) {
			return nil, protocolError(KindGetSellQuote, nil, "sell quote is not valid JSON")
		}
		inner = gjson.Parse(result.Str)
	}
	if inner.Get("error").Bool() {
		detail := inner.Get("detail").String()
		if detail == "" {
			detail = "sell quote rejected"
		}
		return nil, semanticError(KindGetSellQuote, detail)
	}
	quote := inner.Get("result")
	if !quote.IsObject() || !quote.Get("estimated_output").Exists() {
		return nil, protocolError(KindGetSellQuote, nil, "sell quote missing estimated_output")
	}
	fields, raw := flatten(quote)
	return &Result{Kind: KindGetSellQuote, Fields: fields, Raw: raw}, nil
}

var _ Dispatcher = (*AgentClient)(nil)
