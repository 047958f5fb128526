package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/tidwall/gjson"

	"SonicPilot/internal/llm"
)

const defaultCompletionTimeout = 30 * time.Second

// Completer 将 ai_complete 请求转交给大模型客户端。
type Completer struct {
	client  llm.Client
	timeout time.Duration
}

// NewCompleter 创建 AI 补全分发器。
func NewCompleter(client llm.Client, timeout time.Duration) *Completer {
	if timeout <= 0 {
		timeout = defaultCompletionTimeout
	}
	return &Completer{client: client, timeout: timeout}
}

// Dispatch 实现 Dispatcher。JSONObject 模式下内容必须是 JSON 对象。
func (c *Completer) Dispatch(ctx context.Context, req Request) (*Result, error) {
	if req.Kind != KindAIComplete || req.Completion == nil {
		return nil, protocolError(req.Kind, nil, "completion request missing")
	}
	if c.client == nil {
		return nil, transportError(req.Kind, errors.New("llm client not configured"), "completion provider unavailable")
	}

	spec := req.Completion
	messages := make([]llm.Message, 0, 2)
	if spec.System != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: spec.System})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: spec.Prompt})

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.Complete(ctx, llm.Request{
		Model:       spec.Model,
		Messages:    messages,
		Temperature: spec.Temperature,
		MaxTokens:   spec.MaxTokens,
		JSONObject:  spec.JSONObject,
	})
	if err != nil {
		if isTransport(err) {
			return nil, transportError(req.Kind, err, "completion provider unreachable")
		}
		return nil, protocolError(req.Kind, err, "completion failed")
	}

	if !spec.JSONObject {
		return &Result{Kind: req.Kind, Fields: map[string]string{"content": resp.Content, "model": resp.Model}}, nil
	}

	if !gjson.Valid(resp.Content) {
		return nil, protocolError(req.Kind, nil, "completion is not valid JSON")
	}
	parsed := gjson.Parse(resp.Content)
	if !parsed.IsObject() {
		return nil, protocolError(req.Kind, nil, "completion is not a JSON object")
	}
	fields, raw := flatten(parsed)
	return &Result{Kind: req.Kind, Fields: fields, Raw: raw}, nil
}

var _ Dispatcher = (*Completer)(nil)
