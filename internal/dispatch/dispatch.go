package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sort"
	"time"

	xerrors "SonicPilot/internal/errors"
)

// Kind 标识一次外部调用的类型。
type Kind string

const (
	KindCreateToken  Kind = "create_token"
	KindGetSellQuote Kind = "get_sell_quote"
	KindExecuteSell  Kind = "execute_sell"
	KindGetSwapQuote Kind = "get_swap_quote"
	KindExecuteSwap  Kind = "execute_swap"
	KindAIComplete   Kind = "ai_complete"
)

// NativeToken 是报价与兑换接口约定的原生代币占位地址。
const NativeToken = "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"

// Completion 描述一次 AI 补全调用。
type Completion struct {
	Model       string
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
	JSONObject  bool
}

// Request 是向导在分发节点构造的调用请求。
type Request struct {
	Kind       Kind
	Params     []string
	Query      map[string]string
	Completion *Completion
}

// Result 是外部调用成功后的扁平化结果。
type Result struct {
	Kind   Kind
	Fields map[string]string
	Raw    json.RawMessage
}

// Field 返回指定字段，不存在时返回空串。
func (r *Result) Field(name string) string {
	if r == nil || r.Fields == nil {
		return ""
	}
	return r.Fields[name]
}

// Dispatcher 是所有外部调用的统一同步契约。
type Dispatcher interface {
	Dispatch(ctx context.Context, req Request) (*Result, error)
}

// Func 允许普通函数充当 Dispatcher。
type Func func(ctx context.Context, req Request) (*Result, error)

// Dispatch 实现 Dispatcher。
func (f Func) Dispatch(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}

// Router 按 Kind 将请求转发给具体实现。
type Router struct {
	routes map[Kind]Dispatcher
}

// NewRouter 创建空路由。
func NewRouter() *Router {
	return &Router{routes: make(map[Kind]Dispatcher)}
}

// Handle 为若干 Kind 注册实现，重复注册时后者覆盖前者。
func (r *Router) Handle(d Dispatcher, kinds ...Kind) *Router {
	for _, kind := range kinds {
		r.routes[kind] = d
	}
	return r
}

// Kinds 返回已注册的 Kind 列表。
func (r *Router) Kinds() []Kind {
	kinds := make([]Kind, 0, len(r.routes))
	for kind := range r.routes {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Dispatch 实现 Dispatcher。
func (r *Router) Dispatch(ctx context.Context, req Request) (*Result, error) {
	d, ok := r.routes[req.Kind]
	if !ok || d == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure,
			fmt.Sprintf("no dispatcher registered for %s", req.Kind),
			xerrors.WithMetadata("kind", string(req.Kind)))
	}
	return d.Dispatch(ctx, req)
}

// Observer 接收每次调用的耗时与结果，用于指标采集。
type Observer interface {
	ObserveDispatch(kind Kind, elapsed time.Duration, err error)
}

// Instrument 为 Dispatcher 增加观测回调。
func Instrument(inner Dispatcher, observer Observer) Dispatcher {
	if observer == nil {
		return inner
	}
	return Func(func(ctx context.Context, req Request) (*Result, error) {
		start := time.Now()
		res, err := inner.Dispatch(ctx, req)
		observer.ObserveDispatch(req.Kind, time.Since(start), err)
		return res, err
	})
}

// transportError 将网络层失败与超时统一为 DISPATCH_TRANSPORT。
func transportError(kind Kind, err error, message string) error {
	opts := []xerrors.Option{xerrors.WithMetadata("kind", string(kind))}
	if errors.Is(err, context.DeadlineExceeded) {
		opts = append(opts, xerrors.WithMetadata("timeout", "true"))
	}
	return xerrors.Wrap(xerrors.CodeDispatchTransport, err, message, opts...)
}

func protocolError(kind Kind, err error, message string) error {
	return xerrors.Wrap(xerrors.CodeDispatchProtocol, err, message, xerrors.WithMetadata("kind", string(kind)))
}

func semanticError(kind Kind, message string) error {
	return xerrors.New(xerrors.CodeDispatchSemantic, message, xerrors.WithMetadata("kind", string(kind)))
}

// isTransport 判断错误是否来自网络层。
func isTransport(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
