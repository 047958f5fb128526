package wizard

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"SonicPilot/internal/dispatch"
	xerrors "SonicPilot/internal/errors"
	"SonicPilot/pkg/logger"
)

// defaultDispatchTimeout 是分发节点未声明超时时使用的上限。
const defaultDispatchTimeout = 30 * time.Second

// Engine 驱动所有向导的状态迁移。引擎本身无状态，会话由调用方加载与保存。
type Engine struct {
	flows      map[FlowID]*Flow
	dispatcher dispatch.Dispatcher
	timeout    time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

// Option 定义可选的引擎配置。
type Option func(*Engine)

// WithDispatchTimeout 设置分发节点的默认超时。
func WithDispatchTimeout(timeout time.Duration) Option {
	return func(e *Engine) {
		if timeout > 0 {
			e.timeout = timeout
		}
	}
}

// WithClock 替换时间来源，便于测试。
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger 指定日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithFlows 替换内置向导表。
func WithFlows(flows ...*Flow) Option {
	return func(e *Engine) {
		e.flows = make(map[FlowID]*Flow, len(flows))
		for _, flow := range flows {
			e.flows[flow.ID] = flow
		}
	}
}

// NewEngine 创建向导引擎。
func NewEngine(dispatcher dispatch.Dispatcher, opts ...Option) (*Engine, error) {
	if dispatcher == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "wizard engine requires a dispatcher")
	}
	e := &Engine{
		dispatcher: dispatcher,
		timeout:    defaultDispatchTimeout,
		now:        time.Now,
		logger:     logger.Named("wizard"),
	}
	WithFlows(DefaultFlows(FlowConfig{})...)(e)
	for _, opt := range opts {
		opt(e)
	}
	if len(e.flows) == 0 {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "wizard engine has no flows")
	}
	return e, nil
}

// Flow 返回指定向导。
func (e *Engine) Flow(id FlowID) (*Flow, bool) {
	flow, ok := e.flows[id]
	return flow, ok
}

// Flows 返回已注册向导的 ID，按字母序。
func (e *Engine) Flows() []FlowID {
	ids := make([]FlowID, 0, len(e.flows))
	for id := range e.flows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Current 渲染会话当前所在步骤；会话缺失或不属于该向导时渲染起始步骤。
func (e *Engine) Current(flowID FlowID, sess *Session, env Env) Result {
	flow, ok := e.flows[flowID]
	if !ok {
		return unknownFlow(flowID)
	}
	answers := map[string]string{}
	stepID := flow.Start
	if sess != nil && sess.Flow == flowID {
		if step, ok := flow.Steps[sess.CurrentStep]; ok && step.Kind == PromptStep {
			stepID = sess.CurrentStep
			answers = sess.Answers
		}
	}
	return e.prompt(flow, flow.Steps[stepID], View{Answers: answers, Env: env})
}

// Advance 根据用户动作推进向导，返回结果与新会话。
//
// 返回的会话为 nil 表示会话已结束，调用方应删除存储中的记录；
// 结果为提示或 Discarded 为真时调用方应保存返回的会话；其余情况无需写入。
func (e *Engine) Advance(ctx context.Context, flowID FlowID, sess *Session, env Env, action string, payload map[string]string) (Result, *Session) {
	flow, ok := e.flows[flowID]
	if !ok {
		return unknownFlow(flowID), sess
	}
	if payload == nil {
		payload = map[string]string{}
	}

	cur, discarded := e.resume(flow, sess)

	if action == ActionCancel || action == ActionRestart {
		start := flow.Steps[flow.Start]
		view := View{Answers: map[string]string{}, Env: env}
		message := "Cancelled. You can start again whenever you're ready."
		if action == ActionRestart {
			message = "Starting over."
		}
		e.logger.Info("wizard reset", slog.String("flow", string(flowID)), slog.String("action", action), slog.String("step", cur.CurrentStep))
		return Result{
			Kind:      ResultCancelled,
			Flow:      flowID,
			StepID:    flow.Start,
			Message:   message,
			Content:   start.render(view),
			Choices:   start.choices(view),
			Recovery:  []Choice{startOver()},
			Discarded: discarded,
		}, nil
	}

	step := flow.Steps[cur.CurrentStep]
	view := View{Answers: cur.Answers, Env: env}
	validate, advance, accepted := step.accepts(action)
	if !accepted {
		res := e.prompt(flow, step, view)
		res.Kind = ResultValidationError
		res.Code = xerrors.CodeUnexpectedAction
		res.Message = "That action isn't available right now. Please pick one of the options below."
		res.Recovery = []Choice{startOver()}
		res.Discarded = discarded
		return res, cur
	}

	updates, err := validate(Input{Answers: copyAnswers(cur.Answers), Payload: payload, Env: env})
	if err != nil {
		res := e.prompt(flow, step, view)
		res.Kind = ResultValidationError
		res.Code = xerrors.CodeValidationFailed
		res.Message = validationMessage(err)
		res.Discarded = discarded
		return res, cur
	}

	next := cur.Clone()
	for k, v := range updates {
		next.Answers[k] = v
	}

	nextID := advance(next.Answers)
	for hops := 0; hops <= len(flow.Steps); hops++ {
		if nextID == StepCancelled {
			start := flow.Steps[flow.Start]
			startView := View{Answers: map[string]string{}, Env: env}
			e.logger.Info("wizard declined", slog.String("flow", string(flowID)), slog.String("step", step.ID))
			return Result{
				Kind:      ResultCancelled,
				Flow:      flowID,
				StepID:    flow.Start,
				Message:   "No problem, nothing was submitted.",
				Content:   start.render(startView),
				Choices:   start.choices(startView),
				Recovery:  []Choice{startOver()},
				Discarded: discarded,
			}, nil
		}

		target, ok := flow.Steps[nextID]
		if !ok {
			err := xerrors.New(xerrors.CodeUnknown, fmt.Sprintf("step %s leads to unknown step %s", step.ID, nextID))
			return e.failure(flow, step, action, payload, err, "Something went wrong. Please start over.", discarded), cur
		}

		if target.Kind == PromptStep {
			next.CurrentStep = target.ID
			next.UpdatedAt = e.now()
			e.logger.Debug("wizard transition",
				slog.String("flow", string(flowID)),
				slog.String("from", step.ID),
				slog.String("to", target.ID))
			res := e.prompt(flow, target, View{Answers: next.Answers, Env: env})
			res.Discarded = discarded
			return res, next
		}

		nodeView := View{Answers: next.Answers, Env: env}
		out, err := e.call(ctx, target, nodeView)
		if err != nil {
			e.logger.Warn("wizard dispatch failed",
				slog.String("flow", string(flowID)),
				slog.String("step", target.ID),
				slog.String("code", string(xerrors.CodeOf(err))),
				slog.Any("error", err))
			return e.failure(flow, step, action, payload, err, target.FailureMessage, discarded), cur
		}

		if target.Terminal {
			message := "Done."
			if target.Success != nil {
				message = target.Success(nodeView, out)
			}
			e.logger.Info("wizard completed", slog.String("flow", string(flowID)), slog.String("step", target.ID))
			return Result{
				Kind:      ResultSuccess,
				Flow:      flowID,
				StepID:    target.ID,
				Message:   message,
				Data:      out.Fields,
				Raw:       out.Raw,
				Answers:   copyAnswers(next.Answers),
				Discarded: discarded,
			}, nil
		}

		merged, err := target.Merge(copyAnswers(next.Answers), out)
		if err != nil {
			if _, coded := xerrors.From(err); !coded {
				err = xerrors.Wrap(xerrors.CodeDispatchProtocol, err, "unexpected upstream result",
					xerrors.WithMetadata("kind", string(out.Kind)))
			}
			return e.failure(flow, step, action, payload, err, target.FailureMessage, discarded), cur
		}
		for k, v := range merged {
			next.Answers[k] = v
		}
		nextID = target.Next(next.Answers)
	}

	err = xerrors.New(xerrors.CodeUnknown, fmt.Sprintf("flow %s did not settle after %s", flowID, step.ID))
	return e.failure(flow, step, action, payload, err, "Something went wrong. Please start over.", discarded), cur
}

// resume 返回可用于推进的会话副本；会话不属于该向导或已损坏时返回新会话并标记丢弃。
func (e *Engine) resume(flow *Flow, sess *Session) (*Session, bool) {
	now := e.now()
	fresh := &Session{
		Flow:        flow.ID,
		CurrentStep: flow.Start,
		Answers:     map[string]string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if sess == nil {
		return fresh, false
	}
	fresh.Key = sess.Key
	fresh.Version = sess.Version
	if sess.Flow != flow.ID {
		e.logger.Info("wizard session discarded",
			slog.String("reason", "flow switch"),
			slog.String("from", string(sess.Flow)),
			slog.String("to", string(flow.ID)))
		return fresh, true
	}
	if step, ok := flow.Steps[sess.CurrentStep]; !ok || step.Kind != PromptStep {
		e.logger.Warn("wizard session discarded",
			slog.String("reason", "unknown step"),
			slog.String("flow", string(flow.ID)),
			slog.String("step", sess.CurrentStep))
		return fresh, true
	}
	cur := sess.Clone()
	if cur.Answers == nil {
		cur.Answers = map[string]string{}
	}
	return cur, false
}

// call 执行分发节点，限制耗时并将 panic 转为可重试的失败。
func (e *Engine) call(ctx context.Context, step *Step, view View) (res *dispatch.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = xerrors.New(xerrors.CodeUnknown, fmt.Sprintf("dispatch step %s panicked: %v", step.ID, r),
				xerrors.WithRetryable(true))
		}
	}()

	req, err := step.Request(view)
	if err != nil {
		return nil, err
	}

	timeout := step.Timeout
	if timeout <= 0 {
		timeout = e.timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err = e.dispatcher.Dispatch(callCtx, req)
	if err != nil {
		if _, coded := xerrors.From(err); coded {
			return nil, err
		}
		if stdErrors.Is(err, context.DeadlineExceeded) {
			return nil, xerrors.Wrap(xerrors.CodeDispatchTransport, err, "upstream call timed out",
				xerrors.WithMetadata("kind", string(req.Kind)), xerrors.WithMetadata("timeout", "true"))
		}
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "dispatch failed",
			xerrors.WithMetadata("kind", string(req.Kind)), xerrors.WithRetryable(true))
	}
	if res == nil {
		return nil, xerrors.New(xerrors.CodeDispatchProtocol, "upstream returned no result",
			xerrors.WithMetadata("kind", string(req.Kind)))
	}
	return res, nil
}

func (e *Engine) prompt(flow *Flow, step *Step, view View) Result {
	return Result{
		Kind:    ResultPrompt,
		Flow:    flow.ID,
		StepID:  step.ID,
		Content: step.render(view),
		Choices: step.choices(view),
	}
}

// failure 构造失败结果。可重试时附带以原动作与原输入重放的选项。
func (e *Engine) failure(flow *Flow, origin *Step, action string, payload map[string]string, err error, message string, discarded bool) Result {
	var (
		code      = xerrors.CodeOf(err)
		retryable = xerrors.RetryableError(err)
	)
	var ve *ValidationError
	if _, coded := xerrors.From(err); !coded && stdErrors.As(err, &ve) {
		code = xerrors.CodeValidationFailed
		retryable = false
		if message == "" {
			message = ve.Message
		}
	}
	if message == "" {
		message = failureMessage(err)
	}
	recovery := []Choice{startOver()}
	if retryable {
		recovery = []Choice{tryAgain(action, payload), startOver()}
	}
	return Result{
		Kind:      ResultFailure,
		Flow:      flow.ID,
		StepID:    origin.ID,
		Message:   message,
		Code:      code,
		Retryable: retryable,
		Recovery:  recovery,
		Discarded: discarded,
		Cause:     err,
	}
}

func failureMessage(err error) string {
	switch xerrors.CodeOf(err) {
	case xerrors.CodeDispatchSemantic:
		if e, ok := xerrors.From(err); ok && e.Message() != "" {
			return e.Message()
		}
		return "The request was rejected. Please review and try again."
	case xerrors.CodeDispatchTransport:
		return "The service is temporarily unavailable. Please try again."
	case xerrors.CodeDispatchProtocol:
		return "We received an unexpected response. Please try again."
	default:
		return "Something went wrong. Please try again."
	}
}

func validationMessage(err error) string {
	var ve *ValidationError
	if stdErrors.As(err, &ve) {
		return ve.Message
	}
	if e, ok := xerrors.From(err); ok {
		return e.Message()
	}
	return "That input isn't valid. Please try again."
}

func unknownFlow(id FlowID) Result {
	return Result{
		Kind:    ResultFailure,
		Flow:    id,
		Message:  fmt.Sprintf("Unknown wizard %q", id),
		Code:     xerrors.CodeNotFound,
		Recovery: []Choice{startOver()},
	}
}

func copyAnswers(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
