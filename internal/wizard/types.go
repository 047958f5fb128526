package wizard

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"SonicPilot/internal/catalog"
	xerrors "SonicPilot/internal/errors"
)

// FlowID 标识一个向导。
type FlowID string

const (
	FlowLaunch   FlowID = "launch"
	FlowSell     FlowID = "sell"
	FlowSwap     FlowID = "swap"
	FlowResearch FlowID = "research"
)

// 保留动作，任何步骤都会接受。
const (
	ActionCancel  = "cancel"
	ActionRestart = "restart"
)

// Session 保存单个用户在某个向导中的进度。
type Session struct {
	Key         string            `json:"key"`
	Flow        FlowID            `json:"flow"`
	CurrentStep string            `json:"current_step"`
	Answers     map[string]string `json:"answers"`
	Version     int64             `json:"version"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`

	// Pending 是正在处理的动作，非空期间同一会话的其它动作会被拒绝。
	Pending      string    `json:"pending,omitempty"`
	PendingSince time.Time `json:"pending_since"`
}

// Clone 返回深拷贝。
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Answers = make(map[string]string, len(s.Answers))
	for k, v := range s.Answers {
		clone.Answers[k] = v
	}
	return &clone
}

// Holding 是用户可卖出的一笔持仓。
type Holding struct {
	TokenID string          `json:"token_id"`
	Name    string          `json:"name"`
	Symbol  string          `json:"symbol"`
	Address string          `json:"address"`
	Balance decimal.Decimal `json:"balance"`
}

// Env 携带一次推进所需的外部上下文，引擎只读取不修改。
type Env struct {
	UserID   string
	UserName string
	WalletID string
	Holdings []Holding
	Catalog  catalog.Directory
}

func (e Env) holding(tokenID string) (Holding, bool) {
	for _, h := range e.Holdings {
		if h.TokenID == tokenID {
			return h, true
		}
	}
	return Holding{}, false
}

// Choice 是展示给用户的一个可选项。Custom 表示需要用户自行填写 Field。
type Choice struct {
	Label  string            `json:"label"`
	Action string            `json:"action"`
	Values map[string]string `json:"values,omitempty"`
	Custom bool              `json:"custom,omitempty"`
	Field  string            `json:"field,omitempty"`
}

// ResultKind 区分推进结果的变体。
type ResultKind string

const (
	ResultPrompt          ResultKind = "prompt"
	ResultValidationError ResultKind = "validation_error"
	ResultSuccess         ResultKind = "success"
	ResultFailure         ResultKind = "failure"
	ResultCancelled       ResultKind = "cancelled"
)

// Result 是一次推进的输出，Kind 决定哪些字段有效。
type Result struct {
	Kind    ResultKind
	Flow    FlowID
	StepID  string
	Content string
	Choices []Choice
	// Message 在错误、失败、取消与成功时给出提示文本。
	Message   string
	Code      xerrors.Code
	Retryable bool
	Data      map[string]string
	Raw       json.RawMessage
	Recovery  []Choice
	// Discarded 表示本次推进丢弃了其它向导或损坏的会话。
	Discarded bool
	// Answers 是终态时的答案快照，供调用方落库。
	Answers map[string]string
	// Cause 保留分发失败的原始错误，便于记录与告警。
	Cause error
}

// Terminal 判断结果是否结束了会话。
func (r Result) Terminal() bool {
	return r.Kind == ResultSuccess || r.Kind == ResultCancelled || r.Kind == ResultFailure
}

// ValidationError 表示用户输入未通过校验，可修正后重试。
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// 恢复选项。
func startOver() Choice {
	return Choice{Label: "Start Over", Action: ActionRestart}
}

func tryAgain(action string, payload map[string]string) Choice {
	values := make(map[string]string, len(payload))
	for k, v := range payload {
		values[k] = v
	}
	return Choice{Label: "Try Again", Action: action, Values: values}
}
