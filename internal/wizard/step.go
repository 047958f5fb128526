package wizard

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"SonicPilot/internal/dispatch"
)

// StepCancelled 是保留的步骤 ID，Next 返回它表示用户取消。
const StepCancelled = "cancelled"

// StepKind 区分步骤变体。
type StepKind int

const (
	// PromptStep 等待一个用户动作。
	PromptStep StepKind = iota
	// DispatchStep 调用外部服务，不等待用户。
	DispatchStep
)

// View 是渲染与构造请求时可见的只读数据。
type View struct {
	Answers map[string]string
	Env     Env
}

// Input 是校验器的输入。
type Input struct {
	Answers map[string]string
	Payload map[string]string
	Env     Env
}

// Step 是向导中的一个节点。
type Step struct {
	ID   string
	Kind StepKind

	// 提示步骤字段。
	ExpectedAction string
	Prompt         string
	Content        func(View) string
	Choices        func(View) []Choice
	Validate       func(Input) (map[string]string, error)
	// Branches 是该步骤额外接受的动作，各自有独立的校验与跳转。
	Branches map[string]Branch

	// 分发节点字段。
	Request        func(View) (dispatch.Request, error)
	Merge          func(answers map[string]string, res *dispatch.Result) (map[string]string, error)
	Terminal       bool
	Timeout        time.Duration
	FailureMessage string
	Success        func(View, *dispatch.Result) string

	Next func(answers map[string]string) string
}

// Branch 是提示步骤接受的备选动作。Validate 为空表示该动作不带输入。
type Branch struct {
	Validate func(Input) (map[string]string, error)
	Next     func(answers map[string]string) string
}

// accepts 返回动作在该步骤上的校验器与跳转，动作不被接受时 ok 为 false。
func (s *Step) accepts(action string) (validate func(Input) (map[string]string, error), next func(map[string]string) string, ok bool) {
	if action == s.ExpectedAction {
		return s.Validate, s.Next, true
	}
	branch, ok := s.Branches[action]
	if !ok {
		return nil, nil, false
	}
	if branch.Validate == nil {
		return noInput, branch.Next, true
	}
	return branch.Validate, branch.Next, true
}

func noInput(Input) (map[string]string, error) { return map[string]string{}, nil }

func (s *Step) render(v View) string {
	if s.Content != nil {
		return s.Content(v)
	}
	return render(s.Prompt, v)
}

func (s *Step) choices(v View) []Choice {
	if s.Choices == nil {
		return nil
	}
	return s.Choices(v)
}

// Flow 是一个完整向导的步骤表。
type Flow struct {
	ID    FlowID
	Title string
	Start string
	Steps map[string]*Step
}

// NewFlow 创建向导并检查步骤表的一致性。
func NewFlow(id FlowID, title, start string, steps ...*Step) (*Flow, error) {
	flow := &Flow{ID: id, Title: title, Start: start, Steps: make(map[string]*Step, len(steps))}
	for _, step := range steps {
		if _, dup := flow.Steps[step.ID]; dup {
			return nil, fmt.Errorf("%s: duplicate step %s", id, step.ID)
		}
		flow.Steps[step.ID] = step
	}
	if err := flow.check(); err != nil {
		return nil, err
	}
	return flow, nil
}

func mustFlow(id FlowID, title, start string, steps ...*Step) *Flow {
	flow, err := NewFlow(id, title, start, steps...)
	if err != nil {
		panic(err)
	}
	return flow
}

func (f *Flow) check() error {
	start, ok := f.Steps[f.Start]
	if !ok || start.Kind != PromptStep {
		return fmt.Errorf("%s: start step %q must be a prompt step", f.ID, f.Start)
	}
	actions := make(map[string]string)
	terminals := 0
	for id, step := range f.Steps {
		if id == StepCancelled {
			return fmt.Errorf("%s: step id %q is reserved", f.ID, StepCancelled)
		}
		switch step.Kind {
		case PromptStep:
			if step.ExpectedAction == "" || step.Validate == nil || step.Next == nil {
				return fmt.Errorf("%s/%s: prompt step needs action, validator and next", f.ID, id)
			}
			if other, dup := actions[step.ExpectedAction]; dup {
				return fmt.Errorf("%s: action %s used by %s and %s", f.ID, step.ExpectedAction, other, id)
			}
			actions[step.ExpectedAction] = id
			for action, branch := range step.Branches {
				if action == "" || branch.Next == nil {
					return fmt.Errorf("%s/%s: branch %q needs an action and next", f.ID, id, action)
				}
				if other, dup := actions[action]; dup {
					return fmt.Errorf("%s: action %s used by %s and %s", f.ID, action, other, id)
				}
				actions[action] = id
			}
		case DispatchStep:
			if step.Request == nil {
				return fmt.Errorf("%s/%s: dispatch step needs a request builder", f.ID, id)
			}
			if step.Terminal {
				terminals++
			} else if step.Merge == nil || step.Next == nil {
				return fmt.Errorf("%s/%s: non-terminal dispatch step needs merge and next", f.ID, id)
			}
		}
	}
	if terminals == 0 {
		return fmt.Errorf("%s: no terminal dispatch step", f.ID)
	}
	return nil
}

// Actions 返回向导中所有提示步骤接受的动作（含备选动作），按字母序。
func (f *Flow) Actions() []string {
	actions := make([]string, 0, len(f.Steps))
	for _, step := range f.Steps {
		if step.Kind != PromptStep {
			continue
		}
		actions = append(actions, step.ExpectedAction)
		for action := range step.Branches {
			actions = append(actions, action)
		}
	}
	sort.Strings(actions)
	return actions
}

// render 将模板中的 {field} 替换为答案或环境值，未知占位符保持原样。
func render(tpl string, v View) string {
	if !strings.Contains(tpl, "{") {
		return tpl
	}
	lookup := func(key string) (string, bool) {
		switch key {
		case "user_name":
			if v.Env.UserName == "" {
				return "there", true
			}
			return v.Env.UserName, true
		case "wallet":
			return v.Env.WalletID, true
		}
		value, ok := v.Answers[key]
		return value, ok
	}

	var b strings.Builder
	for {
		open := strings.IndexByte(tpl, '{')
		if open < 0 {
			b.WriteString(tpl)
			break
		}
		end := strings.IndexByte(tpl[open:], '}')
		if end < 0 {
			b.WriteString(tpl)
			break
		}
		end += open
		b.WriteString(tpl[:open])
		if value, ok := lookup(tpl[open+1 : end]); ok {
			b.WriteString(value)
		} else {
			b.WriteString(tpl[open : end+1])
		}
		tpl = tpl[end+1:]
	}
	return b.String()
}

func yesNo(action string) func(View) []Choice {
	return func(View) []Choice {
		return []Choice{
			{Label: "Yes", Action: action, Values: map[string]string{"confirmation": "yes"}},
			{Label: "No", Action: action, Values: map[string]string{"confirmation": "no"}},
		}
	}
}

func goTo(id string) func(map[string]string) string {
	return func(map[string]string) string { return id }
}

func confirmed(yes, no string) func(map[string]string) string {
	return func(answers map[string]string) string {
		if answers["confirmation"] == "yes" {
			return yes
		}
		return no
	}
}
