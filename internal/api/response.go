package api

import "SonicPilot/internal/wizard"

type option struct {
	Label  string            `json:"label"`
	Action string            `json:"action"`
	Values map[string]string `json:"values,omitempty"`
	Custom bool              `json:"custom,omitempty"`
	Field  string            `json:"field,omitempty"`
}

// wizardResponse 是所有向导接口的统一响应。
type wizardResponse struct {
	Type      string            `json:"type"`
	Flow      string            `json:"flow,omitempty"`
	Step      string            `json:"step,omitempty"`
	Message   string            `json:"message"`
	Prompt    string            `json:"prompt,omitempty"`
	Options   []option          `json:"options"`
	Error     string            `json:"error,omitempty"`
	Retryable bool              `json:"retryable"`
	Data      map[string]string `json:"data,omitempty"`
}

func newWizardResponse(res wizard.Result) wizardResponse {
	resp := wizardResponse{
		Type:      string(res.Kind),
		Flow:      string(res.Flow),
		Step:      res.StepID,
		Message:   res.Message,
		Retryable: res.Retryable,
		Data:      res.Data,
		Options:   make([]option, 0, len(res.Choices)+len(res.Recovery)),
	}
	if res.Code != "" {
		resp.Error = string(res.Code)
	}
	switch res.Kind {
	case wizard.ResultPrompt:
		resp.Message = res.Content
	case wizard.ResultValidationError, wizard.ResultCancelled:
		resp.Prompt = res.Content
	}
	for _, choice := range res.Choices {
		resp.Options = append(resp.Options, toOption(choice))
	}
	for _, choice := range res.Recovery {
		resp.Options = append(resp.Options, toOption(choice))
	}
	return resp
}

func toOption(c wizard.Choice) option {
	return option{Label: c.Label, Action: c.Action, Values: c.Values, Custom: c.Custom, Field: c.Field}
}
