package wizard

import (
	"strings"
	"unicode/utf8"

	"SonicPilot/internal/dispatch"
)

const launchSuggestPrompt = "Suggest a memorable new meme token for the Sonic chain. " +
	"Reply with a JSON object with the keys name, symbol and description. " +
	"The name must be at most 15 characters, the symbol exactly 3 letters, " +
	"and the description one short sentence."

// LaunchFlow 构造代币发行向导。
func LaunchFlow(cfg FlowConfig) *Flow {
	cfg = cfg.withDefaults()
	return mustFlow(FlowLaunch, "Launch a token", "name",
		&Step{
			ID:             "name",
			Kind:           PromptStep,
			ExpectedAction: "name_input",
			Prompt: "Hi {user_name}! Let's launch a token on Sonic. " +
				"What should your token be called? (up to 15 characters) Or let AI suggest a name, symbol and description.",
			Choices: func(View) []Choice {
				return []Choice{
					customChoice("Enter a name", "name_input", "token_name"),
					fixedChoice("Let AI suggest", "ai_launch", nil),
				}
			},
			Validate: func(in Input) (map[string]string, error) {
				name, err := TokenName(in.Payload["token_name"])
				if err != nil {
					return nil, err
				}
				return map[string]string{"token_name": name}, nil
			},
			Branches: map[string]Branch{
				"ai_launch": {Next: goTo("ai_suggest")},
			},
			Next: goTo("symbol"),
		},
		&Step{
			ID:   "ai_suggest",
			Kind: DispatchStep,
			Request: func(View) (dispatch.Request, error) {
				return dispatch.Request{
					Kind: dispatch.KindAIComplete,
					Completion: &dispatch.Completion{
						Model:       cfg.LaunchModel,
						System:      "You are a creative assistant that names crypto tokens.",
						Prompt:      launchSuggestPrompt,
						Temperature: 0.9,
						MaxTokens:   150,
						JSONObject:  true,
					},
				}, nil
			},
			Merge:          mergeSuggestion,
			FailureMessage: "Couldn't generate a suggestion right now. Try again, or enter a name yourself.",
			Next:           goTo("combined_details"),
		},
		&Step{
			ID:             "combined_details",
			Kind:           PromptStep,
			ExpectedAction: "combined_details_input",
			Prompt: "Here's an idea:\nName: {suggested_name}\nSymbol: {suggested_symbol}\nDescription: {suggested_description}\n\n" +
				"Use it as is, or send your own name and symbol.",
			Choices: func(v View) []Choice {
				return []Choice{
					fixedChoice("Use suggestion", "combined_details_input", map[string]string{
						"token_name":   v.Answers["suggested_name"],
						"token_symbol": v.Answers["suggested_symbol"],
						"description":  v.Answers["suggested_description"],
					}),
					customChoice("Enter my own", "combined_details_input", "token_name"),
				}
			},
			Validate: func(in Input) (map[string]string, error) {
				name, err := TokenName(in.Payload["token_name"])
				if err != nil {
					return nil, err
				}
				symbol, err := TokenSymbol(in.Payload["token_symbol"])
				if err != nil {
					return nil, err
				}
				raw, ok := in.Payload["description"]
				if !ok {
					raw = in.Answers["suggested_description"]
				}
				desc, err := Description(raw)
				if err != nil {
					return nil, err
				}
				return map[string]string{"token_name": name, "token_symbol": symbol, "description": desc}, nil
			},
			Next: goTo("amount"),
		},
		&Step{
			ID:             "symbol",
			Kind:           PromptStep,
			ExpectedAction: "symbol_input",
			Prompt:         "Nice, {token_name}! Now choose a 3-letter symbol.",
			Validate: func(in Input) (map[string]string, error) {
				symbol, err := TokenSymbol(in.Payload["token_symbol"])
				if err != nil {
					return nil, err
				}
				return map[string]string{"token_symbol": symbol}, nil
			},
			Next: goTo("amount"),
		},
		&Step{
			ID:             "amount",
			Kind:           PromptStep,
			ExpectedAction: "amount_input",
			Prompt:         "How much S would you like to spend on the initial buy of {token_symbol}?",
			Choices: func(View) []Choice {
				return []Choice{
					fixedChoice("0.001 S", "amount_input", map[string]string{"amount": "0.001"}),
					fixedChoice("0.01 S", "amount_input", map[string]string{"amount": "0.01"}),
					fixedChoice("0.1 S", "amount_input", map[string]string{"amount": "0.1"}),
					customChoice("Custom", "amount_input", "amount"),
				}
			},
			Validate: func(in Input) (map[string]string, error) {
				amount, err := Amount("amount", in.Payload["amount"])
				if err != nil {
					return nil, err
				}
				return map[string]string{"amount": amount.String()}, nil
			},
			Next: goTo("image"),
		},
		&Step{
			ID:             "image",
			Kind:           PromptStep,
			ExpectedAction: "upload_image",
			Prompt:         "Upload an image for {token_name} (JPEG or PNG, up to 2 MB).",
			Validate: func(in Input) (map[string]string, error) {
				kind, err := Image(in.Payload["image"], in.Payload["content_type"], in.Payload["size_bytes"])
				if err != nil {
					return nil, err
				}
				return map[string]string{"image": strings.TrimSpace(in.Payload["image"]), "image_type": kind}, nil
			},
			Next: goTo("details"),
		},
		&Step{
			ID:             "details",
			Kind:           PromptStep,
			ExpectedAction: "details_input",
			Prompt:         "Add a short description and any social links, or skip this step.",
			Choices: func(View) []Choice {
				return []Choice{
					customChoice("Add details", "details_input", "description"),
					fixedChoice("Skip", "details_input", nil),
				}
			},
			Validate: validateDetails,
			Next:     goTo("confirm"),
		},
		&Step{
			ID:             "confirm",
			Kind:           PromptStep,
			ExpectedAction: "create_token",
			Content:        launchSummary,
			Choices:        yesNo("create_token"),
			Validate:       confirmation,
			Next:           confirmed("create", StepCancelled),
		},
		&Step{
			ID:       "create",
			Kind:     DispatchStep,
			Terminal: true,
			Request: func(v View) (dispatch.Request, error) {
				wallet, err := requireWallet(v)
				if err != nil {
					return dispatch.Request{}, err
				}
				a := v.Answers
				return dispatch.Request{
					Kind:   dispatch.KindCreateToken,
					Params: []string{a["token_name"], a["token_symbol"], a["amount"], wallet},
				}, nil
			},
			Success: launchSuccess,
		},
	)
}

// mergeSuggestion 整理 AI 建议；名称过长时截断，符号不足三位字母时视为上游异常。
func mergeSuggestion(_ map[string]string, res *dispatch.Result) (map[string]string, error) {
	name := strings.TrimSpace(res.Field("name"))
	if utf8.RuneCountInString(name) > MaxNameLength {
		name = string([]rune(name)[:MaxNameLength])
	}
	if name == "" {
		return nil, invalid("token_name", "AI suggestion is missing a name")
	}
	symbol, err := TokenSymbol(res.Field("symbol"))
	if err != nil {
		return nil, err
	}
	desc := strings.TrimSpace(res.Field("description"))
	if utf8.RuneCountInString(desc) > MaxDescriptionLength {
		desc = string([]rune(desc)[:MaxDescriptionLength])
	}
	return map[string]string{
		"suggested_name":        name,
		"suggested_symbol":      symbol,
		"suggested_description": desc,
	}, nil
}

func launchSuccess(v View, res *dispatch.Result) string {
	var b strings.Builder
	b.WriteString("🚀 " + v.Answers["token_name"] + " (" + v.Answers["token_symbol"] + ") has been launched!")
	address := resultValue(res, "contract_address")
	appendLine(&b, "Token address", address)
	appendLine(&b, "Tokens received", resultValue(res, "tokens_received"))
	appendLine(&b, "Transaction", resultValue(res, "explorer_url"))
	if address == "" {
		// 上游只返回了文本回执。
		if detail := strings.TrimSpace(res.Field("result")); detail != "" && !strings.HasPrefix(detail, "{") {
			b.WriteString("\n")
			b.WriteString(detail)
		}
	}
	return b.String()
}

func validateDetails(in Input) (map[string]string, error) {
	out := make(map[string]string, 4)
	if raw, ok := in.Payload["description"]; ok {
		desc, err := Description(raw)
		if err != nil {
			return nil, err
		}
		out["description"] = desc
	}
	links := []struct{ field, label string }{
		{"x_url", "X link"},
		{"telegram_url", "Telegram link"},
		{"website", "Website"},
	}
	for _, link := range links {
		value, err := OptionalURL(link.field, link.label, in.Payload[link.field])
		if err != nil {
			return nil, err
		}
		out[link.field] = value
	}
	return out, nil
}

func confirmation(in Input) (map[string]string, error) {
	answer, err := Confirmation(in.Payload["confirmation"])
	if err != nil {
		return nil, err
	}
	return map[string]string{"confirmation": answer}, nil
}

func launchSummary(v View) string {
	a := v.Answers
	var b strings.Builder
	b.WriteString("Ready to launch? Please review:")
	appendLine(&b, "Name", a["token_name"])
	appendLine(&b, "Symbol", a["token_symbol"])
	appendLine(&b, "Initial buy", a["amount"]+" S")
	appendLine(&b, "Description", a["description"])
	appendLine(&b, "X", a["x_url"])
	appendLine(&b, "Telegram", a["telegram_url"])
	appendLine(&b, "Website", a["website"])
	return b.String()
}
