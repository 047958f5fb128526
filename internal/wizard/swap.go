package wizard

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"SonicPilot/internal/dispatch"
	xerrors "SonicPilot/internal/errors"
)

// SwapFlow 构造原生代币兑换向导。
func SwapFlow(cfg FlowConfig) *Flow {
	cfg = cfg.withDefaults()
	return mustFlow(FlowSwap, "Swap S for a token", "search",
		&Step{
			ID:             "search",
			Kind:           PromptStep,
			ExpectedAction: "search",
			Prompt:         "Which token would you like to buy with S? Pick one below or search by name, symbol or address.",
			Choices: func(v View) []Choice {
				if v.Env.Catalog == nil {
					return []Choice{customChoice("Search", "search", "query")}
				}
				top := v.Env.Catalog.Top(cfg.SwapTopTokens)
				choices := make([]Choice, 0, len(top)+1)
				for _, token := range top {
					choices = append(choices, fixedChoice(token.Symbol, "search", map[string]string{"token_id": token.ID}))
				}
				return append(choices, customChoice("Search", "search", "query"))
			},
			Validate: resolveSwapToken,
			Next:     goTo("amount"),
		},
		&Step{
			ID:             "amount",
			Kind:           PromptStep,
			ExpectedAction: "submit_amount",
			Prompt:         "How much S would you like to swap for {token_symbol}?",
			Choices: func(View) []Choice {
				return []Choice{
					fixedChoice("1 S", "submit_amount", map[string]string{"amount": "1"}),
					fixedChoice("5 S", "submit_amount", map[string]string{"amount": "5"}),
					fixedChoice("10 S", "submit_amount", map[string]string{"amount": "10"}),
					customChoice("Custom", "submit_amount", "amount"),
				}
			},
			Validate: func(in Input) (map[string]string, error) {
				amount, err := Amount("amount", in.Payload["amount"])
				if err != nil {
					return nil, err
				}
				return map[string]string{"amount": amount.String()}, nil
			},
			Next: goTo("quote"),
		},
		&Step{
			ID:      "quote",
			Kind:    DispatchStep,
			Timeout: 15 * time.Second,
			Request: func(v View) (dispatch.Request, error) {
				return dispatch.Request{
					Kind: dispatch.KindGetSwapQuote,
					Query: map[string]string{
						"token_in":  dispatch.NativeToken,
						"token_out": v.Answers["token_address"],
						"amount":    v.Answers["amount"],
					},
				}, nil
			},
			Merge:          mergeSwapQuote,
			FailureMessage: "Swap quote fetch failed. Please try again.",
			Next:           goTo("review"),
		},
		&Step{
			ID:             "review",
			Kind:           PromptStep,
			ExpectedAction: "confirm_swap",
			Content: func(v View) string {
				a := v.Answers
				var b strings.Builder
				b.WriteString(fmt.Sprintf("Swapping %s S for %s.", a["amount"], a["token_symbol"]))
				appendLine(&b, "Estimated output", suffix(a["estimated_output"], " "+a["token_symbol"]))
				appendLine(&b, "Price impact", suffix(a["price_impact"], "%"))
				appendLine(&b, "Network fee", suffix(a["gas_usd"], " USD"))
				b.WriteString("\n\nChoose your slippage tolerance.")
				return b.String()
			},
			Choices: func(View) []Choice {
				return []Choice{
					fixedChoice("0.5%", "confirm_swap", map[string]string{"slippage": "0.5"}),
					fixedChoice("1%", "confirm_swap", map[string]string{"slippage": "1"}),
					fixedChoice("3%", "confirm_swap", map[string]string{"slippage": "3"}),
					customChoice("Custom", "confirm_swap", "slippage"),
				}
			},
			Validate: func(in Input) (map[string]string, error) {
				slippage, err := Slippage(in.Payload["slippage"])
				if err != nil {
					return nil, err
				}
				estimated, err := decimal.NewFromString(in.Answers["estimated_output"])
				if err != nil {
					return nil, invalid("slippage", "The quote is unavailable. Please start over.")
				}
				return map[string]string{
					"slippage":         slippage.String(),
					"minimum_received": MinimumReceived(estimated, slippage).String(),
				}, nil
			},
			Next: goTo("execute"),
		},
		&Step{
			ID:             "execute",
			Kind:           PromptStep,
			ExpectedAction: "execute_swap",
			Content: func(v View) string {
				a := v.Answers
				var b strings.Builder
				b.WriteString(fmt.Sprintf("Confirm swap of %s S for %s?", a["amount"], a["token_symbol"]))
				appendLine(&b, "Estimated output", a["estimated_output"])
				appendLine(&b, "Slippage", suffix(a["slippage"], "%"))
				appendLine(&b, "Minimum received", a["minimum_received"])
				return b.String()
			},
			Choices:  yesNo("execute_swap"),
			Validate: confirmation,
			Next:     confirmed("swap", StepCancelled),
		},
		&Step{
			ID:       "swap",
			Kind:     DispatchStep,
			Terminal: true,
			Request: func(v View) (dispatch.Request, error) {
				wallet, err := requireWallet(v)
				if err != nil {
					return dispatch.Request{}, err
				}
				a := v.Answers
				return dispatch.Request{
					Kind:   dispatch.KindExecuteSwap,
					Params: []string{dispatch.NativeToken, a["token_address"], a["amount"], a["slippage"], wallet},
				}, nil
			},
			Success: func(v View, res *dispatch.Result) string {
				var b strings.Builder
				b.WriteString(fmt.Sprintf("✅ Swapped %s S for %s.", v.Answers["amount"], v.Answers["token_symbol"]))
				appendLine(&b, "Transaction", resultValue(res, "explorer_url"))
				return b.String()
			},
		},
	)
}

// resolveSwapToken 按 token_id 或自由文本在目录中定位目标代币。
func resolveSwapToken(in Input) (map[string]string, error) {
	if in.Env.Catalog == nil {
		return nil, invalid("query", "Token search is unavailable right now")
	}
	query := strings.TrimSpace(in.Payload["token_id"])
	if query == "" {
		query = strings.TrimSpace(in.Payload["query"])
	}
	if query == "" {
		return nil, invalid("query", "Tell me which token you're looking for")
	}
	token, err := in.Env.Catalog.Resolve(query)
	if err != nil {
		if e, ok := xerrors.From(err); ok {
			return nil, invalid("query", e.Message())
		}
		return nil, invalid("query", err.Error())
	}
	address, err := Address("token_address", token.Address)
	if err != nil {
		return nil, invalid("query", fmt.Sprintf("%s has no tradable address", token.Symbol))
	}
	return map[string]string{
		"token_id":      token.ID,
		"token_name":    token.Name,
		"token_symbol":  token.Symbol,
		"token_address": address,
		"price_sonic":   token.PriceSonic.String(),
	}, nil
}

func mergeSwapQuote(_ map[string]string, res *dispatch.Result) (map[string]string, error) {
	estimated, err := decimal.NewFromString(res.Field("estimated_output"))
	if err != nil {
		return nil, fmt.Errorf("swap quote estimated_output %q: %w", res.Field("estimated_output"), err)
	}
	out := map[string]string{"estimated_output": estimated.String()}
	for _, key := range []string{"price_impact", "amount_out_usd", "gas_usd", "amount_out_wei"} {
		if v := res.Field(key); v != "" {
			out[key] = v
		}
	}
	return out, nil
}
