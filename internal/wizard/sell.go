package wizard

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"SonicPilot/internal/dispatch"
)

var (
	sellPresets  = []int64{250, 500, 1000}
	minOutFactor = decimal.RequireFromString("0.99")
)

// SellFlow 构造卖出持仓向导。
func SellFlow(FlowConfig) *Flow {
	return mustFlow(FlowSell, "Sell a token", "select",
		&Step{
			ID:             "select",
			Kind:           PromptStep,
			ExpectedAction: "select_token",
			Content: func(v View) string {
				if len(v.Env.Holdings) == 0 {
					return "You don't hold any tokens that can be sold yet."
				}
				return "Which token would you like to sell?"
			},
			Choices: func(v View) []Choice {
				choices := make([]Choice, 0, len(v.Env.Holdings))
				for _, h := range v.Env.Holdings {
					label := fmt.Sprintf("%s (%s)", h.Name, h.Symbol)
					choices = append(choices, fixedChoice(label, "select_token", map[string]string{"token_id": h.TokenID}))
				}
				return choices
			},
			Validate: func(in Input) (map[string]string, error) {
				id, err := Required(in.Payload, "token_id", "Token")
				if err != nil {
					return nil, err
				}
				h, ok := in.Env.holding(id)
				if !ok {
					return nil, invalid("token_id", "You don't hold that token")
				}
				if !h.Balance.IsPositive() {
					return nil, invalid("token_id", fmt.Sprintf("You don't have any %s to sell", h.Symbol))
				}
				return map[string]string{
					"token_id":      h.TokenID,
					"token_name":    h.Name,
					"token_symbol":  h.Symbol,
					"token_address": h.Address,
					"balance":       h.Balance.String(),
				}, nil
			},
			Next: goTo("amount"),
		},
		&Step{
			ID:             "amount",
			Kind:           PromptStep,
			ExpectedAction: "process_amount",
			Prompt:         "How many {token_symbol} would you like to sell? You hold {balance}.",
			Choices: func(v View) []Choice {
				balance, _ := decimal.NewFromString(v.Answers["balance"])
				choices := make([]Choice, 0, len(sellPresets)+1)
				for _, preset := range sellPresets {
					amount := decimal.NewFromInt(preset)
					if amount.GreaterThan(balance) {
						continue
					}
					choices = append(choices, fixedChoice(amount.String(), "process_amount", map[string]string{"amount": amount.String()}))
				}
				return append(choices, customChoice("Custom", "process_amount", "amount"))
			},
			Validate: func(in Input) (map[string]string, error) {
				amount, err := Amount("amount", in.Payload["amount"])
				if err != nil {
					return nil, err
				}
				balance, err := decimal.NewFromString(in.Answers["balance"])
				if err != nil {
					return nil, invalid("amount", "Your balance is unavailable. Please start over.")
				}
				if amount.GreaterThan(balance) {
					return nil, invalid("amount", fmt.Sprintf("You only hold %s %s", balance.String(), in.Answers["token_symbol"]))
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
					Kind:   dispatch.KindGetSellQuote,
					Params: []string{v.Answers["token_address"], v.Answers["amount"]},
				}, nil
			},
			Merge: mergeSellQuote,
			Next:  goTo("confirm"),
		},
		&Step{
			ID:             "confirm",
			Kind:           PromptStep,
			ExpectedAction: "execute_sell",
			Content:        sellSummary,
			Choices:        yesNo("execute_sell"),
			Validate:       confirmation,
			Next:           confirmed("execute", StepCancelled),
		},
		&Step{
			ID:       "execute",
			Kind:     DispatchStep,
			Terminal: true,
			Request: func(v View) (dispatch.Request, error) {
				wallet, err := requireWallet(v)
				if err != nil {
					return dispatch.Request{}, err
				}
				a := v.Answers
				return dispatch.Request{
					Kind:   dispatch.KindExecuteSell,
					Params: []string{a["token_address"], a["amount"], a["min_output"], wallet},
				}, nil
			},
			Success: func(v View, res *dispatch.Result) string {
				var b strings.Builder
				b.WriteString(fmt.Sprintf("✅ Sold %s %s.", v.Answers["amount"], v.Answers["token_symbol"]))
				appendLine(&b, "Received", suffix(resultValue(res, "amount_received"), " S"))
				appendLine(&b, "Transaction", resultValue(res, "explorer_url"))
				return b.String()
			},
		},
	)
}

// mergeSellQuote 提取报价；上游未给出最小成交量时按预估值的 99% 计算。
func mergeSellQuote(_ map[string]string, res *dispatch.Result) (map[string]string, error) {
	estimated, err := decimal.NewFromString(res.Field("estimated_output"))
	if err != nil {
		return nil, fmt.Errorf("sell quote estimated_output %q: %w", res.Field("estimated_output"), err)
	}
	minOut := estimated.Mul(minOutFactor)
	if raw := res.Field("min_output"); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("sell quote min_output %q: %w", raw, err)
		}
		minOut = parsed
	}
	out := map[string]string{
		"estimated_output": estimated.String(),
		"min_output":       minOut.String(),
	}
	for _, key := range []string{"price_impact", "fee", "market_cap"} {
		if v := res.Field(key); v != "" {
			out[key] = v
		}
	}
	return out, nil
}

func sellSummary(v View) string {
	a := v.Answers
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Sell %s %s?", a["amount"], a["token_symbol"]))
	appendLine(&b, "Estimated output", suffix(a["estimated_output"], " S"))
	appendLine(&b, "Minimum received", suffix(a["min_output"], " S"))
	appendLine(&b, "Price impact", suffix(a["price_impact"], "%"))
	appendLine(&b, "Fee", a["fee"])
	return b.String()
}

func suffix(value, unit string) string {
	if value == "" {
		return ""
	}
	return value + unit
}
