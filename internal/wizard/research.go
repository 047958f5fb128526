package wizard

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/tidwall/gjson"

	"SonicPilot/internal/dispatch"
)

const researchSystemPrompt = "You are a crypto market analyst covering the Sonic chain. " +
	"Reply with a JSON object with the keys summary (a short paragraph) and tokens " +
	"(an array of objects with the keys symbol and insight)."

// ResearchFlow 构造市场研究向导。
func ResearchFlow(cfg FlowConfig) *Flow {
	cfg = cfg.withDefaults()
	return mustFlow(FlowResearch, "Research the market", "topic",
		&Step{
			ID:             "topic",
			Kind:           PromptStep,
			ExpectedAction: "research",
			Prompt:         "What would you like to know about the Sonic market, {user_name}?",
			Choices: func(View) []Choice {
				return []Choice{
					fixedChoice("Market overview", "research", nil),
					customChoice("Ask a question", "research", "query"),
				}
			},
			Validate: func(in Input) (map[string]string, error) {
				query := strings.TrimSpace(in.Payload["query"])
				if utf8.RuneCountInString(query) > MaxDescriptionLength {
					return nil, invalid("query", fmt.Sprintf("Question must be %d characters or fewer", MaxDescriptionLength))
				}
				return map[string]string{"query": query}, nil
			},
			Next: goTo("analyze"),
		},
		&Step{
			ID:       "analyze",
			Kind:     DispatchStep,
			Terminal: true,
			Request: func(v View) (dispatch.Request, error) {
				return dispatch.Request{
					Kind: dispatch.KindAIComplete,
					Completion: &dispatch.Completion{
						Model:       cfg.ResearchModel,
						System:      researchSystemPrompt,
						Prompt:      researchPrompt(cfg, v),
						Temperature: 1,
						MaxTokens:   2048,
						JSONObject:  true,
					},
				}, nil
			},
			FailureMessage: "The market analysis couldn't be generated. Please try again.",
			Success:        researchSuccess,
		},
	)
}

func researchPrompt(cfg FlowConfig, v View) string {
	var b strings.Builder
	if q := v.Answers["query"]; q != "" {
		b.WriteString("Question: ")
		b.WriteString(q)
	} else {
		b.WriteString("Give a short overview of the current Sonic market.")
	}
	if v.Env.Catalog == nil {
		return b.String()
	}
	leaders := v.Env.Catalog.Leaders(cfg.ResearchMinMarketCap, cfg.ResearchLimit)
	if len(leaders) == 0 {
		return b.String()
	}
	b.WriteString("\n\nLargest tokens by market cap:")
	for _, token := range leaders {
		b.WriteString(fmt.Sprintf("\n- %s (%s): price %s S, market cap %s", token.Name, token.Symbol,
			token.PriceSonic.String(), humanize.Comma(token.MarketCap.IntPart())))
	}
	return b.String()
}

func researchSuccess(_ View, res *dispatch.Result) string {
	summary := strings.TrimSpace(res.Field("summary"))
	if summary == "" {
		summary = "No summary was returned."
	}
	var b strings.Builder
	b.WriteString("📊 ")
	b.WriteString(summary)
	tokens := res.Field("tokens")
	if gjson.Valid(tokens) {
		gjson.Parse(tokens).ForEach(func(_, item gjson.Result) bool {
			symbol := item.Get("symbol").String()
			insight := item.Get("insight").String()
			if symbol != "" && insight != "" {
				b.WriteString("\n• " + symbol + ": " + insight)
			}
			return true
		})
	}
	return b.String()
}
