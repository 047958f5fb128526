package wizard

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"SonicPilot/internal/dispatch"
)

// FlowConfig 汇总内置向导的可调参数。
type FlowConfig struct {
	LaunchModel          string
	ResearchModel        string
	ResearchLimit        int
	ResearchMinMarketCap decimal.Decimal
	SwapTopTokens        int
}

func (c FlowConfig) withDefaults() FlowConfig {
	if c.LaunchModel == "" {
		c.LaunchModel = "gpt-4o-mini"
	}
	if c.ResearchModel == "" {
		c.ResearchModel = c.LaunchModel
	}
	if c.ResearchLimit <= 0 {
		c.ResearchLimit = 5
	}
	if !c.ResearchMinMarketCap.IsPositive() {
		c.ResearchMinMarketCap = decimal.NewFromInt(1_000_000)
	}
	if c.SwapTopTokens <= 0 {
		c.SwapTopTokens = 6
	}
	return c
}

// DefaultFlows 返回内置的四个向导。
func DefaultFlows(cfg FlowConfig) []*Flow {
	cfg = cfg.withDefaults()
	return []*Flow{
		LaunchFlow(cfg),
		SellFlow(cfg),
		SwapFlow(cfg),
		ResearchFlow(cfg),
	}
}

// resultValue 读取分发结果中的字段；字段缺失时尝试从 result 字段内嵌的 JSON 中查找。
func resultValue(res *dispatch.Result, key string) string {
	if v := res.Field(key); v != "" {
		return v
	}
	nested := res.Field("result")
	if nested == "" || !gjson.Valid(nested) {
		return ""
	}
	return gjson.Get(nested, key).String()
}

// requireWallet 在提交链上交易前确认用户已绑定钱包。
func requireWallet(v View) (string, error) {
	wallet := strings.TrimSpace(v.Env.WalletID)
	if wallet == "" {
		return "", invalid("wallet", "Connect a wallet before submitting a transaction.")
	}
	return wallet, nil
}

func customChoice(label, action, field string) Choice {
	return Choice{Label: label, Action: action, Custom: true, Field: field}
}

func fixedChoice(label, action string, values map[string]string) Choice {
	return Choice{Label: label, Action: action, Values: values}
}

func appendLine(b *strings.Builder, label, value string) {
	if value == "" {
		return
	}
	b.WriteString("\n")
	b.WriteString(label)
	b.WriteString(": ")
	b.WriteString(value)
}

// Value 读取终态结果中的字段，兼容上游把回执包在 result 字符串里的情况。
func (r Result) Value(key string) string {
	return resultValue(&dispatch.Result{Fields: r.Data}, key)
}
