package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	xerrors "SonicPilot/internal/errors"
)

// Token 描述目录中一枚可交易代币的行情信息。
type Token struct {
	ID         string          `json:"id" yaml:"id"`
	Name       string          `json:"name" yaml:"name"`
	Symbol     string          `json:"symbol" yaml:"symbol"`
	Address    string          `json:"address" yaml:"address"`
	PriceSonic decimal.Decimal `json:"price_sonic" yaml:"price_sonic"`
	MarketCap  decimal.Decimal `json:"market_cap" yaml:"market_cap"`
	Verified   bool            `json:"verified" yaml:"verified"`
}

// Directory 定义向导查询代币目录所需的能力。
type Directory interface {
	Get(id string) (Token, bool)
	Resolve(query string) (Token, error)
	Leaders(minMarketCap decimal.Decimal, limit int) []Token
	Top(limit int) []Token
}

// Catalog 是加载自 YAML/JSON 文件的静态代币目录。
type Catalog struct {
	tokens []Token
	byID   map[string]int
}

// New 基于给定条目创建目录，缺少 ID 的条目使用符号作为 ID。
func New(tokens []Token) *Catalog {
	c := &Catalog{byID: make(map[string]int, len(tokens))}
	for _, token := range tokens {
		token.Symbol = strings.ToUpper(strings.TrimSpace(token.Symbol))
		if token.ID == "" {
			token.ID = strings.ToLower(token.Symbol)
		}
		if _, exists := c.byID[token.ID]; exists {
			continue
		}
		c.byID[token.ID] = len(c.tokens)
		c.tokens = append(c.tokens, token)
	}
	return c
}

// Load 从文件加载代币目录，路径为空时返回空目录。
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return New(nil), nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取代币目录失败: %w", err)
	}

	var doc struct {
		Tokens []Token `json:"tokens" yaml:"tokens"`
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(content, &doc)
	default:
		err = yaml.Unmarshal(content, &doc)
	}
	if err != nil {
		return nil, fmt.Errorf("解析代币目录失败: %w", err)
	}
	return New(doc.Tokens), nil
}

// Len 返回目录条目数量。
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.tokens)
}

// Get 按 ID 查找代币。
func (c *Catalog) Get(id string) (Token, bool) {
	if c == nil {
		return Token{}, false
	}
	idx, ok := c.byID[strings.TrimSpace(id)]
	if !ok {
		return Token{}, false
	}
	return c.tokens[idx], true
}

// Resolve 依次按 ID、地址、符号、名称片段匹配代币，要求结果唯一。
func (c *Catalog) Resolve(query string) (Token, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Token{}, xerrors.New(xerrors.CodeInvalidArgument, "search query is required")
	}
	if token, ok := c.Get(query); ok {
		return token, nil
	}
	if c == nil {
		return Token{}, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("no token matches %q", query))
	}

	lowered := strings.ToLower(query)
	for _, token := range c.tokens {
		if token.Address != "" && strings.EqualFold(token.Address, query) {
			return token, nil
		}
	}

	if match, err := c.unique(query, func(t Token) bool { return strings.EqualFold(t.Symbol, query) }); match != nil || err != nil {
		return deref(match), err
	}
	if match, err := c.unique(query, func(t Token) bool { return strings.Contains(strings.ToLower(t.Name), lowered) }); match != nil || err != nil {
		return deref(match), err
	}
	return Token{}, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("no token matches %q", query))
}

func (c *Catalog) unique(query string, pred func(Token) bool) (*Token, error) {
	var matches []Token
	for _, token := range c.tokens {
		if pred(token) {
			matches = append(matches, token)
		}
	}
	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
		return &matches[0], nil
	default:
		symbols := make([]string, 0, len(matches))
		for _, m := range matches {
			symbols = append(symbols, m.Symbol)
		}
		return nil, xerrors.New(xerrors.CodeConflict,
			fmt.Sprintf("%q matches several tokens (%s), please be more specific", query, strings.Join(symbols, ", ")))
	}
}

func deref(t *Token) Token {
	if t == nil {
		return Token{}
	}
	return *t
}

// Leaders 返回市值严格大于阈值的代币，按市值降序。
func (c *Catalog) Leaders(minMarketCap decimal.Decimal, limit int) []Token {
	return c.ranked(limit, func(t Token) bool { return t.MarketCap.GreaterThan(minMarketCap) })
}

// Top 返回已验证代币中市值最高的若干条。
func (c *Catalog) Top(limit int) []Token {
	return c.ranked(limit, func(t Token) bool { return t.Verified })
}

func (c *Catalog) ranked(limit int, keep func(Token) bool) []Token {
	if c == nil {
		return nil
	}
	results := make([]Token, 0, len(c.tokens))
	for _, token := range c.tokens {
		if keep(token) {
			results = append(results, token)
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].MarketCap.GreaterThan(results[j].MarketCap)
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

var _ Directory = (*Catalog)(nil)
