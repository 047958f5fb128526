package dispatch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

const (
	defaultQuoteBaseURL = "https://aggregator-api.kyberswap.com"
	defaultQuoteChain   = "sonic"
	defaultQuoteTimeout = 15 * time.Second

	// tokenDecimals 是报价接口金额使用的精度。
	tokenDecimals = 18
)

// QuoteConfig 描述兑换路由报价服务。
type QuoteConfig struct {
	BaseURL     string
	Chain       string
	NativeToken string
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// QuoteClient 调用聚合器 routes 接口获取兑换报价。
type QuoteClient struct {
	baseURL     string
	chain       string
	nativeToken string
	timeout     time.Duration
	httpClient  *http.Client
}

// NewQuoteClient 创建报价客户端。
func NewQuoteClient(cfg QuoteConfig) *QuoteClient {
	client := &QuoteClient{
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		chain:       strings.TrimSpace(cfg.Chain),
		nativeToken: strings.TrimSpace(cfg.NativeToken),
		timeout:     cfg.Timeout,
		httpClient:  cfg.HTTPClient,
	}
	if client.baseURL == "" {
		client.baseURL = defaultQuoteBaseURL
	}
	if client.chain == "" {
		client.chain = defaultQuoteChain
	}
	if client.nativeToken == "" {
		client.nativeToken = NativeToken
	}
	if client.timeout <= 0 {
		client.timeout = defaultQuoteTimeout
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{}
	}
	return client
}

// Dispatch 实现 Dispatcher，Query 需包含 token_out 与 amount，token_in 缺省为原生代币。
func (c *QuoteClient) Dispatch(ctx context.Context, req Request) (*Result, error) {
	if req.Kind != KindGetSwapQuote {
		return nil, protocolError(req.Kind, nil, fmt.Sprintf("quote provider does not handle %s", req.Kind))
	}

	tokenIn := req.Query["token_in"]
	if tokenIn == "" {
		tokenIn = c.nativeToken
	}
	tokenOut := req.Query["token_out"]
	amount, err := decimal.NewFromString(req.Query["amount"])
	if err != nil || tokenOut == "" || !amount.IsPositive() {
		return nil, protocolError(req.Kind, err, "quote request requires token_out and a positive amount")
	}
	amountIn := amount.Shift(tokenDecimals).Truncate(0)

	query := url.Values{}
	query.Set("tokenIn", tokenIn)
	query.Set("tokenOut", tokenOut)
	query.Set("amountIn", amountIn.String())
	query.Set("gasInclude", "true")
	endpoint := fmt.Sprintf("%s/%s/api/v1/routes?%s", c.baseURL, c.chain, query.Encode())

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, protocolError(req.Kind, err, "build quote request")
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportError(req.Kind, err, "quote fetch failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAgentBody))
	if err != nil {
		return nil, transportError(req.Kind, err, "quote fetch failed")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, protocolError(req.Kind, nil, fmt.Sprintf("quote fetch failed: status %d", resp.StatusCode))
	}
	if !gjson.ValidBytes(body) {
		return nil, protocolError(req.Kind, nil, "quote fetch failed: malformed body")
	}

	summary := gjson.GetBytes(body, "data.routeSummary")
	amountOutRaw := summary.Get("amountOut")
	if !amountOutRaw.Exists() {
		return nil, protocolError(req.Kind, nil, "quote fetch failed: missing amountOut")
	}
	amountOut, err := decimal.NewFromString(amountOutRaw.String())
	if err != nil {
		return nil, protocolError(req.Kind, err, "quote fetch failed: amountOut is not numeric")
	}

	fields := map[string]string{
		"amount_in_wei":    amountIn.String(),
		"amount_out_wei":   amountOut.String(),
		"estimated_output": amountOut.Shift(-tokenDecimals).String(),
		"price_impact":     summary.Get("priceImpact").String(),
		"token_in":         tokenIn,
		"token_out":        tokenOut,
	}
	if usd := summary.Get("amountOutUsd"); usd.Exists() {
		fields["amount_out_usd"] = usd.String()
	}
	if gas := summary.Get("gasUsd"); gas.Exists() {
		fields["gas_usd"] = gas.String()
	}
	return &Result{Kind: req.Kind, Fields: fields, Raw: []byte(summary.Raw)}, nil
}

var _ Dispatcher = (*QuoteClient)(nil)
