package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"SonicPilot/internal/api"
	"SonicPilot/internal/assistant"
	"SonicPilot/internal/catalog"
	"SonicPilot/internal/config"
	"SonicPilot/internal/dispatch"
	"SonicPilot/internal/llm/openai"
	"SonicPilot/internal/observability/alerting"
	"SonicPilot/internal/observability/metrics"
	"SonicPilot/internal/outcome"
	"SonicPilot/internal/storage/mysql"
	"SonicPilot/internal/storage/redis"
	"SonicPilot/internal/web3/ethereum"
	"SonicPilot/internal/wizard"
	"SonicPilot/pkg/logger"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP wizard API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig("sonicpilotd")
			if err != nil {
				return err
			}
			defer logger.Sync()
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logger.L()
	m := metrics.New()

	directory, err := catalog.Load(cfg.Catalog.Source)
	if err != nil {
		return err
	}
	log.Info("代币目录已加载", slog.Int("tokens", directory.Len()), slog.String("source", cfg.Catalog.Source))

	dispatcher, err := buildDispatcher(cfg, m, log)
	if err != nil {
		return err
	}

	dispatchTimeout := longest(cfg.Agent.Timeout(), cfg.Quote.Timeout(), cfg.LLM.Timeout())
	engine, err := wizard.NewEngine(dispatcher,
		wizard.WithFlows(wizard.DefaultFlows(wizard.FlowConfig{
			LaunchModel:          cfg.LLM.LaunchModel,
			ResearchModel:        cfg.LLM.ResearchModel,
			ResearchMinMarketCap: decimal.NewFromInt(1_000_000),
			SwapTopTokens:        cfg.Catalog.TopN,
		})...),
		wizard.WithLogger(logger.Named("wizard")),
		wizard.WithDispatchTimeout(dispatchTimeout),
	)
	if err != nil {
		return err
	}

	var checks []api.Option

	var sessions wizard.SessionStore
	switch cfg.Session.Driver {
	case "redis":
		store, err := redis.NewSessionStore(ctx, redis.SessionStoreConfig{
			Address:  cfg.Session.Redis.Address,
			Password: cfg.Session.Redis.Password,
			DB:       cfg.Session.Redis.DB,
			Prefix:   cfg.Session.Redis.Prefix,
			TTL:      cfg.Session.TTL(),
		})
		if err != nil {
			return err
		}
		defer store.Close()
		sessions = store
		checks = append(checks, api.WithHealthCheck("sessions", store.Ping))
	default:
		sessions = wizard.NewMemorySessionStore()
	}

	var tokens mysql.TokenRepository
	switch cfg.Storage.TokenStore.Driver {
	case "mysql":
		repo, err := mysql.NewSQLTokenRepository(ctx, mysqlConfig(cfg.Storage.TokenStore))
		if err != nil {
			return err
		}
		defer repo.Close()
		tokens = repo
		checks = append(checks, api.WithHealthCheck("token_store", repo.Ping))
	default:
		repo, err := mysql.NewFileTokenRepository(cfg.Runtime.DataDir)
		if err != nil {
			return err
		}
		tokens = repo
	}

	opts := []assistant.Option{
		assistant.WithTokenRepository(tokens),
		assistant.WithCatalog(directory),
		assistant.WithRecorder(m),
		assistant.WithLogger(logger.Named("assistant"), logger.Audit()),
		assistant.WithPendingTimeout(2 * dispatchTimeout),
	}

	if cfg.Web3.RPCURL != "" {
		chain, err := ethereum.NewClient(ctx, ethereum.Config{RPCURL: cfg.Web3.RPCURL})
		if err != nil {
			return err
		}
		defer chain.Close()
		if snapshot, err := chain.FetchChainSnapshot(ctx); err == nil {
			log.Info("已连接链节点", slog.String("chain_id", snapshot.ChainID), slog.String("block", snapshot.BlockNumber))
		} else {
			log.Warn("读取链状态失败", slog.Any("error", err))
		}
		opts = append(opts, assistant.WithBalanceReader(chain))
		checks = append(checks, api.WithHealthCheck("chain", func(ctx context.Context) error {
			_, err := chain.FetchChainSnapshot(ctx)
			return err
		}))
	}

	queue, err := outcome.Open(ctx, cfg.Outcomes)
	if err != nil {
		return err
	}
	defer func() {
		if err := queue.Close(); err != nil {
			log.Warn("关闭事件队列失败", slog.Any("error", err))
		}
	}()
	opts = append(opts, assistant.WithPublisher(queue))
	if memory, ok := queue.(*outcome.MemoryQueue); ok {
		// 内存队列没有外部消费者，进程内直接记录终态事件。
		go func() {
			if err := memory.Consume(ctx, logOutcome(logger.Named("outcomes"))); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn("事件消费退出", slog.Any("error", err))
			}
		}()
	}

	notifiers := []alerting.Notifier{&alerting.LogNotifier{Logger: logger.Named("alerts")}}
	if cfg.Alerting.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{
			URL:    cfg.Alerting.WebhookURL,
			Client: &http.Client{Timeout: 10 * time.Second},
		})
	}
	opts = append(opts, assistant.WithAlerts(alerting.NewFanout(notifiers...)))

	svc, err := assistant.New(engine, sessions, opts...)
	if err != nil {
		return err
	}

	serverOpts := append([]api.Option{
		api.WithMetrics(m),
		api.WithSessionCookie(cfg.Server.SessionCookie, cfg.Server.SecureCookie),
		api.WithRateLimit(cfg.Server.RequestsPerMin, cfg.Server.Burst),
		api.WithTokenLimit(cfg.Catalog.TopN),
		api.WithLogger(logger.Named("http")),
	}, checks...)
	server := api.NewServer(cfg.Server.Address, svc, serverOpts...)

	log.Info("SonicPilot 服务启动", slog.String("address", cfg.Server.Address),
		slog.String("sessions", cfg.Session.Driver),
		slog.String("token_store", cfg.Storage.TokenStore.Driver),
		slog.String("outcomes", cfg.Outcomes.Driver))
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// buildDispatcher 组装执行代理、报价服务与大模型三类外部调用。
func buildDispatcher(cfg *config.Config, m *metrics.Metrics, log *slog.Logger) (dispatch.Dispatcher, error) {
	router := dispatch.NewRouter()

	agent, err := dispatch.NewAgentClient(dispatch.AgentConfig{
		URL:        cfg.Agent.URL,
		Connection: cfg.Agent.Connection,
		Timeout:    cfg.Agent.Timeout(),
	})
	if err != nil {
		return nil, err
	}
	router.Handle(dispatch.NewBreaker("agent", agent, breakerConfig(cfg.Agent.Breaker), log), agent.Kinds()...)

	quotes := dispatch.NewQuoteClient(dispatch.QuoteConfig{
		BaseURL:     cfg.Quote.BaseURL,
		Chain:       cfg.Quote.Chain,
		NativeToken: cfg.Quote.NativeToken,
		Timeout:     cfg.Quote.Timeout(),
	})
	router.Handle(dispatch.NewBreaker("quote", quotes, breakerConfig(cfg.Quote.Breaker), log), dispatch.KindGetSwapQuote)

	switch cfg.LLM.Provider {
	case "openai":
		apiKey := cfg.LLM.ResolveAPIKey()
		if apiKey == "" {
			log.Warn("未配置大模型 API Key，AI 生成与市场研究将不可用", slog.String("api_key_env", cfg.LLM.APIKeyEnv))
			break
		}
		client, err := openai.NewClient(openai.Config{
			APIKey:  apiKey,
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.LaunchModel,
			Timeout: cfg.LLM.Timeout(),
		})
		if err != nil {
			return nil, err
		}
		router.Handle(dispatch.NewCompleter(client, cfg.LLM.Timeout()), dispatch.KindAIComplete)
	case "none":
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}

	return dispatch.Instrument(router, m), nil
}

func breakerConfig(cfg config.BreakerConfig) dispatch.BreakerConfig {
	return dispatch.BreakerConfig{
		MaxFailures: cfg.MaxFailures,
		Open:        time.Duration(cfg.OpenSeconds) * time.Second,
		Interval:    time.Duration(cfg.IntervalSeconds) * time.Second,
	}
}

func longest(values ...time.Duration) time.Duration {
	var out time.Duration
	for _, v := range values {
		if v > out {
			out = v
		}
	}
	return out
}
