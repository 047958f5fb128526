package assistant

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"SonicPilot/internal/catalog"
	xerrors "SonicPilot/internal/errors"
	"SonicPilot/internal/observability/alerting"
	"SonicPilot/internal/outcome"
	"SonicPilot/internal/storage/mysql"
	"SonicPilot/internal/web3"
	"SonicPilot/internal/wizard"
	"SonicPilot/pkg/logger"
)

// Identity 是网关透传的用户身份。
type Identity struct {
	UserID   string
	UserName string
	WalletID string
}

// Request 描述一次用户动作。
type Request struct {
	SessionKey string
	Flow       wizard.FlowID
	Action     string
	Payload    map[string]string
	Identity   Identity
}

// Recorder 接收向导推进的统计，通常由 metrics.Metrics 实现。
type Recorder interface {
	ObserveTransition(flow, result string)
	ObserveSessionConflict()
}

// Service 协调会话存储、向导引擎与结果落地，是系统的业务核心。
type Service struct {
	engine    *wizard.Engine
	sessions  wizard.SessionStore
	tokens    mysql.TokenRepository
	balances  web3.BalanceReader
	directory catalog.Directory
	publisher outcome.Publisher
	alerts    alerting.Dispatcher
	recorder  Recorder
	logger    *slog.Logger
	audit     *slog.Logger
	now       func() time.Time

	pendingTimeout time.Duration
}

// DefaultPendingTimeout 是处理中标记的默认有效期，超过后视为上一个请求已中断。
const DefaultPendingTimeout = 2 * time.Minute

// Option 定义可选的 Service 配置。
type Option func(*Service)

// WithTokenRepository 配置发行记录仓库，同时作为卖出持仓的来源。
func WithTokenRepository(repo mysql.TokenRepository) Option {
	return func(s *Service) { s.tokens = repo }
}

// WithBalanceReader 配置链上余额查询。
func WithBalanceReader(reader web3.BalanceReader) Option {
	return func(s *Service) { s.balances = reader }
}

// WithCatalog 配置代币目录。
func WithCatalog(directory catalog.Directory) Option {
	return func(s *Service) { s.directory = directory }
}

// WithPublisher 配置终态事件投递。
func WithPublisher(publisher outcome.Publisher) Option {
	return func(s *Service) { s.publisher = publisher }
}

// WithAlerts 配置告警分发器。
func WithAlerts(alerts alerting.Dispatcher) Option {
	return func(s *Service) { s.alerts = alerts }
}

// WithRecorder 配置指标记录。
func WithRecorder(recorder Recorder) Option {
	return func(s *Service) { s.recorder = recorder }
}

// WithLogger 替换默认日志。
func WithLogger(log *slog.Logger, audit *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.logger = log
		}
		if audit != nil {
			s.audit = audit
		}
	}
}

// WithClock 替换时钟，便于测试。
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithPendingTimeout 配置处理中标记的有效期，应大于最长的外部调用超时。
func WithPendingTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.pendingTimeout = d
		}
	}
}

// New 创建 Service。
func New(engine *wizard.Engine, sessions wizard.SessionStore, opts ...Option) (*Service, error) {
	if engine == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置向导引擎")
	}
	if sessions == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置会话存储")
	}
	svc := &Service{
		engine:   engine,
		sessions: sessions,
		logger:   logger.Named("assistant"),
		audit:    logger.Audit(),
		now:      time.Now,

		pendingTimeout: DefaultPendingTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc, nil
}

// Flows 返回可用的向导。
func (s *Service) Flows() []wizard.FlowID {
	return s.engine.Flows()
}

// Current 返回会话当前的提示，不修改会话。
func (s *Service) Current(ctx context.Context, key string, flow wizard.FlowID, id Identity) (wizard.Result, error) {
	ctx = logger.WithAttrs(ctx, slog.String("session_key", key), slog.String("flow", string(flow)))
	sess, err := s.load(ctx, key)
	if err != nil {
		return wizard.Result{}, err
	}
	return s.engine.Current(flow, sess, s.env(ctx, flow, id)), nil
}

// Advance 加载会话、推进向导并落地结果。
func (s *Service) Advance(ctx context.Context, req Request) (wizard.Result, error) {
	if strings.TrimSpace(req.SessionKey) == "" {
		return wizard.Result{}, xerrors.New(xerrors.CodeInvalidArgument, "session key is required")
	}
	ctx = logger.WithAttrs(ctx,
		slog.String("session_key", req.SessionKey),
		slog.String("flow", string(req.Flow)),
		slog.String("action", req.Action))
	sess, err := s.load(ctx, req.SessionKey)
	if err != nil {
		return wizard.Result{}, err
	}
	sess, err = s.claim(ctx, req, sess)
	if err != nil {
		return wizard.Result{}, err
	}

	res, next := s.engine.Advance(ctx, req.Flow, sess, s.env(ctx, req.Flow, req.Identity), req.Action, req.Payload)
	if err := s.persist(ctx, req.SessionKey, sess, res, next); err != nil {
		return wizard.Result{}, err
	}

	if s.recorder != nil {
		s.recorder.ObserveTransition(string(req.Flow), string(res.Kind))
	}
	if res.Terminal() {
		s.finish(ctx, req, res)
	}
	return res, nil
}

// ListLaunches 返回用户最近发行的代币。
func (s *Service) ListLaunches(ctx context.Context, userID string, limit int) ([]mysql.TokenRecord, error) {
	if s.tokens == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置发行记录仓库")
	}
	return s.tokens.ListByUser(ctx, userID, limit)
}

// Catalog 返回代币目录，可能为 nil。
func (s *Service) Catalog() catalog.Directory {
	return s.directory
}

// load 读取会话；数据损坏时返回一个占位会话，由引擎丢弃并重新开始。
func (s *Service) load(ctx context.Context, key string) (*wizard.Session, error) {
	if key == "" {
		return nil, nil
	}
	sess, err := s.sessions.Load(ctx, key)
	if err == nil {
		return sess, nil
	}
	if xerrors.IsCode(err, xerrors.CodeSessionState) {
		s.logger.WarnContext(ctx, "会话数据损坏，重新开始", slog.Any("error", err))
		return &wizard.Session{Key: key}, nil
	}
	return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取会话失败")
}

// claim 在推进已存储的会话之前写入处理中标记。标记与版本号一起写入，
// 同一会话的并发请求只有一个能通过，其余在调用外部服务之前得到 SESSION_CONFLICT。
func (s *Service) claim(ctx context.Context, req Request, sess *wizard.Session) (*wizard.Session, error) {
	if sess == nil || sess.Version == 0 {
		return sess, nil
	}
	now := s.now()
	if sess.Pending != "" && now.Sub(sess.PendingSince) < s.pendingTimeout {
		s.conflict()
		s.logger.InfoContext(ctx, "会话仍在处理上一个动作", slog.String("pending", sess.Pending))
		return nil, wizard.ErrSessionBusy
	}
	claimed := sess.Clone()
	claimed.Key = req.SessionKey
	claimed.Pending = req.Action
	claimed.PendingSince = now
	if err := s.sessions.Save(ctx, claimed); err != nil {
		return nil, s.saveError(err, "锁定会话失败")
	}
	return claimed, nil
}

// persist 按引擎约定写回会话，并清除 claim 写入的处理中标记。
func (s *Service) persist(ctx context.Context, key string, sess *wizard.Session, res wizard.Result, next *wizard.Session) error {
	if next == nil {
		var version int64
		if sess != nil {
			version = sess.Version
		}
		err := s.sessions.Delete(ctx, key, version)
		switch {
		case err == nil:
			return nil
		case xerrors.IsCode(err, xerrors.CodeSessionConflict):
			s.conflict()
			s.logger.WarnContext(ctx, "会话已被其它请求修改，保留新会话")
			return nil
		default:
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除会话失败")
		}
	}
	claimed := sess != nil && sess.Pending != ""
	if !claimed && res.Kind != wizard.ResultPrompt && !res.Discarded {
		return nil
	}
	next.Key = key
	next.Pending = ""
	next.PendingSince = time.Time{}
	if err := s.sessions.Save(ctx, next); err != nil {
		return s.saveError(err, "保存会话失败")
	}
	return nil
}

func (s *Service) saveError(err error, message string) error {
	if xerrors.IsCode(err, xerrors.CodeSessionConflict) {
		s.conflict()
		return err
	}
	return xerrors.Wrap(xerrors.CodeStorageFailure, err, message)
}

func (s *Service) conflict() {
	if s.recorder != nil {
		s.recorder.ObserveSessionConflict()
	}
}

// finish 处理终态：记录发行、投递事件、写审计日志并按需告警。
func (s *Service) finish(ctx context.Context, req Request, res wizard.Result) {
	at := s.now()
	if res.Kind == wizard.ResultSuccess && req.Flow == wizard.FlowLaunch {
		s.recordLaunch(ctx, req.Identity, res, at)
	}

	kind := outcome.KindSuccess
	switch res.Kind {
	case wizard.ResultFailure:
		kind = outcome.KindFailure
	case wizard.ResultCancelled:
		kind = outcome.KindCancelled
	}

	s.audit.InfoContext(ctx, "wizard outcome",
		slog.String("flow", string(req.Flow)),
		slog.String("kind", string(kind)),
		slog.String("step", res.StepID),
		slog.String("session_key", req.SessionKey),
		slog.String("user_id", req.Identity.UserID),
		slog.String("code", string(res.Code)),
	)

	if s.publisher != nil {
		event := outcome.NewEvent(string(req.Flow), kind, res.StepID, at)
		event.SessionKey = req.SessionKey
		event.UserID = req.Identity.UserID
		event.Code = string(res.Code)
		event.Message = res.Message
		event.Data = res.Data
		event.Answers = res.Answers
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.WarnContext(ctx, "投递终态事件失败", slog.Any("error", err))
		}
	}

	if res.Kind == wizard.ResultFailure && res.Cause != nil && s.alerts != nil && xerrors.ShouldAlert(res.Cause) {
		event := alerting.EventFromError(res.Cause, at)
		event.Flow = string(req.Flow)
		event.Step = res.StepID
		event.SessionKey = req.SessionKey
		event.UserID = req.Identity.UserID
		if err := s.alerts.Notify(ctx, event); err != nil {
			s.logger.WarnContext(ctx, "发送告警失败", slog.Any("error", err))
		}
	}
}

func (s *Service) recordLaunch(ctx context.Context, id Identity, res wizard.Result, at time.Time) {
	if s.tokens == nil {
		return
	}
	record := &mysql.TokenRecord{
		UserID:          id.UserID,
		Wallet:          id.WalletID,
		Name:            res.Answers["token_name"],
		Symbol:          res.Answers["token_symbol"],
		ContractAddress: res.Value("contract_address"),
		InitialBuy:      decimalOrZero(res.Answers["amount"]),
		TokensReceived:  decimalOrZero(res.Value("tokens_received")),
		TxURL:           res.Value("explorer_url"),
		ImageRef:        res.Answers["image"],
		Description:     res.Answers["description"],
		CreatedAt:       at.Unix(),
	}
	if err := s.tokens.Create(ctx, record); err != nil {
		s.logger.ErrorContext(ctx, "保存发行记录失败",
			slog.String("user_id", id.UserID),
			slog.String("symbol", record.Symbol),
			slog.Any("error", err))
	}
}

func decimalOrZero(raw string) decimal.Decimal {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero
	}
	return value
}
