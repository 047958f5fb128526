package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	xerrors "SonicPilot/internal/errors"
	"SonicPilot/internal/wizard"
)

// SessionStoreConfig 描述 Redis 会话存储的连接参数。
type SessionStoreConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// SessionStore 使用 Redis 字符串保存向导会话。
type SessionStore struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
}

// NewSessionStore 创建 Redis 会话存储并验证连通性。
func NewSessionStore(ctx context.Context, cfg SessionStoreConfig) (*SessionStore, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "sonicpilot:session:"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &SessionStore{client: client, prefix: prefix, ttl: ttl}, nil
}

func (s *SessionStore) key(id string) string {
	return s.prefix + id
}

// Load 实现 wizard.SessionStore。内容无法解析时返回 SESSION_STATE 错误。
func (s *SessionStore) Load(ctx context.Context, id string) (*wizard.Session, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取会话失败")
	}
	sess, err := decode(data)
	if err != nil {
		return nil, err
	}
	sess.Key = id
	return sess, nil
}

// Save 实现 wizard.SessionStore，借助 WATCH 保证版本比较与写入的原子性。
func (s *SessionStore) Save(ctx context.Context, sess *wizard.Session) error {
	if sess == nil || sess.Key == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "session key is required")
	}
	key := s.key(sess.Key)

	txf := func(tx *goredis.Tx) error {
		current, err := storedVersion(ctx, tx, key)
		if err != nil {
			return err
		}
		if current != sess.Version {
			return wizard.ErrSessionConflict
		}
		next := sess.Clone()
		next.Version = current + 1
		data, err := json.Marshal(next)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化会话失败")
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		return err
	}

	if err := txError(s.client.Watch(ctx, txf, key), "写入会话失败"); err != nil {
		return err
	}
	sess.Version++
	return nil
}

// Delete 实现 wizard.SessionStore，仅当存储版本等于 version 时删除。
func (s *SessionStore) Delete(ctx context.Context, id string, version int64) error {
	key := s.key(id)
	txf := func(tx *goredis.Tx) error {
		current, err := storedVersion(ctx, tx, key)
		if err != nil {
			return err
		}
		if current != 0 && current != version {
			return wizard.ErrSessionConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		return err
	}
	return txError(s.client.Watch(ctx, txf, key), "删除会话失败")
}

// txError 将 WATCH 事务的结果映射为统一的错误码。
func txError(err error, message string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, goredis.TxFailedErr):
		return wizard.ErrSessionConflict
	case xerrors.IsCode(err, xerrors.CodeSessionConflict), xerrors.IsCode(err, xerrors.CodeStorageFailure):
		return err
	default:
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, message)
	}
}

// Ping 用于健康检查。
func (s *SessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close 关闭 Redis 连接。
func (s *SessionStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// storedVersion 返回当前版本，不存在或已损坏的记录视为版本 0，允许被覆盖。
func storedVersion(ctx context.Context, tx *goredis.Tx, key string) (int64, error) {
	data, err := tx.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取会话版本失败")
	}
	sess, err := decode(data)
	if err != nil {
		return 0, nil
	}
	return sess.Version, nil
}

func decode(data []byte) (*wizard.Session, error) {
	var sess wizard.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSessionState, err, "会话内容已损坏")
	}
	if sess.Answers == nil {
		sess.Answers = map[string]string{}
	}
	return &sess, nil
}

var _ wizard.SessionStore = (*SessionStore)(nil)
