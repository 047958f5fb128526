package wizard

import (
	"context"
	"sync"

	xerrors "SonicPilot/internal/errors"
)

// ErrSessionConflict 表示保存时发现会话已被其它请求修改。
var ErrSessionConflict = xerrors.New(xerrors.CodeSessionConflict, "wizard session was modified by another request")

// ErrSessionBusy 表示同一会话的上一个动作仍在处理。
var ErrSessionBusy = xerrors.New(xerrors.CodeSessionConflict, "wizard session is still processing another action")

// SessionStore 持久化向导会话。
//
// Load 在会话不存在时返回 (nil, nil)。Save 以 Version 做乐观并发控制：
// 存储中的版本（不存在时视为 0）必须等于传入会话的 Version，成功后版本加一并回写到 sess。
// Delete 同样比较版本，记录已不存在时视为成功。
type SessionStore interface {
	Load(ctx context.Context, key string) (*Session, error)
	Save(ctx context.Context, sess *Session) error
	Delete(ctx context.Context, key string, version int64) error
}

// MemorySessionStore 是进程内实现，适合单实例部署与测试。
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewMemorySessionStore 创建空的内存会话存储。
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*Session)}
}

// Load 实现 SessionStore。
func (s *MemorySessionStore) Load(_ context.Context, key string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[key].Clone(), nil
}

// Save 实现 SessionStore。
func (s *MemorySessionStore) Save(_ context.Context, sess *Session) error {
	if sess == nil || sess.Key == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "session key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	if existing, ok := s.sessions[sess.Key]; ok {
		current = existing.Version
	}
	if current != sess.Version {
		return ErrSessionConflict
	}
	sess.Version++
	s.sessions[sess.Key] = sess.Clone()
	return nil
}

// Delete 实现 SessionStore。
func (s *MemorySessionStore) Delete(_ context.Context, key string, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[key]; ok && existing.Version != version {
		return ErrSessionConflict
	}
	delete(s.sessions, key)
	return nil
}

var _ SessionStore = (*MemorySessionStore)(nil)
