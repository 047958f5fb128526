package mysql

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	xerrors "SonicPilot/internal/errors"
)

// TokenRecord 表示一次成功发行的代币。
type TokenRecord struct {
	ID              int64           `json:"id"`
	UserID          string          `json:"user_id"`
	Wallet          string          `json:"wallet"`
	Name            string          `json:"name"`
	Symbol          string          `json:"symbol"`
	ContractAddress string          `json:"contract_address"`
	InitialBuy      decimal.Decimal `json:"initial_buy"`
	TokensReceived  decimal.Decimal `json:"tokens_received"`
	TxURL           string          `json:"tx_url"`
	ImageRef        string          `json:"image_ref"`
	Description     string          `json:"description"`
	CreatedAt       int64           `json:"created_at"`
}

// TokenRepository 抽象发行记录的持久化。
type TokenRepository interface {
	Create(ctx context.Context, record *TokenRecord) error
	Get(ctx context.Context, id int64) (*TokenRecord, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]TokenRecord, error)
}

const defaultListLimit = 50

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return defaultListLimit
	}
	return limit
}

// FileTokenRepository 以 JSON 行追加写入本地文件，适合单机部署。
type FileTokenRepository struct {
	mu       sync.RWMutex
	dataFile string
	records  []TokenRecord
	nextID   int64
}

// NewFileTokenRepository 创建文件仓库并从磁盘恢复历史记录。
func NewFileTokenRepository(dataDir string) (*FileTokenRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	repo := &FileTokenRepository{dataFile: filepath.Join(dataDir, "launched_tokens.log"), nextID: 1}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Create 追加一条记录并分配 ID。
func (m *FileTokenRepository) Create(_ context.Context, record *TokenRecord) error {
	if record == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "token record is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *record
	stored.ID = m.nextID
	encoded, err := json.Marshal(stored)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化发行记录失败")
	}

	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开发行日志失败")
	}
	defer file.Close()
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入发行日志失败")
	}

	m.records = append(m.records, stored)
	m.nextID++
	record.ID = stored.ID
	return nil
}

// Get 按 ID 查找记录。
func (m *FileTokenRepository) Get(_ context.Context, id int64) (*TokenRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.records {
		if m.records[i].ID == id {
			record := m.records[i]
			return &record, nil
		}
	}
	return nil, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("launched token %d not found", id))
}

// ListByUser 返回用户最近的发行记录，按时间倒序。
func (m *FileTokenRepository) ListByUser(_ context.Context, userID string, limit int) ([]TokenRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []TokenRecord
	for _, record := range m.records {
		if record.UserID == userID {
			results = append(results, record)
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].CreatedAt == results[j].CreatedAt {
			return results[i].ID > results[j].ID
		}
		return results[i].CreatedAt > results[j].CreatedAt
	})
	if limit = normalizeLimit(limit); len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (m *FileTokenRepository) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取发行日志失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var record TokenRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		m.records = append(m.records, record)
		if record.ID >= m.nextID {
			m.nextID = record.ID + 1
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析发行日志失败: %w", err)
	}
	return nil
}

// SQLTokenRepository 使用 MySQL 存储发行记录。
type SQLTokenRepository struct {
	db *sql.DB
}

// NewSQLTokenRepository 创建连接池并执行迁移。
func NewSQLTokenRepository(ctx context.Context, cfg Config) (*SQLTokenRepository, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLTokenRepository{db: db}, nil
}

// Close 释放连接池。
func (s *SQLTokenRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping 用于健康检查。
func (s *SQLTokenRepository) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const (
	insertTokenSQL = `INSERT INTO launched_tokens
    (user_id, wallet, name, symbol, contract_address, initial_buy, tokens_received, tx_url, image_ref, description, created_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	selectTokenColumns = `SELECT id, user_id, wallet, name, symbol, contract_address, initial_buy, tokens_received, tx_url, image_ref, description, created_at
    FROM launched_tokens`
)

// Create 写入记录并回填自增 ID。
func (s *SQLTokenRepository) Create(ctx context.Context, record *TokenRecord) error {
	if record == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "token record is required")
	}
	result, err := s.db.ExecContext(ctx, insertTokenSQL,
		record.UserID,
		record.Wallet,
		record.Name,
		record.Symbol,
		record.ContractAddress,
		record.InitialBuy,
		record.TokensReceived,
		record.TxURL,
		record.ImageRef,
		record.Description,
		record.CreatedAt,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入发行记录失败")
	}
	id, err := result.LastInsertId()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取发行记录 ID 失败")
	}
	record.ID = id
	return nil
}

// Get 按 ID 查找记录。
func (s *SQLTokenRepository) Get(ctx context.Context, id int64) (*TokenRecord, error) {
	row := s.db.QueryRowContext(ctx, selectTokenColumns+` WHERE id = ?`, id)
	record, err := scanToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("launched token %d not found", id))
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询发行记录失败")
	}
	return record, nil
}

// ListByUser 返回用户最近的发行记录。
func (s *SQLTokenRepository) ListByUser(ctx context.Context, userID string, limit int) ([]TokenRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectTokenColumns+` WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		userID, normalizeLimit(limit))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询发行记录失败")
	}
	defer rows.Close()

	var results []TokenRecord
	for rows.Next() {
		record, err := scanToken(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析发行记录失败")
		}
		results = append(results, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历发行记录失败")
	}
	return results, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToken(row rowScanner) (*TokenRecord, error) {
	var record TokenRecord
	if err := row.Scan(
		&record.ID,
		&record.UserID,
		&record.Wallet,
		&record.Name,
		&record.Symbol,
		&record.ContractAddress,
		&record.InitialBuy,
		&record.TokensReceived,
		&record.TxURL,
		&record.ImageRef,
		&record.Description,
		&record.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &record, nil
}

var (
	_ TokenRepository = (*FileTokenRepository)(nil)
	_ TokenRepository = (*SQLTokenRepository)(nil)
)
