package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresHistoryStore 以 PostgreSQL 儲存對戰歷史與結果
type PostgresHistoryStore struct {
	pool *pgxpool.Pool
}

// NewPostgresHistoryStore 創建 PostgreSQL 歷史儲存
func NewPostgresHistoryStore(pool *pgxpool.Pool) *PostgresHistoryStore {
	return &PostgresHistoryStore{pool: pool}
}

// AppendHistory 記錄玩家參與的房間（冪等）
func (s *PostgresHistoryStore) AppendHistory(ctx context.Context, username, roomID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO player_history (username, room_id)
		VALUES ($1, $2)
		ON CONFLICT (username, room_id) DO NOTHING`,
		username, roomID)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// History 回傳最近的 limit 筆紀錄（新到舊）
func (s *PostgresHistoryStore) History(ctx context.Context, username string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT room_id, created_at
		FROM player_history
		WHERE username = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`,
		username, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.RoomID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}

// SaveResult 儲存遊戲結果（同一房間只保留第一筆）
func (s *PostgresHistoryStore) SaveResult(ctx context.Context, r GameResult) error {
	scores, err := json.Marshal(r.Scores)
	if err != nil {
		return fmt.Errorf("marshal scores: %w", err)
	}
	if r.FinishedAt.IsZero() {
		r.FinishedAt = time.Now()
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO game_results (room_id, mode, players, winner, reason, scores, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (room_id) DO NOTHING`,
		r.RoomID, r.Mode, r.Players, r.Winner, r.Reason, scores, r.FinishedAt)
	if err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}

// Result 查詢遊戲結果
func (s *PostgresHistoryStore) Result(ctx context.Context, roomID string) (GameResult, error) {
	var (
		r      GameResult
		scores []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT room_id, mode, players, winner, reason, scores, finished_at
		FROM game_results
		WHERE room_id = $1`,
		roomID).Scan(&r.RoomID, &r.Mode, &r.Players, &r.Winner, &r.Reason, &scores, &r.FinishedAt)
	if err != nil {
		return GameResult{}, fmt.Errorf("get result: %w", err)
	}
	if err := json.Unmarshal(scores, &r.Scores); err != nil {
		return GameResult{}, fmt.Errorf("unmarshal scores: %w", err)
	}
	return r, nil
}

// NewPool 依 DSN 建立連接池
func NewPool(ctx context.Context, dsn string, maxConns, minConns int32) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if maxConns > 0 {
		config.MaxConns = maxConns
	}
	if minConns > 0 {
		config.MinConns = minConns
	}
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}
