// Package migrations 玩家歷史與遊戲結果的資料表結構
//
// SQL 檔案嵌入在執行檔中，啟動時以 golang-migrate 套用。
package migrations

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed all:migrations
var migrationsFS embed.FS

// Latest 目前最新的結構版本
const Latest uint = 2

// Status 資料庫結構的版本狀態
type Status struct {
	Version uint
	Dirty   bool
	// Empty 尚未套用任何版本
	Empty bool
}

// Migrator 套用或回滾結構版本
type Migrator struct {
	m      *migrate.Migrate
	logger *slog.Logger
}

// New 以 postgres:// URL 建立 Migrator
func New(databaseURL string, logger *slog.Logger) (*Migrator, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("init migrate: %w", err)
	}
	return &Migrator{m: m, logger: logger}, nil
}

// Run 套用所有版本後關閉，服務啟動與整合測試共用
func Run(databaseURL string, logger *slog.Logger) error {
	mg, err := New(databaseURL, logger)
	if err != nil {
		return err
	}
	upErr := mg.Up()
	closeErr := mg.Close()
	if upErr != nil {
		return upErr
	}
	return closeErr
}

// Status 回傳目前版本
func (mg *Migrator) Status() (Status, error) {
	version, dirty, err := mg.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return Status{Empty: true}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("read schema version: %w", err)
	}
	return Status{Version: version, Dirty: dirty}, nil
}

// Up 套用到最新版本
//
// 上次遷移中斷留下的 dirty 標記會先強制清除，再重跑該版本之後的遷移。
func (mg *Migrator) Up() error {
	st, err := mg.Status()
	if err != nil {
		return err
	}
	if st.Dirty {
		if st.Version > math.MaxInt32 {
			return fmt.Errorf("schema version %d out of range", st.Version)
		}
		mg.logger.Warn("結構版本為 dirty，強制重設", "version", st.Version)
		if err := mg.m.Force(int(st.Version)); err != nil {
			return fmt.Errorf("force version %d: %w", st.Version, err)
		}
	}

	err = mg.m.Up()
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		mg.logger.Debug("資料表結構已是最新", "version", st.Version)
		return nil
	case err != nil:
		return fmt.Errorf("apply migrations: %w", err)
	}

	after, _ := mg.Status()
	mg.logger.Info("資料表結構已更新", "from", st.Version, "to", after.Version)
	return nil
}

// Down 回滾一個版本，已無版本時不做事
func (mg *Migrator) Down() error {
	st, err := mg.Status()
	if err != nil {
		return err
	}
	if st.Empty {
		return nil
	}
	if err := mg.m.Steps(-1); err != nil {
		return fmt.Errorf("roll back version %d: %w", st.Version, err)
	}
	mg.logger.Info("資料表結構已回滾", "from", st.Version)
	return nil
}

// Close 釋放來源與資料庫連線
func (mg *Migrator) Close() error {
	srcErr, dbErr := mg.m.Close()
	return errors.Join(srcErr, dbErr)
}
