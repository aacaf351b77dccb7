package database

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/multi-agent/transcript-sync/migrations"
	apperrors "github.com/multi-agent/transcript-sync/pkg/errors"
	"github.com/multi-agent/transcript-sync/pkg/logger"
)

// migration is one SQL file with its content checksum.
type migration struct {
	Name     string
	SQL      string
	Checksum string
}

// Migrate 执行 migrationsDir 下的 SQL 迁移 (按文件名排序)。
// 目录不存在时回落到二进制内嵌的迁移。
func Migrate(ctx context.Context, pool *pgxpool.Pool, migrationsDir string) error {
	fsys := fs.FS(migrations.FS)
	if migrationsDir != "" {
		if st, err := os.Stat(migrationsDir); err == nil && st.IsDir() {
			fsys = os.DirFS(migrationsDir)
		} else {
			logger.Info("migrate: directory not found, using bundled migrations", logger.FieldPath, migrationsDir)
		}
	}
	return MigrateFS(ctx, pool, fsys)
}

// MigrateFS applies pending migrations from fsys.
// schema_version 记录版本与校验和, 每个脚本在独立事务中执行; 已应用脚本内容变化只告警。
func MigrateFS(ctx context.Context, pool *pgxpool.Pool, fsys fs.FS) error {
	const op = "Migrate"
	if pool == nil {
		return apperrors.New(op, "pool is required")
	}
	list, err := loadMigrations(fsys)
	if err != nil {
		return err
	}

	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version    TEXT PRIMARY KEY,
			checksum   TEXT NOT NULL DEFAULT '',
			applied_at TIMESTAMPTZ DEFAULT NOW()
		)
	`); err != nil {
		return apperrors.Wrap(err, op, "create schema_version table")
	}

	applied, err := loadAppliedVersions(ctx, pool)
	if err != nil {
		return err
	}
	pending := pendingMigrations(list, applied)
	if len(pending) == 0 {
		logger.Debug("migrate: schema up to date", logger.FieldCount, len(list))
		return nil
	}
	logger.Info("migrate: applying pending migrations", logger.FieldCount, len(pending))
	for _, m := range pending {
		if err := applyMigration(ctx, pool, m); err != nil {
			return err
		}
		logger.Info("migration applied", logger.FieldPath, m.Name)
	}
	return nil
}

// loadMigrations 读取 fsys 根目录的 .sql 文件, 按文件名排序。
func loadMigrations(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, apperrors.Wrap(err, "Migrate", "read migrations")
	}
	names := migrationFiles(entries)
	out := make([]migration, 0, len(names))
	for _, name := range names {
		raw, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, apperrors.Wrapf(err, "Migrate", "read migration %s", name)
		}
		sum := sha256.Sum256(raw)
		out = append(out, migration{Name: name, SQL: string(raw), Checksum: hex.EncodeToString(sum[:])})
	}
	return out, nil
}

func loadAppliedVersions(ctx context.Context, pool *pgxpool.Pool) (map[string]string, error) {
	if pool == nil {
		return nil, apperrors.New("Migrate", "pool is required")
	}
	rows, err := pool.Query(ctx, `SELECT version, checksum FROM schema_version`)
	if err != nil {
		return nil, apperrors.Wrap(err, "Migrate", "query schema_version")
	}
	applied, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) ([2]string, error) {
		var v [2]string
		err := row.Scan(&v[0], &v[1])
		return v, err
	})
	if err != nil {
		return nil, apperrors.Wrap(err, "Migrate", "scan schema_version")
	}
	out := make(map[string]string, len(applied))
	for _, v := range applied {
		out[v[0]] = v[1]
	}
	return out, nil
}

func applyMigration(ctx context.Context, pool *pgxpool.Pool, m migration) error {
	if pool == nil {
		return apperrors.New("Migrate", "pool is required")
	}
	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, m.SQL); err != nil {
			return apperrors.Wrapf(err, "Migrate", "exec migration %s", m.Name)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO schema_version (version, checksum) VALUES ($1, $2)`, m.Name, m.Checksum); err != nil {
			return apperrors.Wrapf(err, "Migrate", "record migration %s", m.Name)
		}
		return nil
	})
	var appErr *apperrors.AppError
	if err != nil && !errors.As(err, &appErr) {
		return apperrors.Wrapf(err, "Migrate", "transaction for %s", m.Name)
	}
	return err
}

// migrationFiles 过滤出 .sql 文件并按文件名排序。
func migrationFiles(entries []fs.DirEntry) []string {
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files
}

// pendingMigrations 返回未应用的迁移; 已应用但校验和不一致的只记录告警。
func pendingMigrations(list []migration, applied map[string]string) []migration {
	var pending []migration
	for _, m := range list {
		sum, ok := applied[m.Name]
		switch {
		case !ok:
			pending = append(pending, m)
		case sum != "" && sum != m.Checksum:
			logger.Warn("migrate: applied migration changed on disk", logger.FieldPath, m.Name)
		}
	}
	return pending
}
