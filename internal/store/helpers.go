// helpers.go — Store 层通用工具。
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/multi-agent/transcript-sync/pkg/util"
)

// BaseStore 所有 PG Store 的嵌入基底，持有连接池。
//
//	type FooStore struct{ BaseStore }
//	func NewFooStore(pool *pgxpool.Pool) *FooStore { return &FooStore{NewBaseStore(pool)} }
type BaseStore struct{ pool *pgxpool.Pool }

// NewBaseStore 创建 BaseStore。
func NewBaseStore(pool *pgxpool.Pool) BaseStore { return BaseStore{pool: pool} }

// Pool 返回连接池。
func (b BaseStore) Pool() *pgxpool.Pool { return b.pool }

// deleteByKey 按主键删除单条记录, 返回是否删除了行。
func deleteByKey(ctx context.Context, pool *pgxpool.Pool, table, keyCol, keyVal string) (bool, error) {
	sql := fmt.Sprintf("DELETE FROM %s WHERE %s = $1",
		pgx.Identifier{table}.Sanitize(),
		pgx.Identifier{keyCol}.Sanitize())
	tag, err := pool.Exec(ctx, sql, keyVal)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// clampLimit 分页上限。
func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	return util.ClampInt(limit, 1, max)
}
