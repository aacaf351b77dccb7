// Package migrations 内嵌仓库自带的 SQL 迁移, MIGRATIONS_DIR 不存在时使用。
package migrations

import "embed"

// FS holds the bundled *.sql files.
//
//go:embed *.sql
var FS embed.FS
