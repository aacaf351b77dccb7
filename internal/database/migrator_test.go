package database

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/multi-agent/transcript-sync/internal/config"
	"github.com/multi-agent/transcript-sync/migrations"
)

func TestLoadAppliedVersions_NilPool(t *testing.T) {
	if _, err := loadAppliedVersions(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil pool")
	}
}

func TestApplyMigration_NilPool(t *testing.T) {
	if err := applyMigration(context.Background(), nil, migration{Name: "001_transcript.sql"}); err == nil {
		t.Fatal("expected error for nil pool")
	}
}

func TestMigrate_NilPool(t *testing.T) {
	if err := Migrate(context.Background(), nil, t.TempDir()); err == nil {
		t.Fatal("expected error for nil pool")
	}
}

func TestLoadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"002_b.sql":         {Data: []byte("SELECT 2;")},
		"001_a.sql":         {Data: []byte("SELECT 1;")},
		"README.md":         {Data: []byte("docs")},
		"003_dir.sql/x.sql": {Data: []byte("nested")},
	}
	list, err := loadMigrations(fsys)
	if err != nil {
		t.Fatalf("loadMigrations: %v", err)
	}
	if len(list) != 2 || list[0].Name != "001_a.sql" || list[1].Name != "002_b.sql" {
		t.Fatalf("migrations = %+v", list)
	}
	if list[0].SQL != "SELECT 1;" || len(list[0].Checksum) != 64 {
		t.Errorf("first migration = %+v", list[0])
	}
}

func TestPendingMigrations(t *testing.T) {
	list := []migration{
		{Name: "001_a.sql", Checksum: "aaa"},
		{Name: "002_b.sql", Checksum: "bbb"},
		{Name: "003_c.sql", Checksum: "ccc"},
	}
	tests := []struct {
		name    string
		applied map[string]string
		want    []string
	}{
		{"fresh", map[string]string{}, []string{"001_a.sql", "002_b.sql", "003_c.sql"}},
		{"partial", map[string]string{"001_a.sql": "aaa"}, []string{"002_b.sql", "003_c.sql"}},
		{"changed checksum is not reapplied", map[string]string{"001_a.sql": "zzz", "002_b.sql": "", "003_c.sql": "ccc"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, m := range pendingMigrations(list, tt.applied) {
				got = append(got, m.Name)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("pending = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBundledMigrationsMatchRepository(t *testing.T) {
	bundled, err := loadMigrations(migrations.FS)
	if err != nil {
		t.Fatalf("bundled: %v", err)
	}
	onDisk, err := loadMigrations(os.DirFS(filepath.Join("..", "..", "migrations")))
	if err != nil {
		t.Fatalf("on disk: %v", err)
	}
	if len(bundled) == 0 || bundled[0].Name != "001_transcript.sql" {
		t.Fatalf("bundled = %v", bundled)
	}
	if len(bundled) != len(onDisk) || bundled[0].Checksum != onDisk[0].Checksum {
		t.Errorf("bundled and on-disk migrations differ")
	}
}

func TestPoolConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.Config
		wantErr bool
		wantMin int32
		wantMax int32
		hook    bool
	}{
		{name: "nil", cfg: nil, wantErr: true},
		{name: "empty_conn", cfg: &config.Config{}, wantErr: true},
		{name: "bad_conn", cfg: &config.Config{PostgresConnStr: "postgres://%zz"}, wantErr: true},
		{
			name:    "public_schema",
			cfg:     &config.Config{PostgresConnStr: "postgres://u:p@localhost:5432/db", PostgresSchema: "public", PostgresPoolMinSize: 2, PostgresPoolMaxSize: 8},
			wantMin: 2, wantMax: 8,
		},
		{
			name:    "custom_schema_and_clamp",
			cfg:     &config.Config{PostgresConnStr: "postgres://u:p@localhost:5432/db", PostgresSchema: "sync", PostgresPoolMinSize: 20, PostgresPoolMaxSize: 4},
			wantMin: 4, wantMax: 4, hook: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PoolConfig(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("PoolConfig err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got.MinConns != tt.wantMin || got.MaxConns != tt.wantMax {
				t.Errorf("conns = %d/%d, want %d/%d", got.MinConns, got.MaxConns, tt.wantMin, tt.wantMax)
			}
			if (got.AfterConnect != nil) != tt.hook {
				t.Errorf("AfterConnect set = %v, want %v", got.AfterConnect != nil, tt.hook)
			}
		})
	}
}
