package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/multi-agent/transcript-sync/internal/config"
	"github.com/multi-agent/transcript-sync/internal/database"
	"github.com/multi-agent/transcript-sync/internal/model"
	"github.com/multi-agent/transcript-sync/internal/store"
	"github.com/multi-agent/transcript-sync/pkg/util"
)

var cacheLimit int

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheListCmd, cacheShowCmd, cacheDeleteCmd)
	cacheListCmd.Flags().IntVarP(&cacheLimit, "limit", "n", 20, "Maximum transcripts to list")
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the transcript cache",
}

// transcriptCache 是 PG 与 SQLite 缓存共有的操作。
type transcriptCache interface {
	Load(ctx context.Context, sessionID string) ([]model.Message, bool, error)
	Delete(ctx context.Context, sessionID string) error
	Recent(ctx context.Context, limit int) ([]store.TranscriptInfo, error)
}

// openCache 按 TranscriptCacheBackend 打开缓存, 返回的 close 必须调用。
func openCache(ctx context.Context, cfg *config.Config) (transcriptCache, func(), error) {
	switch cfg.TranscriptCacheBackend() {
	case "postgres":
		pool, err := database.NewPool(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return store.NewTranscriptStore(pool), pool.Close, nil
	case "sqlite":
		s, err := store.OpenSQLiteTranscriptStore(cfg.TranscriptSQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("transcript cache disabled: set POSTGRES_CONNECTION_STRING or TRANSCRIPT_SQLITE_PATH")
	}
}

func withCache(cmd *cobra.Command, fn func(ctx context.Context, c transcriptCache) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	c, closeFn, err := openCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, c)
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached transcripts, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCache(cmd, func(ctx context.Context, c transcriptCache) error {
			items, err := c.Recent(ctx, cacheLimit)
			if err != nil {
				return fmt.Errorf("list transcripts: %w", err)
			}
			return printTranscripts(cmd.OutOrStdout(), items)
		})
	},
}

var cacheShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print a cached transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCache(cmd, func(ctx context.Context, c transcriptCache) error {
			msgs, ok, err := c.Load(ctx, args[0])
			if err != nil {
				return fmt.Errorf("load transcript: %w", err)
			}
			if !ok {
				return fmt.Errorf("no cached transcript for %s", args[0])
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tROLE\tTOOLS\tTEXT")
			for _, m := range msgs {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", m.ID, m.Role, len(m.ToolCalls), util.Preview(m.Text, 60))
			}
			return w.Flush()
		})
	},
}

var cacheDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Remove a cached transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCache(cmd, func(ctx context.Context, c transcriptCache) error {
			if err := c.Delete(ctx, args[0]); err != nil {
				return fmt.Errorf("delete transcript: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s.\n", args[0])
			return nil
		})
	},
}

func printTranscripts(out io.Writer, items []store.TranscriptInfo) error {
	if len(items) == 0 {
		fmt.Fprintln(out, "No cached transcripts.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tMESSAGES\tUPDATED")
	for _, it := range items {
		fmt.Fprintf(w, "%s\t%d\t%s\n", it.SessionID, it.MessageCount, it.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}
