package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/multi-agent/transcript-sync/internal/model"
	"github.com/multi-agent/transcript-sync/internal/uistate"
	"github.com/multi-agent/transcript-sync/pkg/util"
)

// maxReplayLine 单行事件上限, 工具输出可能很大。
const maxReplayLine = 8 << 20

var (
	replaySession string
	replayJSON    bool
)

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().StringVarP(&replaySession, "session", "s", "",
		"Session to reconstruct (default: first session seen in the log)")
	replayCmd.Flags().BoolVar(&replayJSON, "json", false, "Print the final snapshot as JSON")
}

var replayCmd = &cobra.Command{
	Use:   "replay <events.jsonl>",
	Short: "Rebuild a transcript offline from a recorded event log",
	Long: `Feed a recorded event log through the engine without a backend.

Each line is one {"type", "properties"} envelope; SSE "data:" prefixes,
blank lines and lines starting with '#' are accepted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open event log: %w", err)
		}
		defer f.Close()

		snap, stats, err := replay(f, replaySession)
		if err != nil {
			return err
		}
		if replayJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		}
		return printSnapshot(cmd.OutOrStdout(), snap, stats)
	},
}

// replayStats counts what the replay did with each line.
type replayStats struct {
	Lines     int
	Handled   int
	Ignored   int
	Malformed int
}

// replay 把事件日志逐行送入无后端的引擎, 返回最终快照。
func replay(r io.Reader, sessionID string) (uistate.Snapshot, replayStats, error) {
	var stats replayStats
	engine := uistate.NewEngine(nil)
	if sessionID != "" {
		if err := engine.SelectSession(sessionID); err != nil {
			return uistate.Snapshot{}, stats, err
		}
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxReplayLine)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		line = bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))
		stats.Lines++

		var ev model.RawEvent
		if err := json.Unmarshal(line, &ev); err != nil || ev.Type == "" {
			stats.Malformed++
			continue
		}
		if engine.SessionID() == "" {
			if sid := eventSessionID(ev); sid != "" {
				if err := engine.SelectSession(sid); err != nil {
					return uistate.Snapshot{}, stats, err
				}
			}
		}
		if res := engine.HandleEvent(ev); res.Handled {
			stats.Handled++
		} else {
			stats.Ignored++
		}
	}
	if err := sc.Err(); err != nil {
		return uistate.Snapshot{}, stats, fmt.Errorf("read event log: %w", err)
	}
	return engine.Snapshot(), stats, nil
}

// eventSessionID 从常见位置提取事件所属会话。
// session.created/updated 的 info.id 可能是子会话, 不参与推断。
func eventSessionID(ev model.RawEvent) string {
	if ev.Type == model.EventSessionCreated || ev.Type == model.EventSessionUpdated {
		return ""
	}
	var p struct {
		SessionID string `json:"sessionID"`
		Info      struct {
			SessionID string `json:"sessionID"`
		} `json:"info"`
		Part struct {
			SessionID string `json:"sessionID"`
		} `json:"part"`
	}
	if err := json.Unmarshal(ev.Properties, &p); err != nil {
		return ""
	}
	return util.FirstNonEmpty(p.SessionID, p.Info.SessionID, p.Part.SessionID)
}

func printSnapshot(out io.Writer, snap uistate.Snapshot, stats replayStats) error {
	fmt.Fprintf(out, "session %s  status=%s  running=%t  version=%d\n",
		snap.SessionID, snap.Status.Type, snap.Running, snap.Version)
	fmt.Fprintf(out, "events: %d read, %d handled, %d ignored, %d malformed\n\n",
		stats.Lines, stats.Handled, stats.Ignored, stats.Malformed)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tROLE\tTOOLS\tTEXT")
	for _, m := range snap.Messages {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", m.ID, m.Role, len(m.ToolCalls), util.Preview(m.Text, 60))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if len(snap.Permissions) > 0 {
		fmt.Fprintf(out, "\n%d pending permission(s), next: %s\n", len(snap.Permissions), snap.Permissions[0].Title)
	}
	if snap.Error != "" {
		fmt.Fprintf(out, "\nerror: %s\n", snap.Error)
	}
	return nil
}
