package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/multi-agent/transcript-sync/internal/app"
	"github.com/multi-agent/transcript-sync/internal/model"
	"github.com/multi-agent/transcript-sync/internal/uistate"
	"github.com/multi-agent/transcript-sync/pkg/util"
)

var (
	watchSession string
	watchListen  string
)

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVarP(&watchSession, "session", "s", "",
		"Session to follow (default: SESSION_ID or the last used session)")
	watchCmd.Flags().StringVar(&watchListen, "listen", "",
		"Also serve the dashboard on this address")
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow a live session and print transcript changes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if watchSession != "" {
			cfg.SessionID = watchSession
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		printer := newChangePrinter(cmd.OutOrStdout())
		a, err := app.New(ctx, cfg, app.WithListener(printer))
		if err != nil {
			return err
		}
		defer a.Close()
		printer.attach(a.Engine.Snapshot)

		sessionID := a.RestoreSession(ctx)
		if sessionID == "" {
			return fmt.Errorf("no session to watch: pass --session or set SESSION_ID")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "watching %s via %s (Ctrl-C to stop)\n", sessionID, cfg.StreamTransport)
		if err := a.Run(ctx, watchListen); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}

// changePrinter 对比相邻快照, 只打印变化。
type changePrinter struct {
	uistate.NopListener

	out io.Writer

	mu       sync.Mutex
	snapshot func() uistate.Snapshot
	version  uint64
	seen     map[string]bool
	status   model.StatusType
	permHead string
	errText  string
}

func newChangePrinter(out io.Writer) *changePrinter {
	if out == nil {
		out = os.Stdout
	}
	return &changePrinter{out: out, seen: make(map[string]bool)}
}

func (p *changePrinter) attach(snapshot func() uistate.Snapshot) {
	p.mu.Lock()
	p.snapshot = snapshot
	p.mu.Unlock()
}

// SessionActivity prints activity of any known session, sub-sessions included.
func (p *changePrinter) SessionActivity(sessionID string, active bool) {
	state := "idle"
	if active {
		state = "active"
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "· %s %s\n", sessionID, state)
}

// StateChanged diffs the latest snapshot against what was already printed.
func (p *changePrinter) StateChanged(uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.snapshot == nil {
		return
	}
	p.render(p.snapshot())
}

func (p *changePrinter) render(snap uistate.Snapshot) {
	if snap.Version <= p.version {
		return
	}
	p.version = snap.Version

	for _, m := range snap.Messages {
		if p.seen[m.ID] || m.IsOptimistic() {
			continue
		}
		p.seen[m.ID] = true
		fmt.Fprintf(p.out, "+ %s %s\n", m.Role, m.ID)
	}
	if snap.Status.Type != p.status {
		p.status = snap.Status.Type
		fmt.Fprintf(p.out, "~ status %s\n", p.status)
		if p.status == model.StatusIdle && len(snap.Messages) > 0 {
			last := snap.Messages[len(snap.Messages)-1]
			if last.Role == model.RoleAssistant && last.Text != "" {
				fmt.Fprintf(p.out, "  %s\n", util.Preview(last.Text, 120))
			}
		}
	}
	head := ""
	if perm, ok := snap.CurrentPermission(); ok {
		head = perm.ID
		if head != p.permHead {
			fmt.Fprintf(p.out, "? permission %s: %s\n", perm.ID, perm.Title)
		}
	}
	p.permHead = head
	if snap.Error != p.errText {
		p.errText = snap.Error
		if snap.Error != "" {
			fmt.Fprintf(p.out, "! %s\n", snap.Error)
		}
	}
}

var _ uistate.Listener = (*changePrinter)(nil)
