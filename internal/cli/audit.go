package cli

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/loopworks/hookgate/internal/audit"
	"github.com/loopworks/hookgate/internal/logger"
)

var (
	auditLimit int
	auditAll   bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect recorded invocations",
	Long: `Inspect the invocation history recorded by dispatch.

Every dispatched event stores the decision made for it, so the history
answers what was blocked, by which rule, and when.

Example:
  hookgate audit list             # List recorded sessions
  hookgate audit show <session>   # Show a session timeline
  hookgate audit recent           # Show recent invocations across sessions
  hookgate audit stats            # Aggregate counts
  hookgate audit clear --all      # Delete all history`,
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded sessions",
	RunE:  runAuditList,
}

var auditShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show the timeline for a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuditShow,
}

var auditRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "Show recent invocations across all sessions",
	RunE:  runAuditRecent,
}

var auditStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate invocation counts",
	RunE:  runAuditStats,
}

var auditClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete recorded history",
	RunE:  runAuditClear,
}

func init() {
	auditListCmd.Flags().IntVarP(&auditLimit, "limit", "n", 20, "Maximum number of sessions to show")
	auditShowCmd.Flags().IntVarP(&auditLimit, "limit", "n", 50, "Maximum number of entries to show")
	auditRecentCmd.Flags().IntVarP(&auditLimit, "limit", "n", 20, "Maximum number of entries to show")
	auditClearCmd.Flags().BoolVar(&auditAll, "all", false, "Delete everything without confirmation")

	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditShowCmd)
	auditCmd.AddCommand(auditRecentCmd)
	auditCmd.AddCommand(auditStatsCmd)
	auditCmd.AddCommand(auditClearCmd)
	rootCmd.AddCommand(auditCmd)
}

func getAuditStore() (*audit.Store, error) {
	cfg := loadConfig()

	store, err := audit.NewStore(cfg.Audit.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit store: %w", err)
	}

	return store, nil
}

func runAuditList(cmd *cobra.Command, args []string) error {
	logger.InitQuiet()

	store, err := getAuditStore()
	if err != nil {
		return err
	}
	defer store.Close()

	sessions, err := store.ListSessions()
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	if len(sessions) == 0 {
		fmt.Println("No recorded sessions found.")
		return nil
	}

	if auditLimit > 0 && len(sessions) > auditLimit {
		sessions = sessions[:auditLimit]
	}

	fmt.Printf("%-40s  %-20s  %-16s  %s\n", "SESSION ID", "FIRST SEEN", "LAST SEEN", "INVOCATIONS")
	fmt.Println(strings.Repeat("-", 92))

	for _, session := range sessions {
		sessionID := session.SessionID
		if len(sessionID) > 38 {
			sessionID = sessionID[:35] + "..."
		}

		fmt.Printf("%-40s  %-20s  %-16s  %d\n",
			sessionID,
			session.FirstSeenAt.Format("2006-01-02 15:04:05"),
			humanize.Time(session.LastSeenAt),
			session.Invocations,
		)
	}

	if len(sessions) == auditLimit {
		fmt.Printf("\n(Showing first %d sessions. Use --limit to see more.)\n", auditLimit)
	}

	return nil
}

func runAuditShow(cmd *cobra.Command, args []string) error {
	logger.InitQuiet()

	sessionID := args[0]

	store, err := getAuditStore()
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.SessionEntries(sessionID, auditLimit)
	if err != nil {
		return fmt.Errorf("failed to get entries: %w", err)
	}

	if len(entries) == 0 {
		fmt.Printf("No entries recorded for session %s.\n", sessionID)
		return nil
	}

	fmt.Printf("Session: %s\n", sessionID)
	fmt.Printf("Entries (%d):\n", len(entries))
	fmt.Println(strings.Repeat("-", 80))

	for _, entry := range entries {
		printEntry(entry)
	}

	return nil
}

func runAuditRecent(cmd *cobra.Command, args []string) error {
	logger.InitQuiet()

	store, err := getAuditStore()
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.RecentEntries(auditLimit)
	if err != nil {
		return fmt.Errorf("failed to get recent entries: %w", err)
	}

	if len(entries) == 0 {
		fmt.Println("No invocations recorded.")
		return nil
	}

	fmt.Printf("Recent invocations (%d, newest first):\n", len(entries))
	fmt.Println(strings.Repeat("-", 80))

	for _, entry := range entries {
		fmt.Printf("%-14s  ", humanize.Time(entry.CreatedAt))
		printEntry(entry)
	}

	return nil
}

func printEntry(entry *audit.Entry) {
	fmt.Printf("[%s] %s", entry.CreatedAt.Format("15:04:05"), entry.EventKind)
	if entry.ToolName != "" {
		fmt.Printf(": %s", entry.ToolName)
	}
	fmt.Printf(" -> %s", entry.Action)
	if entry.Rule != "" {
		fmt.Printf(" (rule: %s)", entry.Rule)
	}
	if entry.Synthesized {
		fmt.Printf(" (synthesized: %s)", entry.Failure)
	}
	fmt.Println()
	if entry.Message != "" {
		fmt.Printf("    %s\n", truncateStr(entry.Message, 76))
	}
}

func runAuditStats(cmd *cobra.Command, args []string) error {
	logger.InitQuiet()

	store, err := getAuditStore()
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := store.Stats()
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}

	fmt.Println("Invocation history")
	fmt.Println("==================")
	fmt.Printf("Sessions:    %s\n", humanize.Comma(stats.Sessions))
	fmt.Printf("Invocations: %s\n", humanize.Comma(stats.Invocations))
	fmt.Printf("Synthesized: %s\n", humanize.Comma(stats.Synthesized))

	if len(stats.ByAction) > 0 {
		fmt.Println("\nBy action:")
		for _, action := range []string{"allow", "block", "modify", "retry", "continue"} {
			if n, ok := stats.ByAction[action]; ok {
				fmt.Printf("  %-10s %s\n", action, humanize.Comma(n))
			}
		}
	}

	return nil
}

func runAuditClear(cmd *cobra.Command, args []string) error {
	logger.InitQuiet()

	store, err := getAuditStore()
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := store.Stats()
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}

	if stats.Sessions == 0 {
		fmt.Println("No recorded history to clear.")
		return nil
	}

	if !auditAll {
		fmt.Printf("This will delete %d sessions (%d invocations). Use --all to confirm.\n",
			stats.Sessions, stats.Invocations)
		return nil
	}

	// Retention of zero makes every recorded session stale
	deleted, err := store.CleanupOlderThan(0)
	if err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}

	fmt.Printf("Deleted %d sessions.\n", deleted)
	return nil
}

func truncateStr(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
