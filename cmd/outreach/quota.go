package main

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/foxzi/outreach/internal/quota"
)

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Send quota commands",
}

var quotaStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current quota usage",
	RunE:  runQuotaStatus,
}

func init() {
	quotaCmd.AddCommand(quotaStatusCmd)
	rootCmd.AddCommand(quotaCmd)
}

func runQuotaStatus(cmd *cobra.Command, args []string) error {
	cfg, store, err := openStore(true)
	if err != nil {
		return err
	}
	defer store.Close()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	q, err := quota.New(store.DB(), cfg.QuotaLimits(), logger)
	if err != nil {
		return fmt.Errorf("failed to load quota: %w", err)
	}
	defer q.Stop()

	if !cfg.Quota.Enabled {
		fmt.Println("Quota is disabled in the configuration")
	}

	usage := q.Status(cmd.Context())
	if len(usage) == 0 {
		fmt.Println("No sends counted yet")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "LEVEL\tKEY\tHOUR\tDAY")
	fmt.Fprintln(w, "-----\t---\t----\t---")
	for _, u := range usage {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			u.Level,
			dash(u.Key),
			usageOf(u.Window.Hourly, u.PerHour),
			usageOf(u.Window.Daily, u.PerDay),
		)
	}
	w.Flush()
	return nil
}

func usageOf(used, limit int) string {
	if limit <= 0 {
		return fmt.Sprintf("%d", used)
	}
	return fmt.Sprintf("%d/%d", used, limit)
}
