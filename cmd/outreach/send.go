package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/foxzi/outreach/internal/app"
	"github.com/foxzi/outreach/internal/campaign"
	"github.com/foxzi/outreach/internal/config"
)

var (
	sendDryRun     bool
	sendConcurrent bool
	sendWorkers    int
	sendNoCache    bool
	sendSender     string
	sendCV         string
)

var sendCmd = &cobra.Command{
	Use:   "send <recipients.csv>",
	Short: "Run a campaign",
	Long: `Generate and send a personalized message to every recipient of the CSV file.

Recipients already recorded as sent are skipped. Failed recipients are retried
on the next run. Interrupting with Ctrl-C lets in-flight sends finish.

Examples:
  # Preview without sending; messages land in the outbox
  outreach send leads.csv --dry-run

  # Five workers, each waiting 5-15s between its sends
  outreach send leads.csv --concurrent --workers 5`,
	Args: cobra.ExactArgs(1),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().BoolVar(&sendDryRun, "dry-run", false, "Generate and compose without sending")
	sendCmd.Flags().BoolVar(&sendConcurrent, "concurrent", false, "Send with a pool of workers")
	sendCmd.Flags().IntVar(&sendWorkers, "workers", 0, "Worker count in concurrent mode (default from config)")
	sendCmd.Flags().BoolVar(&sendNoCache, "no-cache", false, "Generate a fresh letter for every recipient")
	sendCmd.Flags().StringVar(&sendSender, "sender", "", "Sender address")
	sendCmd.Flags().StringVar(&sendCV, "cv", "", "CV attachment path")

	rootCmd.AddCommand(sendCmd)
}

func applySendFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("dry-run") {
		cfg.Campaign.DryRun = sendDryRun
	}
	if flags.Changed("concurrent") {
		cfg.Campaign.Concurrent = sendConcurrent
	}
	if flags.Changed("workers") {
		cfg.Campaign.Workers = sendWorkers
	}
	if flags.Changed("no-cache") && sendNoCache {
		disabled := false
		cfg.Cache.Enabled = &disabled
	}
	if flags.Changed("sender") {
		cfg.Sender.Email = sendSender
	}
	if flags.Changed("cv") {
		cfg.Sender.CVPath = sendCV
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	return cfg.ValidateForSend()
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applySendFlags(cmd, cfg); err != nil {
		return err
	}

	if err := promptPassword(cfg); err != nil {
		return err
	}

	// Logs go to stderr so the summary on stdout stays readable
	logger := app.SetupLogger(cfg.Logging, os.Stderr)
	application, err := app.New(cmd.Context(), cfg, app.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	defer application.Shutdown(context.Background())

	sum, err := application.Run(cmd.Context(), args[0])
	if sum != nil {
		printSummary(sum)
	}
	return err
}

// promptPassword asks for the SMTP password when none is configured and
// stdin is a terminal
func promptPassword(cfg *config.Config) error {
	smtp := &cfg.Transport.SMTP
	if cfg.Campaign.DryRun || cfg.Transport.Provider != "smtp" || smtp.Username == "" || smtp.Password != "" {
		return nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil
	}

	fmt.Fprintf(os.Stderr, "SMTP password for %s@%s: ", smtp.Username, smtp.Host)
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	smtp.Password = strings.TrimSpace(string(password))
	return nil
}

func printSummary(sum *campaign.Summary) {
	fmt.Println()
	title := "Campaign summary"
	if sum.DryRun {
		title += " (dry run)"
	}
	fmt.Println(title)
	fmt.Println(strings.Repeat("=", len(title)))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Run ID:\t%s\n", sum.RunID)
	fmt.Fprintf(w, "Recipients:\t%d\n", sum.Total)
	fmt.Fprintf(w, "Attempted:\t%d\n", sum.Attempted)
	fmt.Fprintf(w, "Sent:\t%d\n", sum.Sent)
	fmt.Fprintf(w, "Skipped:\t%d\n", sum.Skipped)
	fmt.Fprintf(w, "Failed:\t%d\n", sum.Failed)
	if sum.Deferred > 0 {
		fmt.Fprintf(w, "Deferred (quota):\t%d\n", sum.Deferred)
	}
	if sum.LedgerErrors > 0 {
		fmt.Fprintf(w, "Ledger errors:\t%d\n", sum.LedgerErrors)
	}
	if sum.Interrupted {
		fmt.Fprintf(w, "Interrupted:\t%d left pending\n", sum.Pending())
	}
	fmt.Fprintf(w, "Duration:\t%s\n", sum.Duration().Round(time.Millisecond))
	w.Flush()

	if len(sum.Failures) > 0 {
		fmt.Println()
		fmt.Println("Failures:")
		w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  EMAIL\tCOMPANY\tSTAGE\tREASON")
		for _, f := range sum.Failures {
			fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", f.Email, f.Company, f.Stage, truncate(f.Reason, 80))
		}
		w.Flush()
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
