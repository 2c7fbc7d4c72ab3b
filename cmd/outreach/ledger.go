package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/foxzi/outreach/internal/ledger"
)

var (
	ledgerListStatus string
	ledgerListLimit  int
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Recipient ledger commands",
}

var ledgerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List contacted recipients",
	RunE:  runLedgerList,
}

var ledgerShowCmd = &cobra.Command{
	Use:   "show <email>",
	Short: "Show the ledger entry of a recipient",
	Args:  cobra.ExactArgs(1),
	RunE:  runLedgerShow,
}

var ledgerForgetCmd = &cobra.Command{
	Use:   "forget <email>",
	Short: "Remove a recipient so the next run contacts them again",
	Args:  cobra.ExactArgs(1),
	RunE:  runLedgerForget,
}

var ledgerStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show ledger statistics",
	RunE:  runLedgerStats,
}

func init() {
	ledgerListCmd.Flags().StringVar(&ledgerListStatus, "status", "", "Filter by status (sent, skipped, failed)")
	ledgerListCmd.Flags().IntVar(&ledgerListLimit, "limit", 50, "Maximum number of entries")

	ledgerCmd.AddCommand(ledgerListCmd, ledgerShowCmd, ledgerForgetCmd, ledgerStatsCmd)
	rootCmd.AddCommand(ledgerCmd)
}

func openLedger(readOnly bool) (*ledger.Ledger, func(), error) {
	_, store, err := openStore(readOnly)
	if err != nil {
		return nil, nil, err
	}

	l, err := ledger.New(store.DB())
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	return l, func() { store.Close() }, nil
}

func runLedgerList(cmd *cobra.Command, args []string) error {
	switch ledger.Status(ledgerListStatus) {
	case "", ledger.StatusSent, ledger.StatusSkipped, ledger.StatusFailed:
	default:
		return fmt.Errorf("unknown status %q", ledgerListStatus)
	}

	l, closeFn, err := openLedger(true)
	if err != nil {
		return err
	}
	defer closeFn()

	entries, err := l.List(cmd.Context(), ledger.ListFilter{
		Status: ledger.Status(ledgerListStatus),
		Limit:  ledgerListLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to list ledger: %w", err)
	}

	if len(entries) == 0 {
		fmt.Println("No recipients recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "EMAIL\tCOMPANY\tSTATUS\tATTEMPTS\tUPDATED")
	fmt.Fprintln(w, "-----\t-------\t------\t--------\t-------")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			e.Email,
			truncate(dash(e.Company), 30),
			e.Status,
			e.Attempts,
			e.Timestamp.Local().Format("2006-01-02 15:04"),
		)
	}
	w.Flush()

	fmt.Printf("\nShowing %d entries\n", len(entries))
	return nil
}

func runLedgerShow(cmd *cobra.Command, args []string) error {
	l, closeFn, err := openLedger(true)
	if err != nil {
		return err
	}
	defer closeFn()

	e, err := l.Get(cmd.Context(), args[0])
	if errors.Is(err, ledger.ErrNotFound) {
		return fmt.Errorf("%s has not been contacted", args[0])
	}
	if err != nil {
		return fmt.Errorf("failed to read ledger: %w", err)
	}

	fmt.Printf("Email:      %s\n", e.Email)
	fmt.Printf("Company:    %s\n", dash(e.Company))
	fmt.Printf("Status:     %s\n", e.Status)
	fmt.Printf("Attempts:   %d\n", e.Attempts)
	fmt.Printf("Updated:    %s\n", e.Timestamp.Local().Format("2006-01-02 15:04:05"))
	if e.MessageID != "" {
		fmt.Printf("Message-ID: <%s>\n", e.MessageID)
	}
	if e.Reason != "" {
		fmt.Printf("Reason:     %s\n", e.Reason)
	}
	return nil
}

func runLedgerForget(cmd *cobra.Command, args []string) error {
	l, closeFn, err := openLedger(false)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := l.Forget(cmd.Context(), args[0]); err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return fmt.Errorf("%s has not been contacted", args[0])
		}
		return fmt.Errorf("failed to forget recipient: %w", err)
	}

	fmt.Printf("%s removed from the ledger\n", args[0])
	return nil
}

func runLedgerStats(cmd *cobra.Command, args []string) error {
	l, closeFn, err := openLedger(true)
	if err != nil {
		return err
	}
	defer closeFn()

	stats, err := l.Stats(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}

	fmt.Println("Ledger Statistics")
	fmt.Println("=================")
	fmt.Printf("Total:   %d\n", stats.Total)
	fmt.Printf("Sent:    %d\n", stats.Sent)
	fmt.Printf("Skipped: %d\n", stats.Skipped)
	fmt.Printf("Failed:  %d\n", stats.Failed)
	return nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
