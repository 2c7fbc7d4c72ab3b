package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/outreach/internal/outbox"
)

var (
	outboxListRun   string
	outboxListTo    string
	outboxListLimit int
	outboxShowRaw   bool
	outboxClearDays int
)

var outboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "Dry-run outbox commands",
}

var outboxListCmd = &cobra.Command{
	Use:   "list",
	Short: "List messages captured by dry runs",
	RunE:  runOutboxList,
}

var outboxShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a captured message",
	Args:  cobra.ExactArgs(1),
	RunE:  runOutboxShow,
}

var outboxClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear captured messages",
	RunE:  runOutboxClear,
}

func init() {
	outboxListCmd.Flags().StringVar(&outboxListRun, "run", "", "Filter by run ID")
	outboxListCmd.Flags().StringVar(&outboxListTo, "to", "", "Filter by recipient")
	outboxListCmd.Flags().IntVar(&outboxListLimit, "limit", 50, "Maximum number of messages")

	outboxShowCmd.Flags().BoolVar(&outboxShowRaw, "raw", false, "Print the raw RFC 5322 message")

	outboxClearCmd.Flags().IntVar(&outboxClearDays, "older-than", 0, "Clear messages older than N days")

	outboxCmd.AddCommand(outboxListCmd, outboxShowCmd, outboxClearCmd)
	rootCmd.AddCommand(outboxCmd)
}

func openOutbox(readOnly bool) (*outbox.Outbox, func(), error) {
	_, store, err := openStore(readOnly)
	if err != nil {
		return nil, nil, err
	}

	o, err := outbox.New(store.DB())
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("failed to open outbox: %w", err)
	}
	return o, func() { store.Close() }, nil
}

func runOutboxList(cmd *cobra.Command, args []string) error {
	o, closeFn, err := openOutbox(true)
	if err != nil {
		return err
	}
	defer closeFn()

	entries, err := o.List(cmd.Context(), outbox.ListFilter{
		RunID: outboxListRun,
		To:    outboxListTo,
		Limit: outboxListLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to list outbox: %w", err)
	}

	if len(entries) == 0 {
		fmt.Println("No captured messages")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTO\tSUBJECT\tSIZE\tCAPTURED")
	fmt.Fprintln(w, "--\t--\t-------\t----\t--------")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			e.ID,
			e.To,
			truncate(e.Subject, 40),
			e.Size,
			e.CapturedAt.Local().Format("2006-01-02 15:04"),
		)
	}
	w.Flush()

	fmt.Printf("\nShowing %d messages\n", len(entries))
	return nil
}

func runOutboxShow(cmd *cobra.Command, args []string) error {
	o, closeFn, err := openOutbox(true)
	if err != nil {
		return err
	}
	defer closeFn()

	e, err := o.Get(cmd.Context(), args[0])
	if errors.Is(err, outbox.ErrNotFound) {
		return fmt.Errorf("message %s not found", args[0])
	}
	if err != nil {
		return fmt.Errorf("failed to read outbox: %w", err)
	}

	if outboxShowRaw {
		os.Stdout.Write(e.Data)
		return nil
	}

	fmt.Printf("ID:         %s\n", e.ID)
	fmt.Printf("Run:        %s\n", e.RunID)
	fmt.Printf("To:         %s\n", e.To)
	fmt.Printf("Company:    %s\n", dash(e.Company))
	fmt.Printf("Subject:    %s\n", e.Subject)
	fmt.Printf("Message-ID: <%s>\n", e.MessageID)
	fmt.Printf("Size:       %d bytes\n", e.Size)
	fmt.Printf("Captured:   %s\n", e.CapturedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Println("\nUse --raw to print the full message")
	return nil
}

func runOutboxClear(cmd *cobra.Command, args []string) error {
	if outboxClearDays < 0 {
		return fmt.Errorf("--older-than must not be negative")
	}

	o, closeFn, err := openOutbox(false)
	if err != nil {
		return err
	}
	defer closeFn()

	n, err := o.Clear(cmd.Context(), time.Duration(outboxClearDays)*24*time.Hour)
	if err != nil {
		return fmt.Errorf("failed to clear outbox: %w", err)
	}

	fmt.Printf("Removed %d messages\n", n)
	return nil
}
