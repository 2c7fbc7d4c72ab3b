package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/foxzi/outreach/internal/dnscheck"
	"github.com/foxzi/outreach/internal/email"
	"github.com/foxzi/outreach/internal/ledger"
	"github.com/foxzi/outreach/internal/recipient"
)

var recipientsCheckMX bool

var recipientsCmd = &cobra.Command{
	Use:   "recipients",
	Short: "Recipient file commands",
}

var recipientsCheckCmd = &cobra.Command{
	Use:   "check <recipients.csv>",
	Short: "Validate a recipient file and preview what a run would do",
	Long: `Load a recipient file the way "send" does, report rejected rows and
count how many recipients the ledger would skip. With --mx, recipient
domains are also checked for mail servers.`,
	Args: cobra.ExactArgs(1),
	RunE: runRecipientsCheck,
}

func init() {
	recipientsCheckCmd.Flags().BoolVar(&recipientsCheckMX, "mx", false, "Check that recipient domains accept mail")

	recipientsCmd.AddCommand(recipientsCheckCmd)
	rootCmd.AddCommand(recipientsCmd)
}

func runRecipientsCheck(cmd *cobra.Command, args []string) error {
	cfg, store, err := openStore(true)
	if err != nil {
		return err
	}
	defer store.Close()

	res, err := recipient.LoadFile(args[0], recipient.Options{ExcludePatterns: cfg.Recipients.ExcludePatterns})
	if err != nil {
		return err
	}

	l, err := ledger.New(store.DB())
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}

	contacted := 0
	companies := make(map[string]bool)
	for _, rec := range res.Records {
		done, err := l.IsAlreadyContacted(cmd.Context(), rec.Email)
		if err != nil {
			return fmt.Errorf("failed to check ledger: %w", err)
		}
		if done {
			contacted++
		}
		if rec.CompanyName != "" {
			companies[rec.CompanyName] = true
		}
	}

	fmt.Printf("Valid recipients:  %d\n", len(res.Records))
	fmt.Printf("Distinct companies: %d\n", len(companies))
	fmt.Printf("Already contacted: %d\n", contacted)
	fmt.Printf("To contact:        %d\n", len(res.Records)-contacted)
	fmt.Printf("Rejected rows:     %d\n", len(res.Rejected))

	if len(res.Rejected) > 0 {
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "LINE\tEMAIL\tREASON")
		fmt.Fprintln(w, "----\t-----\t------")
		for _, r := range res.Rejected {
			fmt.Fprintf(w, "%d\t%s\t%s\n", r.Line, dash(r.Email), r.Reason)
		}
		w.Flush()
	}

	if recipientsCheckMX {
		return checkRecipientDomains(cmd, res.Records)
	}
	return nil
}

func checkRecipientDomains(cmd *cobra.Command, records []recipient.Record) error {
	domains := make([]string, 0, len(records))
	for _, rec := range records {
		domains = append(domains, email.ExtractDomain(rec.Email))
	}

	results, err := dnscheck.New(nil, 0).CheckDomains(cmd.Context(), domains, 8)
	if err != nil {
		return fmt.Errorf("domain check interrupted: %w", err)
	}

	var problems []dnscheck.Result
	for _, r := range results {
		if r.Status != dnscheck.StatusOK {
			problems = append(problems, r)
		}
	}

	fmt.Printf("\nRecipient domains: %d checked, %d without usable MX\n", len(results), len(problems))
	if len(problems) > 0 {
		fmt.Println()
		printDNSResults(problems)
	}
	return nil
}
