package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/foxzi/outreach/internal/dnscheck"
	"github.com/foxzi/outreach/internal/email"
)

var dnsCmd = &cobra.Command{
	Use:   "dns",
	Short: "DNS readiness commands",
}

var dnsCheckCmd = &cobra.Command{
	Use:   "check [domain]",
	Short: "Check SPF, DKIM and DMARC of the sending domain",
	Long: `Check that the sending domain publishes SPF, DKIM and DMARC records.
Without an argument the domain of sender.email is checked, with the DKIM
selector from the config when signing is enabled.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDNSCheck,
}

func init() {
	dnsCmd.AddCommand(dnsCheckCmd)
	rootCmd.AddCommand(dnsCmd)
}

func runDNSCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	domain := email.ExtractDomain(cfg.Sender.Email)
	selector := ""
	if cfg.DKIM.Enabled {
		domain = cfg.DKIM.Domain
		selector = cfg.DKIM.Selector
	}
	if len(args) == 1 {
		domain = args[0]
	}

	report, err := dnscheck.New(nil, 0).CheckSender(cmd.Context(), domain, selector)
	if err != nil {
		return fmt.Errorf("cannot check %q: %w", domain, err)
	}

	printDNSResults(report.Results)

	if !report.Ready() {
		fmt.Printf("\n%s is missing records receivers use to trust its mail\n", report.Domain)
		return fmt.Errorf("dns check failed")
	}
	fmt.Printf("\n%s is ready to send\n", report.Domain)
	return nil
}

func printDNSResults(results []dnscheck.Result) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHECK\tNAME\tSTATUS\tDETAILS")
	fmt.Fprintln(w, "-----\t----\t------\t-------")
	for _, r := range results {
		details := r.Message
		if details == "" {
			details = r.Value
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Check, r.Domain, r.Status, truncate(dash(details), 70))
	}
	w.Flush()
}
