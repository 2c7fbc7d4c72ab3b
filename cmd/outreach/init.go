package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	initSender   string
	initName     string
	initSMTPHost string
	initSMTPUser string
	initLLM      string
	initOutput   string
	initEnvOut   string
	initForce    bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize Outreach configuration",
	Long: `Interactive wizard to create an Outreach configuration file.

Secrets (SMTP password, API keys) go to a separate .env file readable only by
the current user; the YAML file can be shared or committed.

Examples:
  # Interactive mode - prompts for missing values
  outreach init

  # Non-interactive
  outreach init --sender jane@example.com --smtp-host smtp.example.com --llm mistral`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initSender, "sender", "", "Sender address")
	initCmd.Flags().StringVar(&initName, "name", "", "Sender display name")
	initCmd.Flags().StringVar(&initSMTPHost, "smtp-host", "", "SMTP relay host")
	initCmd.Flags().StringVar(&initSMTPUser, "smtp-user", "", "SMTP username (default: sender address)")
	initCmd.Flags().StringVar(&initLLM, "llm", "", "Generative backend: gemini, mistral")
	initCmd.Flags().StringVarP(&initOutput, "output", "o", "outreach.yaml", "Output configuration file path")
	initCmd.Flags().StringVar(&initEnvOut, "env-output", ".env", "Output environment file path")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing files")

	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("Outreach Configuration Wizard")
	fmt.Println("=============================")
	fmt.Println()

	if initSender == "" {
		initSender = prompt(reader, "Sender address (e.g., jane@example.com)", "")
		if initSender == "" {
			return fmt.Errorf("sender address is required")
		}
	}
	if initName == "" {
		initName = prompt(reader, "Sender name", "")
	}
	if initSMTPHost == "" {
		initSMTPHost = prompt(reader, "SMTP host", "smtp."+domainOf(initSender))
	}
	if initSMTPUser == "" {
		initSMTPUser = prompt(reader, "SMTP username", initSender)
	}
	if initLLM == "" {
		initLLM = prompt(reader, "Generative backend (gemini, mistral)", "gemini")
	}
	if initLLM != "gemini" && initLLM != "mistral" {
		return fmt.Errorf("unknown backend %q", initLLM)
	}

	if !initForce {
		for _, path := range []string{initOutput, initEnvOut} {
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
		}
	}

	fmt.Println()
	fmt.Println("Creating configuration...")

	if err := os.WriteFile(initOutput, []byte(generateConfig()), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	fmt.Printf("  Configuration saved to: %s\n", initOutput)

	if err := os.WriteFile(initEnvOut, []byte(generateEnv()), 0600); err != nil {
		return fmt.Errorf("failed to write environment file: %w", err)
	}
	fmt.Printf("  Secrets template saved to: %s\n", initEnvOut)

	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Printf("  1. Fill in the API key and password in %s\n", initEnvOut)
	fmt.Printf("  2. Check the setup:  outreach -c %s config validate\n", initOutput)
	fmt.Printf("  3. Preview a run:    outreach -c %s send leads.csv --dry-run\n", initOutput)
	fmt.Printf("  4. Review the drafts: outreach -c %s outbox list\n", initOutput)

	return nil
}

func prompt(reader *bufio.Reader, question, defaultValue string) string {
	if defaultValue != "" {
		fmt.Printf("%s [%s]: ", question, defaultValue)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultValue
	}
	return input
}

func domainOf(addr string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 {
		return addr[i+1:]
	}
	return addr
}

func generateConfig() string {
	model := "gemini-1.5-flash"
	if initLLM == "mistral" {
		model = "mistral-small-latest"
	}

	return fmt.Sprintf(`# Outreach configuration
# Generated by: outreach init
# Secrets are read from the environment (see .env)

sender:
  email: "%s"
  name: "%s"
  # cv_path: "cv.pdf"
  signature: |
    %s
    %s

transport:
  provider: smtp
  smtp:
    host: "%s"
    port: 587
    security: starttls
    username: "%s"
    timeout: 30s

dkim:
  enabled: false
  selector: "outreach"
  domain: "%s"
  key_file: "dkim/%s.key"

llm:
  provider: %s
  model: "%s"
  temperature: 0.7
  timeout: 60s

generation:
  language: "French"
  tone: "professional but warm"
  candidate: ""
  pitch: "an internship application"
  pacing:
    calls: 10
    window: 30s

cache:
  enabled: true
  scope: company  # company, category

crawl:
  enabled: false
  max_pages: 3
  max_depth: 1

campaign:
  dry_run: false
  concurrent: false
  workers: 5
  delay:
    min: 5s
    max: 15s

recipients:
  exclude_patterns: ["sentry", "noreply", "no-reply"]

ledger:
  match_company: false

quota:
  enabled: true
  global:
    per_hour: 100
    per_day: 500
  per_domain:
    per_hour: 5
    per_day: 20

storage:
  path: "outreach.db"

logging:
  level: "info"
  format: "text"
`,
		initSender,
		initName,
		initName, initSender,
		initSMTPHost,
		initSMTPUser,
		domainOf(initSender), domainOf(initSender),
		initLLM, model,
	)
}

func generateEnv() string {
	return `# Outreach secrets
# Generated by: outreach init

OUTREACH_LLM_API_KEY=
OUTREACH_SMTP_PASSWORD=
# OUTREACH_RESEND_API_KEY=
# OUTREACH_DELAY_MIN=5
# OUTREACH_DELAY_MAX=15
`
}
