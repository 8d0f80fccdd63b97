package main

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var (
	initOutput       string
	initCampaignFile string
	initAPIKey       string
	initDataDir      string
	initMetrics      bool
	initForce        bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize Pacer configuration",
	Long: `Interactive wizard to create a Pacer configuration file and a sample
campaign definition.

Examples:
  # Interactive mode - prompts for missing values
  pacer init

  # Non-interactive
  pacer init --data-dir ./data --api-key secret --metrics -o pacer.yaml`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVarP(&initOutput, "output", "o", "pacer.yaml", "Output configuration file path")
	initCmd.Flags().StringVar(&initCampaignFile, "campaign", "campaign.yaml", "Sample campaign file path")
	initCmd.Flags().StringVar(&initAPIKey, "api-key", "", "API key (auto-generated if not provided)")
	initCmd.Flags().StringVar(&initDataDir, "data-dir", "", "Data directory for the run archive (default: /var/lib/pacer)")
	initCmd.Flags().BoolVar(&initMetrics, "metrics", false, "Enable Prometheus metrics")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing files")

	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	reader := bufio.NewReader(cmd.InOrStdin())

	fmt.Fprintln(out, "Pacer Configuration Wizard")
	fmt.Fprintln(out, "==========================")
	fmt.Fprintln(out)

	if initDataDir == "" {
		initDataDir = prompt(reader, out, "Data directory", "/var/lib/pacer")
	}

	if !cmd.Flags().Changed("metrics") {
		answer := prompt(reader, out, "Enable Prometheus metrics? [y/N]", "n")
		initMetrics = isYes(answer)
	}

	if initAPIKey == "" {
		initAPIKey = generateRandomString(32)
		fmt.Fprintf(out, "  Generated API key: %s\n", initAPIKey)
	}

	if !initForce {
		for _, path := range []string{initOutput, initCampaignFile} {
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Creating configuration...")

	if err := os.MkdirAll(initDataDir, 0755); err != nil {
		fmt.Fprintf(out, "  Warning: Could not create data directory: %v\n", err)
	}

	campaignPath, err := filepath.Abs(initCampaignFile)
	if err != nil {
		campaignPath = initCampaignFile
	}

	if err := os.WriteFile(initCampaignFile, []byte(generateCampaign()), 0644); err != nil {
		return fmt.Errorf("failed to write campaign file: %w", err)
	}
	fmt.Fprintf(out, "  Sample campaign saved to: %s\n", initCampaignFile)

	if err := os.WriteFile(initOutput, []byte(generateConfig(campaignPath)), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	fmt.Fprintf(out, "  Configuration saved to: %s\n", initOutput)
	fmt.Fprintln(out)

	printNextSteps(out)
	return nil
}

func prompt(reader *bufio.Reader, out io.Writer, question, defaultValue string) string {
	if defaultValue != "" {
		fmt.Fprintf(out, "%s [%s]: ", question, defaultValue)
	} else {
		fmt.Fprintf(out, "%s: ", question)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultValue
	}
	return input
}

func isYes(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}

func generateRandomString(length int) string {
	bytes := make([]byte, length/2)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

func generateConfig(campaignPath string) string {
	metricsSection := `metrics:
  enabled: false
  # listen_addr: ":9090"
  # path: "/metrics"
  # allowed_ips:
  #   - "127.0.0.1"`
	if initMetrics {
		metricsSection = `metrics:
  enabled: true
  listen_addr: ":9090"
  path: "/metrics"
  allowed_ips:
    - "127.0.0.1"
    - "::1"`
	}

	return fmt.Sprintf(`# Pacer configuration
# Generated by: pacer init

api:
  listen_addr: ":8080"
  api_key: "%s"
  # allowed_ips:
  #   - "10.0.0.0/8"
  max_header_bytes: 1048576  # 1 MB
  max_body_bytes: 4194304    # 4 MB, caps recipients_csv uploads
  read_timeout: 30s
  write_timeout: 30s
  idle_timeout: 60s

%s

storage:
  path: "%s/pacer.db"
  max_runs: 500

campaign:
  file: "%s"
  # recipients_file: "recipients.csv"
  max_recipients: 1000

logging:
  level: "info"
  format: "json"
`,
		initAPIKey,
		metricsSection,
		initDataDir,
		campaignPath,
	)
}

func generateCampaign() string {
	return `# Sample campaign
# Template 1 goes to recipients 1, 3, 5..., template 2 to 2, 4, 6...

template1:
  body: "Hello! Our spring offer is live, reply STOP to opt out."
  attachment: "offer.pdf"
template2:
  body: "Hi there, the spring offer ends Friday."

recipients:
  - "+15550000001"
  - "+15550000002"
  - "+15550000003"

delay_between_seconds: 30
send_action_delay_seconds: 5

# A monitor recipient receives a random message between customers
# monitor_recipient: "+15550009999"
# monitor_messages:
#   - "monitor ping"
#   - "still running"
`
}

func printNextSteps(out io.Writer) {
	fmt.Fprintln(out, "Next Steps")
	fmt.Fprintln(out, "==========")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "1. Edit the campaign in %s\n", initCampaignFile)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "2. Start the server:")
	fmt.Fprintf(out, "   pacer serve -c %s\n", initOutput)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "3. Start the default campaign:")
	fmt.Fprintf(out, "   pacer campaign start -c %s\n", initOutput)
	fmt.Fprintln(out, "   or")
	fmt.Fprintln(out, "   curl -X POST http://localhost:8080/api/v1/campaign/start \\")
	fmt.Fprintf(out, "     -H \"Authorization: Bearer %s\"\n", initAPIKey)
	fmt.Fprintln(out)
	fmt.Fprintf(out, "API Key: %s\n", initAPIKey)
	fmt.Fprintln(out)
}
