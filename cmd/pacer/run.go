package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/foxzi/pacer/internal/app"
	"github.com/foxzi/pacer/internal/archive"
	"github.com/foxzi/pacer/internal/campaign"
)

var (
	runRecipientsFile string
	runYes            bool
)

var runCmd = &cobra.Command{
	Use:   "run [campaign.yaml]",
	Short: "Run a campaign in the foreground",
	Long: `Run a campaign locally with real delays and print the activity log as it
grows. Ctrl-C stops the run. The campaign file defaults to campaign.file from
the config; --recipients replaces its recipient list.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runRecipientsFile, "recipients", "", "CSV or plain list of recipients (overrides the campaign file)")
	runCmd.Flags().BoolVarP(&runYes, "yes", "y", false, "skip the confirmation prompt")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	file := cfg.Campaign.File
	if len(args) == 1 {
		file = args[0]
	}
	if file == "" {
		return fmt.Errorf("campaign file is required (argument or campaign.file in config)")
	}
	recipientsFile := cfg.Campaign.RecipientsFile
	if runRecipientsFile != "" {
		recipientsFile = runRecipientsFile
	}

	camp, err := app.LoadCampaign(file, recipientsFile, cfg.Campaign.MaxRecipients)
	if err != nil {
		return err
	}
	if err := camp.Validate(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printCampaignSummary(out, camp)

	if !runYes {
		ok, err := confirm(cmd.InOrStdin(), out, "Start sending?")
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(out, "Aborted")
			return nil
		}
	}

	logger := app.NewLogger(cfg.Logging, cmd.ErrOrStderr())
	printer := newEntryPrinter(out)
	observers := []campaign.Observer{printer}

	if cfg.Storage.Path != "" {
		runs, err := archive.Open(cfg.Storage.Path, cfg.Storage.MaxRuns)
		if err != nil {
			return fmt.Errorf("failed to open run archive: %w", err)
		}
		defer runs.Close()
		observers = append(observers, archive.NewObserver(runs, logger.With("component", "archive")))
	}

	ctrl := campaign.NewController(campaign.Options{
		Logger:    logger.With("component", "controller"),
		Observers: observers,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := ctrl.Start(camp); err != nil {
		return err
	}

	select {
	case <-printer.done:
	case <-ctx.Done():
		ctrl.Stop()
	}

	p := ctrl.Progress()
	fmt.Fprintf(out, "Run %s %s at %d/%d\n", p.RunID, p.Status, p.Position, p.Total)
	return nil
}

func printCampaignSummary(w io.Writer, c campaign.Config) {
	fmt.Fprintf(w, "Recipients:        %d\n", len(c.Recipients))
	fmt.Fprintf(w, "Delay between:     %s\n", c.DelayBetween.Duration())
	fmt.Fprintf(w, "Send action delay: %s\n", c.SendActionDelay.Duration())
	if m := strings.TrimSpace(c.MonitorRecipient); m != "" {
		fmt.Fprintf(w, "Monitor:           %s (%d variants)\n", m, len(c.MonitorMessages))
	}
}

// confirm asks a y/N question; anything but y or yes declines
func confirm(in io.Reader, out io.Writer, question string) (bool, error) {
	fmt.Fprintf(out, "%s [y/N]: ", question)

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("failed to read answer: %w", err)
	}

	return isYes(line), nil
}

// entryPrinter writes log entries as they are recorded and signals when
// the run ends
type entryPrinter struct {
	campaign.NopObserver

	mu   sync.Mutex
	w    io.Writer
	done chan struct{}
	once sync.Once
}

func newEntryPrinter(w io.Writer) *entryPrinter {
	return &entryPrinter{w: w, done: make(chan struct{})}
}

func (p *entryPrinter) OnEntry(e campaign.Entry) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.w, "%s  %-7s  %s\n", e.Timestamp.Format("15:04:05"), e.Tag, e.Message)
}

func (p *entryPrinter) OnRunEnd(run campaign.RunSummary) {
	p.once.Do(func() { close(p.done) })
}
