package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/pacer/internal/archive"
	"github.com/foxzi/pacer/internal/campaign"
)

var (
	historyListStatus string
	historyListLimit  int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Archived run commands",
	Long:  `Inspect the run archive directly. Stop the server first: the archive file is locked while it runs.`,
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived runs, newest first",
	RunE:  runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run_id>",
	Short: "Show an archived run with its log",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <run_id>",
	Short: "Delete an archived run",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryDelete,
}

func init() {
	historyListCmd.Flags().StringVar(&historyListStatus, "status", "", "Filter by status (finished, stopped)")
	historyListCmd.Flags().IntVar(&historyListLimit, "limit", 50, "Maximum number of runs to show")

	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyDeleteCmd)
	rootCmd.AddCommand(historyCmd)
}

func openArchive() (*archive.Storage, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Storage.Path == "" {
		return nil, fmt.Errorf("run archive is disabled (storage.path is empty)")
	}

	storage, err := archive.Open(cfg.Storage.Path, cfg.Storage.MaxRuns)
	if err != nil {
		return nil, fmt.Errorf("failed to open run archive: %w", err)
	}

	return storage, nil
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	storage, err := openArchive()
	if err != nil {
		return err
	}
	defer storage.Close()

	runs, err := storage.List(context.Background(), archive.ListFilter{
		Status: campaign.Status(historyListStatus),
		Limit:  historyListLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	printRuns(cmd.OutOrStdout(), runs)
	return nil
}

func printRuns(out io.Writer, runs []*archive.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(out, "No archived runs")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tPROGRESS\tSENT\tSKIPPED\tENDED\tDURATION")
	fmt.Fprintln(w, "--\t------\t--------\t----\t-------\t-----\t--------")

	for _, run := range runs {
		counts := run.Counts()
		fmt.Fprintf(w, "%s\t%s\t%d/%d\t%d\t%d\t%s\t%s\n",
			run.ID,
			run.Status,
			run.Position,
			run.Total,
			counts[campaign.TagSuccess],
			counts[campaign.TagSkipped],
			run.EndedAt.Local().Format("2006-01-02 15:04"),
			run.EndedAt.Sub(run.StartedAt).Round(time.Second),
		)
	}

	w.Flush()
	fmt.Fprintf(out, "\nTotal: %d runs\n", len(runs))
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	storage, err := openArchive()
	if err != nil {
		return err
	}
	defer storage.Close()

	run, err := storage.Get(context.Background(), args[0])
	if errors.Is(err, archive.ErrNotFound) {
		return fmt.Errorf("run not found: %s", args[0])
	}
	if err != nil {
		return fmt.Errorf("failed to get run: %w", err)
	}

	printRun(cmd.OutOrStdout(), run)
	return nil
}

func printRun(out io.Writer, run *archive.Run) {
	fmt.Fprintf(out, "Run: %s\n\n", run.ID)
	fmt.Fprintf(out, "Status:     %s\n", run.Status)
	fmt.Fprintf(out, "Progress:   %d/%d\n", run.Position, run.Total)
	fmt.Fprintf(out, "Started:    %s\n", run.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "Ended:      %s\n", run.EndedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "Delay:      %s between, %s send action\n",
		run.Config.DelayBetween.Duration(), run.Config.SendActionDelay.Duration())

	counts := run.Counts()
	tags := make([]string, 0, len(counts))
	for tag := range counts {
		tags = append(tags, string(tag))
	}
	sort.Strings(tags)
	for _, tag := range tags {
		fmt.Fprintf(out, "  %-8s  %d\n", tag, counts[campaign.Tag(tag)])
	}

	if len(run.Entries) == 0 {
		return
	}

	fmt.Fprintln(out, "\nLog:")
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, e := range run.Entries {
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.Timestamp.Local().Format("15:04:05"), e.Tag, e.Message)
	}
	w.Flush()
}

func runHistoryDelete(cmd *cobra.Command, args []string) error {
	storage, err := openArchive()
	if err != nil {
		return err
	}
	defer storage.Close()

	id := args[0]
	if err := storage.Delete(context.Background(), id); err != nil {
		if errors.Is(err, archive.ErrNotFound) {
			return fmt.Errorf("run not found: %s", id)
		}
		return fmt.Errorf("failed to delete run: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Run %s deleted\n", id)
	return nil
}
