package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/pacer/internal/api"
	"github.com/foxzi/pacer/internal/app"
	"github.com/foxzi/pacer/internal/campaign"
	"github.com/foxzi/pacer/internal/client"
)

var (
	serverURL           string
	apiKey              string
	startRecipientsFile string
	logLimit            int
	requestTimeout      = 30 * time.Second
)

var campaignCmd = &cobra.Command{
	Use:   "campaign",
	Short: "Control the campaign on a running server",
}

var campaignStartCmd = &cobra.Command{
	Use:   "start [campaign.yaml]",
	Short: "Start a campaign",
	Long: `Start a campaign on the server. Without a file the server starts its
configured default campaign.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCampaignStart,
}

var campaignStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show campaign progress",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			p, err := c.Progress(ctx)
			if err != nil {
				return err
			}
			printProgress(cmd.OutOrStdout(), p)
			return nil
		})
	},
}

var campaignLogCmd = &cobra.Command{
	Use:   "log",
	Short: "Show the activity log, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			resp, err := c.Log(ctx, logLimit)
			if err != nil {
				return err
			}
			printLog(cmd.OutOrStdout(), resp)
			return nil
		})
	},
}

var campaignMarkCmd = &cobra.Command{
	Use:   "mark <index> <Pending|Delivered|Read|Failed>",
	Short: "Set the delivery status of a sent message",
	Long: `Set the delivery status of a log entry. The index is the entry's
position in the newest-first log, as shown by "pacer campaign log".`,
	Args: cobra.ExactArgs(2),
	RunE: runCampaignMark,
}

func init() {
	campaignCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "", "server URL (default derived from api.listen_addr)")
	campaignCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key (default api.api_key from config)")

	campaignStartCmd.Flags().StringVar(&startRecipientsFile, "recipients", "", "CSV or plain list of recipients (overrides the campaign file)")
	campaignLogCmd.Flags().IntVarP(&logLimit, "limit", "n", 20, "max entries to show (0 = all)")

	campaignCmd.AddCommand(
		campaignStartCmd,
		actionCmd("stop", "Stop the campaign", (*client.Client).Stop),
		actionCmd("pause", "Pause the campaign", (*client.Client).Pause),
		actionCmd("resume", "Resume a paused campaign", (*client.Client).Resume),
		actionCmd("skip", "Skip the pending send action", (*client.Client).Skip),
		campaignStatusCmd,
		campaignLogCmd,
		campaignMarkCmd,
	)
	rootCmd.AddCommand(campaignCmd)
}

type actionFunc func(*client.Client, context.Context) (*api.ProgressResponse, error)

func actionCmd(name, short string, fn actionFunc) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				p, err := fn(c, ctx)
				if err != nil {
					return err
				}
				printProgress(cmd.OutOrStdout(), p)
				return nil
			})
		},
	}
}

// withClient builds a client from flags and config and runs fn with a
// request timeout
func withClient(cmd *cobra.Command, fn func(ctx context.Context, c *client.Client) error) error {
	url, key := serverURL, apiKey
	if url == "" || key == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if url == "" {
			url = serverURLFromListenAddr(cfg.API.ListenAddr)
		}
		if key == "" {
			key = cfg.API.APIKey
		}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()

	err := fn(ctx, client.NewClient(url, key))

	var apiErr *client.Error
	if errors.As(err, &apiErr) && len(apiErr.Fields) > 0 {
		w := cmd.ErrOrStderr()
		for field, msg := range apiErr.Fields {
			fmt.Fprintf(w, "  %s: %s\n", field, msg)
		}
	}
	return err
}

// serverURLFromListenAddr turns a listen address into a URL a local
// client can reach
func serverURLFromListenAddr(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimSuffix(addr, "/")
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func runCampaignStart(cmd *cobra.Command, args []string) error {
	var req *api.StartRequest

	if len(args) == 1 {
		camp, err := app.LoadCampaign(args[0], "", 0)
		if err != nil {
			return err
		}
		req = &api.StartRequest{Config: camp}

		if startRecipientsFile != "" {
			data, err := os.ReadFile(startRecipientsFile)
			if err != nil {
				return fmt.Errorf("failed to read recipients: %w", err)
			}
			req.RecipientsCSV = string(data)
		}
	} else if startRecipientsFile != "" {
		return fmt.Errorf("--recipients requires a campaign file")
	}

	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		p, err := c.Start(ctx, req)
		if err != nil {
			return err
		}
		printProgress(cmd.OutOrStdout(), p)
		return nil
	})
}

func runCampaignMark(cmd *cobra.Command, args []string) error {
	index, err := strconv.Atoi(args[0])
	if err != nil || index < 0 {
		return fmt.Errorf("invalid index %q", args[0])
	}
	status, err := campaign.ParseDeliveryStatus(args[1])
	if err != nil {
		return err
	}

	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		if err := c.MarkDelivery(ctx, index, status); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Entry %d marked %s\n", index, status)
		return nil
	})
}

func printProgress(w io.Writer, p *api.ProgressResponse) {
	fmt.Fprintf(w, "State:     %s\n", p.State)
	fmt.Fprintf(w, "Status:    %s\n", p.Status)
	if p.RunID != "" {
		fmt.Fprintf(w, "Run:       %s\n", p.RunID)
	}
	fmt.Fprintf(w, "Progress:  %d/%d\n", p.Position, p.Total)
	if p.Recipient != "" {
		fmt.Fprintf(w, "Recipient: %s\n", p.Recipient)
	}
	fmt.Fprintf(w, "Log:       %d entries\n", p.LogEntries)
}

func printLog(w io.Writer, resp *api.LogResponse) {
	if len(resp.Entries) == 0 {
		fmt.Fprintln(w, "Log is empty")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tTIME\tTAG\tDELIVERY\tMESSAGE")
	for i, e := range resp.Entries {
		delivery := "-"
		if e.Details != nil && e.Details.DeliveryStatus != nil {
			delivery = string(*e.Details.DeliveryStatus)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			i,
			e.Timestamp.Local().Format("2006-01-02 15:04:05"),
			e.Tag,
			delivery,
			e.Message,
		)
	}
	tw.Flush()

	if resp.Total > len(resp.Entries) {
		fmt.Fprintf(w, "\n%d of %d entries shown\n", len(resp.Entries), resp.Total)
	}
}
