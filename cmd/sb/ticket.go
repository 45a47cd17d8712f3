package main

import (
	"errors"
	"fmt"
	"net/url"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/db"
	"github.com/zulandar/switchboard/internal/models"
)

func newTicketCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ticket",
		Short: "Manage conversation tickets",
	}

	cmd.AddCommand(newTicketListCmd())
	cmd.AddCommand(newTicketCloseCmd())
	return cmd
}

func newTicketListCmd() *cobra.Command {
	var configPath string
	var tenantID string
	var all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tickets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTicketList(cmd, configPath, tenantID, all)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	cmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "only show tickets for this tenant")
	cmd.Flags().BoolVarP(&all, "all", "a", false, "include closed tickets")
	return cmd
}

func runTicketList(cmd *cobra.Command, configPath, tenantID string, all bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	gormDB, err := db.Connect(cfg.DB)
	if err != nil {
		return err
	}

	query := gormDB.Order("tenant_id, opened_at")
	if tenantID != "" {
		query = query.Where("tenant_id = ?", tenantID)
	}
	if !all {
		query = query.Where("status = ?", models.TicketOpen)
	}

	var tickets []models.Ticket
	if err := query.Find(&tickets).Error; err != nil {
		return fmt.Errorf("list tickets: %w", err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TENANT\tCONTACT\tCHANNEL\tSTATUS\tOPENED")
	for _, t := range tickets {
		status := t.Status
		if t.Retired {
			status += " (retired)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			t.TenantID, t.ContactID, t.ChannelID, status, t.OpenedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func newTicketCloseCmd() *cobra.Command {
	var configPath string
	var noNotice bool

	cmd := &cobra.Command{
		Use:   "close <channel-id>",
		Short: "Close the ticket behind a channel",
		Long:  "Closes the ticket whose conversation lives in the given channel: sends the closing notice (unless suppressed), exports the transcript, and marks the ticket closed. The channel stays; a later message from the contact reopens the same ticket there. Requires a running daemon.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTicketClose(cmd, configPath, args[0], noNotice)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	cmd.Flags().BoolVar(&noNotice, "no-notice", false, "skip the closing notice to the contact")
	return cmd
}

func runTicketClose(cmd *cobra.Command, configPath, channelID string, noNotice bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	path := "/api/channels/" + url.PathEscape(channelID) + "/close"
	if noNotice {
		path += "?notice=false"
	}
	if _, err := apiCall(cfg, "POST", path); err != nil {
		if errors.Is(err, errDaemonDown) {
			return fmt.Errorf("close requires a running daemon (sb serve)")
		}
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Ticket for channel %s closed\n", channelID)
	return nil
}
