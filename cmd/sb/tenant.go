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

func newTenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage bridge tenants",
	}

	cmd.AddCommand(newTenantAddCmd())
	cmd.AddCommand(newTenantListCmd())
	cmd.AddCommand(newTenantRemoveCmd())
	cmd.AddCommand(newTenantReconnectCmd())
	cmd.AddCommand(newTenantLogoutCmd())
	cmd.AddCommand(newTenantSetCmd())
	return cmd
}

func newTenantSetCmd() *cobra.Command {
	var configPath string
	var (
		name          string
		category      string
		opsChannel    string
		greeting      string
		closing       string
		greetContacts bool
		closingNotice bool
	)

	cmd := &cobra.Command{
		Use:   "set <tenant-id>",
		Short: "Update tenant settings",
		Long:  "Updates tenant settings. Only flags you pass change; everything else keeps its stored value. A running daemon picks changes up immediately.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch models.SettingsPatch
			if cmd.Flags().Changed("name") {
				patch.Name = &name
			}
			if cmd.Flags().Changed("category") {
				patch.CategoryID = &category
			}
			if cmd.Flags().Changed("ops-channel") {
				patch.OpsChannelID = &opsChannel
			}
			if cmd.Flags().Changed("greeting") {
				patch.GreetingTemplate = &greeting
			}
			if cmd.Flags().Changed("closing") {
				patch.ClosingTemplate = &closing
			}
			if cmd.Flags().Changed("greet-contacts") {
				patch.GreetNewContacts = &greetContacts
			}
			if cmd.Flags().Changed("closing-notice") {
				patch.SendClosingNotice = &closingNotice
			}
			return runTenantSet(cmd, configPath, args[0], patch)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	cmd.Flags().StringVar(&name, "name", "", "display name for the tenant")
	cmd.Flags().StringVar(&category, "category", "", "parent category for ticket channels")
	cmd.Flags().StringVar(&opsChannel, "ops-channel", "", "channel for operator notices and pairing codes")
	cmd.Flags().StringVar(&greeting, "greeting", "", "greeting template for new contacts")
	cmd.Flags().StringVar(&closing, "closing", "", "closing-notice template")
	cmd.Flags().BoolVar(&greetContacts, "greet-contacts", true, "greet new contacts")
	cmd.Flags().BoolVar(&closingNotice, "closing-notice", true, "send closing notices")
	return cmd
}

func runTenantSet(cmd *cobra.Command, configPath, tenantID string, patch models.SettingsPatch) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	gormDB, err := db.Connect(cfg.DB)
	if err != nil {
		return err
	}

	var tenant models.Tenant
	if err := gormDB.Where("tenant_id = ?", tenantID).First(&tenant).Error; err != nil {
		return fmt.Errorf("tenant %s not found", tenantID)
	}
	tenant.Apply(patch)
	if err := gormDB.Save(&tenant).Error; err != nil {
		return fmt.Errorf("save settings for %s: %w", tenantID, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Tenant %s settings updated\n", tenantID)
	return nil
}

func newTenantAddCmd() *cobra.Command {
	var configPath string
	var name string

	cmd := &cobra.Command{
		Use:   "add <tenant-id>",
		Short: "Register a tenant and start its bridge session",
		Long:  "Registers a tenant with the running daemon, which starts the pairing flow. If no daemon is running, the tenant record is created directly and picked up at the next daemon start.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTenantAdd(cmd, configPath, args[0], name)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	cmd.Flags().StringVarP(&name, "name", "n", "", "display name for the tenant")
	return cmd
}

func runTenantAdd(cmd *cobra.Command, configPath, tenantID, name string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	path := "/api/tenants/" + url.PathEscape(tenantID)
	if name != "" {
		path += "?name=" + url.QueryEscape(name)
	}
	_, err = apiCall(cfg, "POST", path)
	if err == nil {
		fmt.Fprintf(out, "Tenant %s registered — watch the ops channel for the pairing code\n", tenantID)
		return nil
	}
	if !errors.Is(err, errDaemonDown) {
		return err
	}

	gormDB, err := db.Connect(cfg.DB)
	if err != nil {
		return err
	}
	tenant := models.Tenant{
		TenantID:          tenantID,
		Name:              name,
		ConnectionState:   models.StateUninitialized,
		GreetNewContacts:  true,
		SendClosingNotice: true,
	}
	if err := gormDB.Create(&tenant).Error; err != nil {
		return fmt.Errorf("create tenant %s: %w", tenantID, err)
	}
	fmt.Fprintf(out, "Tenant %s created — it will pair when the daemon starts\n", tenantID)
	return nil
}

func newTenantListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTenantList(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	return cmd
}

func runTenantList(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	gormDB, err := db.Connect(cfg.DB)
	if err != nil {
		return err
	}

	var tenants []models.Tenant
	if err := gormDB.Order("tenant_id").Find(&tenants).Error; err != nil {
		return fmt.Errorf("list tenants: %w", err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TENANT\tNAME\tSTATE\tOPEN TICKETS")
	for _, t := range tenants {
		var open int64
		gormDB.Model(&models.Ticket{}).
			Where("tenant_id = ? AND status = ?", t.TenantID, models.TicketOpen).
			Count(&open)
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", t.TenantID, t.Name, t.ConnectionState, open)
	}
	return w.Flush()
}

func newTenantRemoveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "remove <tenant-id>",
		Short: "Tear down a tenant's session and delete its record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTenantRemove(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	return cmd
}

func runTenantRemove(cmd *cobra.Command, configPath, tenantID string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	_, err = apiCall(cfg, "DELETE", "/api/tenants/"+url.PathEscape(tenantID))
	if err == nil {
		fmt.Fprintf(out, "Tenant %s removed\n", tenantID)
		return nil
	}
	if !errors.Is(err, errDaemonDown) {
		return err
	}

	gormDB, err := db.Connect(cfg.DB)
	if err != nil {
		return err
	}
	if err := gormDB.Where("tenant_id = ?", tenantID).Delete(&models.Tenant{}).Error; err != nil {
		return fmt.Errorf("delete tenant %s: %w", tenantID, err)
	}
	fmt.Fprintf(out, "Tenant %s deleted from the database\n", tenantID)
	return nil
}

func newTenantReconnectCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "reconnect <tenant-id>",
		Short: "Force a fresh pairing flow for a tenant",
		Long:  "Tears down the tenant's session, wipes its stored credentials, and starts a new pairing flow. Requires a running daemon.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTenantAction(cmd, configPath, args[0], "reconnect", "/reconnect")
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	return cmd
}

func newTenantLogoutCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "logout <tenant-id>",
		Short: "Log a tenant out of the messaging network",
		Long:  "Unregisters the paired device and clears stored credentials. The tenant stays registered; reconnect starts a new pairing flow. Requires a running daemon.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTenantAction(cmd, configPath, args[0], "logout", "/disconnect?logout=true")
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	return cmd
}

func runTenantAction(cmd *cobra.Command, configPath, tenantID, verb, suffix string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	_, err = apiCall(cfg, "POST", "/api/tenants/"+url.PathEscape(tenantID)+suffix)
	if err != nil {
		if errors.Is(err, errDaemonDown) {
			return fmt.Errorf("%s requires a running daemon (sb serve)", verb)
		}
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Tenant %s: %s requested\n", tenantID, verb)
	return nil
}
