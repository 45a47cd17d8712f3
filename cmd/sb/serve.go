package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/bridge"
	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/db"
	"github.com/zulandar/switchboard/internal/local"
	"github.com/zulandar/switchboard/internal/local/discord"
	"github.com/zulandar/switchboard/internal/local/slack"
	"github.com/zulandar/switchboard/internal/remote"
	"github.com/zulandar/switchboard/internal/status"
)

// newRemoteClient builds the messaging-network session client for a tenant.
// Deployments link a concrete client implementation by overriding this
// factory before execute runs; the stock binary carries none.
var newRemoteClient bridge.RemoteClientFactory = func(tenantID string) (remote.Client, error) {
	return nil, fmt.Errorf("no messaging-network client is linked into this build")
}

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Switchboard bridge daemon",
		Long:  "Restores all persisted tenants, bridges their sessions, and serves the status API until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Connect(cfg.DB)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}

	channels, closeChannels, err := createChannelClient(cfg)
	if err != nil {
		return err
	}
	defer closeChannels()
	fmt.Fprintf(out, "Connected to %s\n", cfg.Local.Platform)

	reg, err := bridge.NewRegistry(bridge.RegistryOpts{
		DB:        gormDB,
		Channels:  channels,
		NewRemote: newRemoteClient,
		Bridge:    cfg.Bridge,
		Out:       out,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := reg.Restore(ctx); err != nil {
		return err
	}

	if cfg.Status.Enabled {
		go func() {
			if err := status.Start(ctx, status.StartOpts{
				Registry: reg,
				Port:     cfg.Status.Port,
				Out:      out,
			}); err != nil {
				log.Printf("serve: status server: %v", err)
			}
		}()
	}

	go func() {
		if err := reg.RunSweepSchedule(ctx, cfg.Bridge.SweepCron); err != nil {
			log.Printf("serve: sweep disabled: %v", err)
		}
	}()

	fmt.Fprintf(out, "Switchboard running — press Ctrl+C to stop\n")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Fprintf(out, "Shutting down...\n")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	reg.Shutdown(shutdownCtx)
	return nil
}

// createChannelClient builds the channel-network adapter selected by config.
// The returned func releases any underlying connection.
func createChannelClient(cfg *config.Config) (local.ChannelClient, func(), error) {
	switch cfg.Local.Platform {
	case "discord":
		client, err := discord.New(discord.ClientOpts{
			BotToken:   cfg.Local.DiscordToken,
			GuildID:    cfg.Local.DiscordGuildID,
			CategoryID: cfg.Local.DiscordCategory,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := client.Connect(context.Background()); err != nil {
			return nil, nil, err
		}
		return client, func() { client.Close() }, nil
	case "slack":
		client, err := slack.New(slack.ClientOpts{
			BotToken: cfg.Local.SlackBotToken,
		})
		if err != nil {
			return nil, nil, err
		}
		return client, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("serve: unsupported platform %q", cfg.Local.Platform)
	}
}
