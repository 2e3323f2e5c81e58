package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	qrterminal "github.com/mdp/qrterminal/v3"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
)

var (
	colorPrimary = lipgloss.Color("#7B68EE")
	colorMuted   = lipgloss.Color("#636363")

	bannerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorPrimary).
			Padding(0, 1)
	bannerTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary)
	bannerMutedStyle = lipgloss.NewStyle().Foreground(colorMuted)
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "groupbot [profile]",
		Short:        "Nostr group chat manager bot",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			profile := defaultProfileFile
			if len(args) == 1 {
				profile = args[0]
			}
			return run(cmd.Context(), profile, cmd.OutOrStdout())
		},
	}
}

func run(parent context.Context, profile string, out io.Writer) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	keys, created, err := loadOrCreateKeys(profile)
	if err != nil {
		return err
	}
	if created {
		logger.Info("new identity created", "profile", profile)
	}
	logger.Info("identity loaded", "npub", keys.NPub, "relays", len(cfg.Relays), "group_relay", cfg.GroupRelay)
	printBanner(out, cfg.Profile.Name, keys.NPub)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	tr := newNostrTransport(cfg, keys, logger.With("component", "nostr"))
	defer tr.Close()

	bot := newBot(cfg, tr, logger, nil)
	saved, err := LoadState(cfg.StateFile, logger)
	if err != nil {
		return err
	}
	bot.RestoreSubscriptions(saved)

	tr.Start(ctx, bot)
	bot.Init(ctx)
	runErr := bot.Run(ctx)

	if err := SaveState(cfg.StateFile, bot.Subscriptions()); err != nil {
		logger.Error("save state failed", "path", cfg.StateFile, "err", err)
		if runErr == nil {
			runErr = err
		}
	} else {
		logger.Info("state saved", "path", cfg.StateFile)
	}
	return runErr
}

// printBanner shows the bot address and its QR code on interactive terminals.
func printBanner(out io.Writer, name, npub string) {
	if termenv.NewOutput(out).Profile == termenv.Ascii {
		return
	}
	var b strings.Builder
	b.WriteString(bannerTitleStyle.Render(name))
	b.WriteString("\n")
	b.WriteString(bannerMutedStyle.Render(npub))
	b.WriteString("\n\n")
	qrterminal.GenerateWithConfig("nostr:"+npub, qrterminal.Config{
		Level:          qrterminal.M,
		Writer:         &b,
		HalfBlocks:     true,
		BlackChar:      qrterminal.BLACK_BLACK,
		WhiteChar:      qrterminal.WHITE_WHITE,
		BlackWhiteChar: qrterminal.BLACK_WHITE,
		WhiteBlackChar: qrterminal.WHITE_BLACK,
		QuietZone:      1,
	})
	fmt.Fprintln(out, bannerStyle.Render(strings.TrimRight(b.String(), "\n")))
}
