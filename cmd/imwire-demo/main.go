// Command imwire-demo connects one session, waits for Online, then, when
// --to is given, sends a single text message to that peer — a minimal
// smoke test for the package,
// grounded on the pack's cobra+zerolog command shape (gosuda-portal's
// cmd/demo-app/main.go: package-level flag vars, an Execute-driven rootCmd,
// zerolog.ConsoleWriter on stdout).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/imwire/client"
)

var (
	flagConfigPath string
	flagTo         string
	flagText       string
)

var rootCmd = &cobra.Command{
	Use:   "imwire-demo",
	Short: "connect a session and send one message",
	RunE:  run,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagConfigPath, "config", "imwire-demo.toml", "path to a TOML config file")
	flags.StringVar(&flagTo, "to", "", "recipient JID (user@server)")
	flags.StringVar(&flagText, "text", "hello from imwire-demo", "message body")
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute imwire-demo")
	}
}

// fileConfig mirrors imwire.Config's TOML-friendly subset: the Secret
// field resolves to a StaticSecret at load time since SecretProvider isn't
// itself a serialisable shape.
type fileConfig struct {
	Server            string `toml:"server"`
	Port              int    `toml:"port"`
	Number            string `toml:"number"`
	Secret            string `toml:"secret"`
	Nickname          string `toml:"nickname"`
	AutoReceipts      bool   `toml:"auto_receipts"`
	KeepAliveInterval string `toml:"keep_alive_interval"`
}

func loadConfig(path string) (*imwire.Config, error) {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg := &imwire.Config{
		Server:       fc.Server,
		Port:         fc.Port,
		Number:       fc.Number,
		Secret:       imwire.StaticSecret([]byte(fc.Secret)),
		Nickname:     fc.Nickname,
		AutoReceipts: fc.AutoReceipts,
	}
	if fc.KeepAliveInterval != "" {
		d, err := time.ParseDuration(fc.KeepAliveInterval)
		if err != nil {
			return nil, fmt.Errorf("keep_alive_interval: %w", err)
		}
		cfg.KeepAliveInterval = d
	}
	return cfg, nil
}

func run(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(flagConfigPath)
	if err != nil {
		return err
	}

	sess := imwire.NewSession(cfg, nil)
	log.Info().Str("server", cfg.Server).Msg("connecting")
	if err := sess.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer sess.Disconnect()
	log.Info().Msg("online")

	if flagTo == "" {
		log.Info().Msg("no --to given, exiting after connect")
		return nil
	}

	id, err := sess.SendText(flagTo, flagText)
	if err != nil {
		return fmt.Errorf("send text: %w", err)
	}
	log.Info().Str("id", id).Str("to", flagTo).Msg("sent")

	<-ctx.Done()
	return nil
}
