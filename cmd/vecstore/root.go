package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/vecstore"
)

// globalFlags are shared by all subcommands.
type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:   "vecstore",
		Short: "Operate vector storage segments",
		Long: `vecstore inspects and maintains vector storage segments.

Examples:
  vecstore info -c segment.yaml
  vecstore migrate text memmap -c segment.yaml
  vecstore snapshot create backup.tar.zst -c segment.yaml
  vecstore snapshot upload --store s3 --bucket backups -c segment.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "vecstore.yaml", "segment config file")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "text", "log format: text, json")

	root.AddCommand(
		newInfoCmd(g),
		newMigrateCmd(g),
		newFlushCmd(g),
		newSnapshotCmd(g),
	)
	return root
}

func (g *globalFlags) logger() (*vecstore.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(g.logLevel)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", g.logLevel)
	}
	switch strings.ToLower(g.logFormat) {
	case "text":
		return vecstore.NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
	case "json":
		return vecstore.NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q", g.logFormat)
	}
}

func (g *globalFlags) config() (vecstore.Config, error) {
	return vecstore.LoadConfig(g.configPath)
}

// openManager loads the config and opens the segment.
func (g *globalFlags) openManager(cmd *cobra.Command) (*vecstore.Manager, error) {
	cfg, err := g.config()
	if err != nil {
		return nil, err
	}
	logger, err := g.logger()
	if err != nil {
		return nil, err
	}
	return vecstore.Open(cmd.Context(), cfg, vecstore.WithLogger(logger))
}
