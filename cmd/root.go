package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/qprofile/internal/app"
	"github.com/zjrosen/qprofile/internal/config"
	"github.com/zjrosen/qprofile/internal/log"
)

var (
	version    = "dev"
	cfgFile    string
	debugFlag  bool
	cfg        config.Config
	configPath string
	logCleanup func()
)

var rootCmd = &cobra.Command{
	Use:   "qprofile",
	Short: "Discover and select Amazon Q Developer profiles",
	Long: `qprofile lists the Amazon Q Developer profiles visible to your IAM
Identity Center connection, remembers which one is active, and routes
backend calls through clients bound to that profile.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
	PersistentPostRun: func(*cobra.Command, []string) {
		if logCleanup != nil {
			logCleanup()
			logCleanup = nil
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ~/.config/qprofile/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false,
		"write debug logs (also QPROFILE_DEBUG=1)")
}

func initConfig(cmd *cobra.Command, _ []string) error {
	var (
		err  error
		used string
	)
	cfg, used, err = config.Load(viper.New(), cfgFile)
	if err != nil {
		return err
	}
	configPath = used
	if configPath == "" {
		configPath = cfgFile
	}
	if configPath == "" {
		configPath = config.LocalConfigPath
		if dir := config.DefaultConfigDir(); dir != "" {
			configPath = filepath.Join(dir, "config.yaml")
		}
	}

	debug := debugFlag || os.Getenv("QPROFILE_DEBUG") != ""
	if debug || cfg.Log.File != "" {
		logPath := cfg.Log.File
		if logPath == "" {
			logPath = "debug.log"
		}
		cleanup, err := log.InitWithTeaLog(logPath, "qprofile")
		if err != nil {
			return fmt.Errorf("initializing logging: %w", err)
		}
		logCleanup = cleanup
		level := log.ParseLevel(cfg.Log.Level)
		if debug {
			level = log.LevelDebug
		}
		log.SetMinLevel(level)
		log.Info(log.CatConfig, "qprofile starting", "version", version, "config", used, "command", cmd.CommandPath())
	}
	return nil
}

// openApp builds the application from the loaded config.
func openApp(ctx context.Context) (*app.App, error) {
	a, err := app.New(ctx, cfg, app.Deps{})
	if err != nil {
		return nil, fmt.Errorf("starting qprofile: %w", err)
	}
	return a, nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
