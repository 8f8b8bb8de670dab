// Package cmd implements the CLI commands for lidarcap.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jmylchreest/lidarcap/internal/config"
	"github.com/jmylchreest/lidarcap/internal/observability"
	"github.com/jmylchreest/lidarcap/internal/version"
)

// cfgFile holds the config file path from CLI flag.
var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "lidarcap",
	Short:   "Multi-stream RGB, depth and pose recorder",
	Version: version.Short(),
	Long: `lidarcap records synchronized color video, depth, confidence and camera
pose streams from a depth-capable sensor.

Each recording is written to its own directory with an H.264 full video, an
optional curated "good frames" set, block-compressed depth and confidence
planes, a pose log and a JSON manifest describing every stream.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return initLogging()
	}

	// Log flags are not bound to viper; they only override config and env
	// when explicitly set.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.lidarcap.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (text, json)")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/lidarcap")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".lidarcap")
	}

	viper.SetEnvPrefix("LIDARCAP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// initLogging configures the default slog logger.
//
// Priority order (highest to lowest):
//  1. CLI flags (--log-level, --log-format) - only if explicitly provided
//  2. Environment variables (LIDARCAP_LOGGING_LEVEL, LIDARCAP_LOGGING_FORMAT)
//  3. Config file values
//  4. Built-in defaults (info, json)
func initLogging() error {
	level := viper.GetString("logging.level")
	format := viper.GetString("logging.format")

	if rootCmd.PersistentFlags().Changed("log-level") {
		level, _ = rootCmd.PersistentFlags().GetString("log-level")
	}
	if rootCmd.PersistentFlags().Changed("log-format") {
		format, _ = rootCmd.PersistentFlags().GetString("log-format")
	}

	if level == "" {
		level = "info"
	}
	if format == "" {
		format = "json"
	}

	logCfg := config.LoggingConfig{
		Level:        strings.ToLower(level),
		Format:       strings.ToLower(format),
		AddSource:    viper.GetBool("logging.add_source"),
		TimeFormat:   viper.GetString("logging.time_format"),
		RedactFields: viper.GetStringSlice("logging.redact_fields"),
	}
	if logCfg.Level == "warning" {
		logCfg.Level = "warn"
	}

	// Keep the resolved values so loadConfig validates what is actually used.
	viper.Set("logging.level", logCfg.Level)
	viper.Set("logging.format", logCfg.Format)

	logger := observability.NewLoggerWithWriter(logCfg, os.Stderr)
	logger = observability.WithApp(logger, "lidarcap")
	observability.SetDefault(logger)

	return nil
}

// loadConfig decodes and validates the merged flag, env, file and default
// configuration. Several commands share --data-dir and --database, so they are
// bound here for the command that actually runs.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if f := cmd.Flag("data-dir"); f != nil {
		mustBindPFlag("storage.base_dir", f)
	}
	if f := cmd.Flag("database"); f != nil {
		mustBindPFlag("database.dsn", f)
	}
	cfg, err := config.Decode(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// mustBindPFlag binds a viper key to a cobra flag and panics if binding fails.
func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %q to key %q: %v", flag.Name, key, err))
	}
}
