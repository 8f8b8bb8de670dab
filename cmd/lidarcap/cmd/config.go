package cmd

import (
	"fmt"
	"reflect"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/lidarcap/internal/config"
	"github.com/jmylchreest/lidarcap/pkg/duration"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing lidarcap configuration.`,
}

var configDefaultsOnly bool

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the effective configuration",
	Long: `Dump the effective configuration in YAML format.

With --defaults only built-in defaults are shown, which makes a good
starting point for a configuration file:

  lidarcap config dump --defaults > .lidarcap.yaml

Configuration can be set via:
  - Config file (.lidarcap.yaml in $HOME, the working directory or /etc/lidarcap)
  - Environment variables (LIDARCAP_SERVER_PORT, LIDARCAP_CAPTURE_TARGET_FPS, etc.)
  - Command-line flags (for some options)

Environment variables use the LIDARCAP_ prefix and underscores for nesting.
Example: capture.pool_capacity -> LIDARCAP_CAPTURE_POOL_CAPACITY`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
	configDumpCmd.Flags().BoolVar(&configDefaultsOnly, "defaults", false, "ignore config files and environment")
}

// toMap converts a config struct to a map keyed by mapstructure tags, with
// durations and byte sizes in their human-readable form.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		key := typ.Field(i).Tag.Get("mapstructure")
		if key == "" {
			key = typ.Field(i).Name
		}

		switch v := field.Interface().(type) {
		case time.Duration:
			result[key] = duration.Format(v)
		case config.ByteSize:
			result[key] = humanize.IBytes(uint64(max(v.Bytes(), 0)))
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(field.Interface())
			} else {
				result[key] = field.Interface()
			}
		}
	}
	return result
}

func runConfigDump(cmd *cobra.Command, _ []string) error {
	var (
		cfg *config.Config
		err error
	)
	if configDefaultsOnly {
		v := viper.New()
		config.SetDefaults(v)
		cfg, err = config.Decode(v)
	} else {
		cfg, err = loadConfig(cmd)
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	yamlData, err := yaml.Marshal(toMap(cfg))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "# lidarcap Configuration File")
	fmt.Fprintln(out, "# ===========================")
	fmt.Fprintln(out, "#")
	fmt.Fprintln(out, "# Duration format: 500ms, 30s, 5m, 1h, 30d")
	fmt.Fprintln(out, "# Size format: 512MiB, 2GB")
	fmt.Fprintln(out, "#")
	fmt.Fprintln(out, "# Environment variable overrides:")
	fmt.Fprintln(out, "#   LIDARCAP_SERVER_HOST, LIDARCAP_SERVER_PORT")
	fmt.Fprintln(out, "#   LIDARCAP_DATABASE_DRIVER, LIDARCAP_DATABASE_DSN")
	fmt.Fprintln(out, "#   LIDARCAP_STORAGE_BASE_DIR, LIDARCAP_STORAGE_MIN_FREE_SPACE")
	fmt.Fprintln(out, "#   LIDARCAP_ENCODER_KIND, LIDARCAP_COMPRESSION_CODEC")
	fmt.Fprintln(out, "#   etc.")
	fmt.Fprintln(out, "#")
	fmt.Fprintln(out)
	_, err = out.Write(yamlData)
	return err
}
