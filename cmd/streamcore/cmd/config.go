package cmd

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/embedstream/streamcore/internal/config"
	"github.com/embedstream/streamcore/pkg/bytesize"
	"github.com/embedstream/streamcore/pkg/duration"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing streamcore configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

This shows all available configuration options with their default values.
You can redirect this output to a file to create a configuration template:

  streamcore config dump > config.yaml

Configuration can be set via:
  - Config file (config.yaml, .streamcore.yaml, /etc/streamcore/config.yaml)
  - Environment variables (STREAMCORE_DOWNLOADER_BLOCK_SIZE, STREAMCORE_DECODE_USE_HARDWARE, etc.)
  - Command-line flags (for some options)

Environment variables use the STREAMCORE_ prefix and underscores for nesting.
Example: downloader.block_size -> STREAMCORE_DOWNLOADER_BLOCK_SIZE`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// toMap converts a struct to a map, formatting durations and sizes for human readability.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Name
		}

		switch v := field.Interface().(type) {
		case time.Duration:
			result[key] = duration.Format(v)
		case int64:
			// Check if this looks like a byte size (field name contains "size")
			if contains(key, "size", "bytes") {
				result[key] = bytesize.Format(bytesize.Size(v))
			} else {
				result[key] = v
			}
		default:
			switch field.Kind() {
			case reflect.Struct:
				result[key] = toMap(field.Interface())
			case reflect.Map:
				sub := make(map[string]any, field.Len())
				for _, mk := range field.MapKeys() {
					sub[mk.String()] = toMap(field.MapIndex(mk).Interface())
				}
				result[key] = sub
			default:
				result[key] = field.Interface()
			}
		}
	}
	return result
}

func contains(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// writeYAMLish prints a map as indented key: value lines. It is not a
// general YAML encoder, just enough structure for a config dump: scalars,
// nested maps, and the stringer types config already knows how to format
// human-readably (ByteSize, Duration).
func writeYAMLish(w *strings.Builder, m map[string]any, indent int) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pad := strings.Repeat("  ", indent)
	for _, k := range keys {
		switch v := m[k].(type) {
		case map[string]any:
			fmt.Fprintf(w, "%s%s:\n", pad, k)
			writeYAMLish(w, v, indent+1)
		case string:
			fmt.Fprintf(w, "%s%s: %q\n", pad, k, v)
		case []string:
			fmt.Fprintf(w, "%s%s: [%s]\n", pad, k, strings.Join(v, ", "))
		default:
			fmt.Fprintf(w, "%s%s: %v\n", pad, k, v)
		}
	}
}

func runConfigDump(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cfgMap := toMap(cfg)

	var b strings.Builder
	writeYAMLish(&b, cfgMap, 0)

	fmt.Println("# streamcore configuration file")
	fmt.Println("# ==============================")
	fmt.Println("#")
	fmt.Println("# All values shown below are defaults.")
	fmt.Println("# Duration format: 30s, 5m, 1h, 30d")
	fmt.Println("# Size format: 256KB, 1MB")
	fmt.Println("#")
	fmt.Println("# Environment variable overrides:")
	fmt.Println("#   STREAMCORE_DOWNLOADER_BLOCK_SIZE, STREAMCORE_DOWNLOADER_MAX_CACHE_BLOCKS")
	fmt.Println("#   STREAMCORE_DECODE_USE_HARDWARE, STREAMCORE_DECODE_HWACCEL_TYPE")
	fmt.Println("#   STREAMCORE_LOGGING_LEVEL, STREAMCORE_LOGGING_FORMAT")
	fmt.Println("#   etc.")
	fmt.Println("#")
	fmt.Println("")
	fmt.Print(b.String())

	return nil
}
