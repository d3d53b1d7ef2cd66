package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/fakeyudi/aiop/internal/config"
)

// defaultConfigFile is read when --config is not given; it may be absent.
const defaultConfigFile = "osiris.yaml"

var configFlagUsage = map[string]string{
	config.KeyPolicy:          "oversize policy: core or annex (default core)",
	config.KeyMaxCoreBytes:    "byte ceiling of the core report (default 300000)",
	config.KeyCompress:        "annex compression: none or gzip (default none)",
	config.KeyMetricsTopK:     "metric series that keep their samples (default 100)",
	config.KeyTimelineDensity: "timeline density: low, medium or high (default medium)",
	config.KeySchemaMode:      "semantic layer: summary or full (default summary)",
	config.KeyFormat:          "core report format: json or md (default json)",
	config.KeyOutputDir:       "directory for run reports (default aiop)",
	config.KeyAnnexDir:        "directory for annex files (default <run dir>/annex)",
	config.KeyIndexDir:        "directory for the run index (default <output dir>/index)",
	config.KeyKeepRuns:        "runs to keep per pipeline, 0 keeps all",
}

// addConfigFlags registers --config and one string flag per option key.
// Values stay raw strings so the config layer validates them the same way
// for every source.
func addConfigFlags(fs *pflag.FlagSet, keys ...string) {
	fs.String("config", defaultConfigFile, "YAML config file (options flat or under an aiop: mapping)")
	for _, k := range keys {
		fs.String(config.FlagName(k), "", configFlagUsage[k]+"; env "+config.EnvName(k))
	}
}

// resolveConfig merges defaults, the YAML file, the environment and the
// flags the user actually set.
func resolveConfig(cmd *cobra.Command) (*config.Resolved, error) {
	fs := cmd.Flags()
	flags := map[string]string{}
	for _, k := range config.Keys {
		f := fs.Lookup(config.FlagName(k))
		if f == nil || !f.Changed {
			continue
		}
		flags[k] = f.Value.String()
	}
	path, err := fs.GetString("config")
	if err != nil {
		return nil, err
	}
	return config.Resolve(config.ResolveOptions{YAMLPath: path, Flags: flags})
}
