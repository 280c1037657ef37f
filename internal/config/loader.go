package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// maxUpwardSearchLevels limits how far up the directory tree to search for
// a project config file.
const maxUpwardSearchLevels = 10

// FindConfigFile locates the config file to use.
// Priority: explicit path > sbdk_config.json in cwd > upward search.
// Returns "" when nothing is found.
func FindConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return findProjectConfigUpward(cwd)
}

// findProjectConfigUpward searches upward from startDir for sbdk_config.json.
func findProjectConfigUpward(startDir string) string {
	dir := startDir
	for i := 0; i < maxUpwardSearchLevels; i++ {
		candidate := filepath.Join(dir, ConfigFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			break
		}
		dir = parent
	}
	return ""
}

// Load loads the project configuration.
// Precedence (highest to lowest): flags > env vars > config file > defaults.
// A fresh koanf instance is used on every call: commands always see the file
// as it is on disk, never a cached copy from an earlier invocation.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	configFileUsed := FindConfigFile(cfgFile)
	if configFileUsed == "" {
		cwd, _ := os.Getwd()
		return nil, fmt.Errorf("%w: no %s in %s or any parent directory", ErrNotFound, ConfigFileName, cwd)
	}

	absConfig, err := filepath.Abs(configFileUsed)
	if err != nil {
		return nil, fmt.Errorf("resolve config path %s: %w", configFileUsed, err)
	}
	projectRoot := filepath.Dir(absConfig)

	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(confmap.Provider(map[string]interface{}{
		"target":         DefaultTarget,
		"template":       DefaultTemplate,
		"pipelines_path": DefaultPipelines,
		"transform_path": DefaultTransform,
		"profiles_dir":   DefaultProfilesDir,
		"webhook_host":   DefaultWebhookHost,
		"webhook_port":   DefaultWebhookPort,
		"auto_reload":    true,
		"watch_paths":    DefaultWatchPaths,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file (JSON)
	if err := k.Load(file.Provider(absConfig), kjson.Parser()); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFileUsed, err)
	}

	// 3. Environment variables (SBDK_ prefix)
	// Transform: SBDK_DATABASE_PATH -> database_path
	if err := k.Load(env.Provider("SBDK_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "SBDK_"))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags (highest priority)
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			// Only load flags that were explicitly set
			if !f.Changed {
				return "", nil
			}
			key := strings.ReplaceAll(f.Name, "-", "_")

			// The CLI uses --port and --host for brevity; the config keys
			// carry the webhook_ prefix.
			switch key {
			case "port":
				return "webhook_port", posflag.FlagVal(flags, f)
			case "host":
				return "webhook_host", posflag.FlagVal(flags, f)
			}

			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// StringToSlice lets SBDK_WATCH_PATHS="pipelines,dbt/models" work from
	// the environment, where list syntax is unavailable.
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook:       mapstructure.StringToSliceHookFunc(","),
			Result:           &cfg,
			WeaklyTypedInput: true,
		},
	}); err != nil {
		return nil, fmt.Errorf("unable to decode config %s: %w", configFileUsed, err)
	}

	cfg.ProjectRoot = projectRoot

	// The database path defaults to data/<project>.duckdb once the project
	// name is known.
	if cfg.DatabasePath == "" && cfg.Project != "" {
		cfg.DatabasePath = filepath.Join("data", cfg.Project+".duckdb")
	}

	cfg.DatabasePath = resolvePathRelativeTo(expandEnvVars(cfg.DatabasePath), projectRoot)
	cfg.PipelinesPath = resolvePathRelativeTo(expandEnvVars(cfg.PipelinesPath), projectRoot)
	cfg.TransformPath = resolvePathRelativeTo(expandEnvVars(cfg.TransformPath), projectRoot)
	cfg.ProfilesDir = resolvePathRelativeTo(ExpandHome(expandEnvVars(cfg.ProfilesDir)), projectRoot)
	for i, p := range cfg.WatchPaths {
		cfg.WatchPaths[i] = resolvePathRelativeTo(expandEnvVars(p), projectRoot)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configFileUsed, err)
	}

	return &cfg, nil
}

// resolvePathRelativeTo resolves a path relative to baseDir if it's not absolute.
// Returns the path unchanged if it's empty or already absolute.
func resolvePathRelativeTo(path, baseDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// ExpandHome expands a leading ~ to the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
	}
	return path
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match // Return original if not found
	})
}
