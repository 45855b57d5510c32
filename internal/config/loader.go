package config

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvSpec maps one environment variable onto a config key.
type EnvSpec struct {
	Name string
	Path string
}

var (
	configMu  sync.RWMutex
	appConfig *Config
)

// Load builds the configuration. configFile may be empty, in which case the
// first existing user config path is used, if any. Later overrides win.
func Load(ctx context.Context, configFile string, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	for key, value := range defaults() {
		v.SetDefault(key, value)
	}

	path := strings.TrimSpace(configFile)
	if path == "" {
		path = firstExisting(getUserConfigPaths())
	}
	if path != "" {
		if err := readConfigFile(v, path); err != nil {
			return nil, err
		}
	}

	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		for key, value := range flatten("", o) {
			v.Set(key, value)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()
	return &cfg, nil
}

// GetConfig returns the most recently loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func readConfigFile(v *viper.Viper, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := ValidateFile(b); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, path, err)
	}
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(b)); err != nil {
		return fmt.Errorf("%w: parse %s: %w", ErrInvalidConfig, path, err)
	}
	return nil
}

func getEnvSpecs() []EnvSpec {
	return []EnvSpec{
		{Name: EnvXnatServer, Path: "server"},
		{Name: EnvControl, Path: "control_folder"},
		{Name: EnvPutServerList, Path: "put_servers"},
		{Name: EnvJobsHome, Path: "jobs_home"},
		{Name: EnvBuildDir, Path: "build_home"},
		{Name: EnvArchiveRoot, Path: "archive_root"},
		{Name: EnvPrefix + "_TIMEOUT", Path: "timeout"},
		{Name: EnvPrefix + "_SETUP_SCRIPT", Path: "setup.script"},
		{Name: EnvPrefix + "_DATABASE", Path: "setup.database"},
		{Name: EnvPrefix + "_SINGULARITY_VERSION", Path: "setup.singularity_version"},
		{Name: EnvPrefix + "_QSUB", Path: "scheduler.qsub"},
		{Name: EnvPrefix + "_QSTAT", Path: "scheduler.qstat"},
		{Name: EnvPrefix + "_QSTAT_QPS", Path: "scheduler.queries_per_second"},
		{Name: EnvPrefix + "_REGISTRY_DIR", Path: "registry.dir"},
		{Name: EnvPrefix + "_HISTORY_ENABLED", Path: "history.enabled"},
		{Name: EnvPrefix + "_HISTORY_PATH", Path: "history.path"},
		{Name: EnvPrefix + "_HISTORY_URL", Path: "history.url"},
		{Name: EnvPrefix + "_HISTORY_AUTH_TOKEN", Path: "history.auth_token"},
		{Name: EnvPrefix + "_CREDENTIALS_FILE", Path: "credentials.file"},
		{Name: EnvPrefix + "_LOG_LEVEL", Path: "logging.level"},
	}
}

// getUserConfigPaths lists candidate config files, most specific first.
func getUserConfigPaths() []string {
	var paths []string
	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
		paths = append(paths, filepath.Join(xdg, AppName, "config.yaml"))
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		p := filepath.Join(home, ".config", AppName, "config.yaml")
		if len(paths) == 0 || paths[0] != p {
			paths = append(paths, p)
		}
	}
	return paths
}

func firstExisting(paths []string) string {
	for _, p := range paths {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}

func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = v
	}
	return out
}

func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		spaceSeparatedListHook(),
		mapstructure.StringToTimeDurationHookFunc(),
	)
}

// spaceSeparatedListHook decodes "a b  c" into []string{"a", "b", "c"}, the
// format XNAT_PBS_JOBS_PUT_SERVER_LIST uses.
func spaceSeparatedListHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf([]string{}) {
			return data, nil
		}
		return strings.Fields(data.(string)), nil
	}
}
