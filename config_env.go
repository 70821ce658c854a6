package ygggo_orm

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "YGGGO_ORM_"

// envPaths maps variable names (without prefix) to config paths.
var envPaths = map[string]string{
	"DRIVER":                "driver",
	"DSN":                   "dsn",
	"HOST":                  "host",
	"PORT":                  "port",
	"USERNAME":              "username",
	"PASSWORD":              "password",
	"DATABASE":              "database",
	"CHARSET":               "charset",
	"CONNECTION_TIMEOUT":    "connection_timeout",
	"SHOW_SQL":              "show_sql",
	"SLOW_QUERY_THRESHOLD":  "slow_query_threshold",
	"CORE_SIZE":             "pool.core_size",
	"MAX_SIZE":              "pool.max_size",
	"MAX_WAIT":              "pool.max_wait",
	"WAIT_TIMEOUT":          "pool.wait_timeout",
	"VALIDATE_ON_BORROW":    "pool.validate_on_borrow",
	"BORROW_WARN_THRESHOLD": "pool.borrow_warn_threshold",
	"STMT_CACHE_SIZE":       "pool.stmt_cache_size",
	"RETRY_MAX_ATTEMPTS":    "retry.max_attempts",
	"RETRY_BASE_BACKOFF":    "retry.base_backoff",
	"RETRY_MAX_BACKOFF":     "retry.max_backoff",
	"RETRY_MAX_ELAPSED":     "retry.max_elapsed",
	"RETRY_JITTER":          "retry.jitter",
	"TRACING":               "telemetry.tracing",
	"METRICS":               "telemetry.metrics",
	"TRACE_DRIVER":          "telemetry.driver",
}

// LoadConfigFromEnv starts from DefaultConfig and applies the environment.
func LoadConfigFromEnv(envFiles ...string) (Config, error) {
	cfg := DefaultConfig()
	if err := ApplyEnv(&cfg, envFiles...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with YGGGO_ORM_* environment variables. The given
// .env files are loaded first (a missing default .env is ignored); variables
// already set in the process environment win over file values.
// YGGGO_ORM_PARAMS is parsed as a query string, e.g. "parseTime=true&loc=Local".
func ApplyEnv(cfg *Config, envFiles ...string) error {
	if err := loadDotEnv(envFiles...); err != nil {
		return err
	}

	k := koanf.New(".")
	if err := k.Load(structs.Provider(*cfg, "koanf"), nil); err != nil {
		return fmt.Errorf("failed to load config defaults: %w", err)
	}

	var rawParams string
	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			name := strings.TrimPrefix(key, EnvPrefix)
			if name == "PARAMS" {
				rawParams = value
				return "", nil
			}
			if path, ok := envPaths[name]; ok {
				return path, value
			}
			return "", nil
		},
	}), nil); err != nil {
		return fmt.Errorf("failed to load environment variables: %w", err)
	}

	var out Config
	if err := k.UnmarshalWithConf("", &out, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &out,
			TagName:          "koanf",
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
		},
	}); err != nil {
		return fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if rawParams != "" {
		values, err := url.ParseQuery(rawParams)
		if err != nil {
			return fmt.Errorf("invalid %sPARAMS: %w", EnvPrefix, err)
		}
		params := make(map[string]string, len(values)+len(out.Params))
		for k, v := range out.Params {
			params[k] = v
		}
		for k, v := range values {
			if len(v) > 0 {
				params[k] = v[0]
			}
		}
		out.Params = params
	}

	out.Provider = cfg.Provider
	*cfg = out
	return nil
}

func loadDotEnv(files ...string) error {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("failed to load env files: %w", err)
	}
	return nil
}
