package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/ini.v1"

	"ipclick/internal/shared/types"
	"ipclick/model"
)

const (
	userConfigDir  = ".ipclick"
	userConfigName = "config.ini"
	localConfig    = "ipclick.ini"
)

// SearchPaths 返回默认的配置文件搜索路径, 后面的文件覆盖前面的。
func SearchPaths() []string {
	var paths []string
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, userConfigDir, userConfigName))
	}
	return append(paths, localConfig)
}

// Load 按顺序合并默认值、用户目录配置、当前目录配置和显式指定的配置文件，
// 最后应用环境变量覆盖。显式指定的文件必须存在。
func Load(explicitPath string) (*types.Config, error) {
	var sources []interface{}
	for _, p := range SearchPaths() {
		if fileExists(p) {
			sources = append(sources, p)
		}
	}
	if explicitPath != "" {
		if !fileExists(explicitPath) {
			return nil, fmt.Errorf("config file not found: %s", explicitPath)
		}
		sources = append(sources, explicitPath)
	}
	return LoadFrom(sources...)
}

// LoadFrom merges the given ini sources (paths or []byte) over the defaults.
func LoadFrom(sources ...interface{}) (*types.Config, error) {
	cfg := types.DefaultConfig()
	if len(sources) > 0 {
		iniFile, err := ini.LoadSources(ini.LoadOptions{Insensitive: true}, sources[0], sources[1:]...)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		if err := iniFile.MapTo(cfg); err != nil {
			return nil, fmt.Errorf("failed to map config: %w", err)
		}
	}
	applyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *types.Config) {
	overrideFromEnvString(&cfg.ServerConf.Host, "IPCLICK_HOST")
	overrideFromEnvInt(&cfg.ServerConf.Port, "IPCLICK_PORT")
	overrideFromEnvInt(&cfg.ServerConf.MaxWorkers, "IPCLICK_WORKERS")
	overrideFromEnvFloat(&cfg.DownloaderConf.Timeout, "IPCLICK_TIMEOUT")
	overrideFromEnvInt(&cfg.DownloaderConf.MaxRetries, "IPCLICK_RETRIES")
	overrideFromEnvString(&cfg.LogConf.Level, "IPCLICK_LOG_LEVEL")
}

// Validate 检查配置中会导致服务无法启动的值。
func Validate(cfg *types.Config) error {
	var errs []error
	if cfg.ServerConf.Port <= 0 || cfg.ServerConf.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", cfg.ServerConf.Port))
	}
	if cfg.ServerConf.MaxWorkers <= 0 {
		errs = append(errs, fmt.Errorf("server.max_workers must be positive: %d", cfg.ServerConf.MaxWorkers))
	}
	if cfg.ServerConf.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("server.rate_limit must not be negative"))
	}
	if cfg.DownloaderConf.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("downloader.timeout must be positive"))
	}
	if cfg.DownloaderConf.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("downloader.max_retries must not be negative"))
	}
	if _, err := model.ParseRetryDelay(cfg.DownloaderConf.RetryDelay); err != nil {
		errs = append(errs, fmt.Errorf("downloader.retry_delay: %w", err))
	}
	if _, err := model.ParseAdapterKind(cfg.DownloaderConf.DefaultAdapter); err != nil {
		errs = append(errs, fmt.Errorf("downloader.default_adapter: %w", err))
	}
	if cfg.WebConf.Port < 0 || cfg.WebConf.Port > 65535 {
		errs = append(errs, fmt.Errorf("web.port out of range: %d", cfg.WebConf.Port))
	}
	return errors.Join(errs...)
}

func fileExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}

func overrideFromEnvString(target *string, envName string) {
	if envValue := os.Getenv(envName); envValue != "" {
		*target = envValue
	}
}

func overrideFromEnvInt(target *int, envName string) {
	envValue := os.Getenv(envName)
	if envValue != "" {
		if intValue, err := strconv.Atoi(envValue); err == nil {
			*target = intValue
		}
	}
}

func overrideFromEnvFloat(target *float64, envName string) {
	envValue := os.Getenv(envName)
	if envValue != "" {
		if f, err := strconv.ParseFloat(envValue, 64); err == nil {
			*target = f
		}
	}
}
