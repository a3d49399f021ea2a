package app

import (
	"fmt"
	"time"

	"ipclick/internal/core/adapter"
	"ipclick/internal/core/dispatcher"
	"ipclick/internal/shared/logger"
	"ipclick/internal/shared/types"
	"ipclick/model"
)

// dispatcherConfig 将 [downloader] 和 [proxy] 配置段转换为 Dispatch Service 的构造参数。
func dispatcherConfig(cfg *types.Config) (dispatcher.Config, error) {
	kind, err := model.ParseAdapterKind(cfg.DefaultAdapter)
	if err != nil {
		return dispatcher.Config{}, fmt.Errorf("downloader.default_adapter: %w", err)
	}

	opts := adapter.DefaultOptions()
	if cfg.DownloaderConf.Timeout > 0 {
		opts.Timeout = time.Duration(cfg.DownloaderConf.Timeout * float64(time.Second))
	}
	if cfg.MaxRetries >= 0 {
		opts.MaxRetries = cfg.MaxRetries
	}
	if cfg.RetryDelay != "" {
		delay, err := model.ParseRetryDelay(cfg.RetryDelay)
		if err != nil {
			return dispatcher.Config{}, fmt.Errorf("downloader.retry_delay: %w", err)
		}
		opts.RetryDelay = delay
	}
	if cfg.MaxBackoff > 0 {
		opts.MaxBackoff = time.Duration(cfg.MaxBackoff) * time.Second
	}
	opts.VerifyTLS = cfg.VerifySSL
	if cfg.Impersonate != "" {
		opts.Impersonate = cfg.Impersonate
	}
	opts.UserAgent = cfg.UserAgent
	if cfg.MaxBodyMB > 0 {
		opts.MaxBodyBytes = int64(cfg.MaxBodyMB) << 20
	}

	dcfg := dispatcher.Config{DefaultAdapter: kind, Options: opts}
	if cfg.Proxy.Host != "" {
		proxy := cfg.Proxy
		dcfg.DefaultProxy = &proxy
		logger.Info().Str("proxy", model.ProxyFromDescriptor(proxy).String()).Msg("Default proxy configured")
	}
	return dcfg, nil
}
