package types

import "ipclick/model"

// ServerConf 包含 gRPC 服务端的监听与并发配置
type ServerConf struct {
	Host          string  `ini:"host"`
	Port          int     `ini:"port"`
	MaxWorkers    int     `ini:"max_workers"`
	RateLimit     float64 `ini:"rate_limit"` // 每秒请求数, 0 表示不限速
	RateBurst     int     `ini:"rate_burst"`
	MaxMessageMB  int     `ini:"max_message_mb"`
	ShutdownGrace int     `ini:"shutdown_grace"` // 秒
}

// ClientConf lives in model so the public sdk can be configured without
// reaching into internal packages.
type ClientConf = model.ClientConf

// DownloaderConf 包含适配器的默认执行策略
type DownloaderConf struct {
	DefaultAdapter string  `ini:"default_adapter"`
	Timeout        float64 `ini:"timeout"` // 秒
	MaxRetries     int     `ini:"max_retries"`
	RetryDelay     string  `ini:"retry_delay"` // "2" 或 "1-3"
	MaxBackoff     int     `ini:"max_backoff"` // 秒
	VerifySSL      bool    `ini:"verify_ssl"`
	Impersonate    string  `ini:"impersonate"`
	UserAgent      string  `ini:"user_agent"`
	MaxBodyMB      int     `ini:"max_body_mb"`
}

// LogConf contains logging specific configuration
type LogConf struct {
	Level  string `ini:"level"`
	Format string `ini:"format"` // console 或 json
}

// WebConf 状态页面, Port 为 0 时不启动
type WebConf struct {
	Port     int    `ini:"port"`
	User     string `ini:"user"`
	Password string `ini:"password"`
}

// Config 是 ipclick 的统一配置结构体
type Config struct {
	ServerConf     `ini:"server"`
	ClientConf     `ini:"client"`
	DownloaderConf `ini:"downloader"`
	LogConf        `ini:"log"`
	WebConf        `ini:"web"`
	Proxy          model.ProxyDescriptor `ini:"proxy"`
}

// DefaultConfig returns the built-in values that config files override.
func DefaultConfig() *Config {
	return &Config{
		ServerConf: ServerConf{
			Host:          "0.0.0.0",
			Port:          9527,
			MaxWorkers:    10,
			RateBurst:     50,
			MaxMessageMB:  64,
			ShutdownGrace: 5,
		},
		ClientConf: ClientConf{
			Host:           "127.0.0.1",
			Port:           9527,
			DefaultTimeout: 60,
			RetryAttempts:  3,
		},
		DownloaderConf: DownloaderConf{
			DefaultAdapter: "fingerprint",
			Timeout:        60,
			MaxRetries:     3,
			RetryDelay:     "1-3",
			MaxBackoff:     600,
			VerifySSL:      true,
			Impersonate:    "chrome",
			MaxBodyMB:      64,
		},
		LogConf: LogConf{
			Level:  "info",
			Format: "console",
		},
	}
}
