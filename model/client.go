package model

// ClientConf 包含 SDK 客户端连接配置
type ClientConf struct {
	Host           string  `ini:"host"`
	Port           int     `ini:"port"`
	DefaultTimeout float64 `ini:"default_timeout"` // 秒
	RetryAttempts  int     `ini:"retry_attempts"`
}
