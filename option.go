package chatsync_sdk

import "time"

// Config Engine 级配置。全部通过 Option 回调注入，零值在 NewEngine 里补默认。
type Config struct {
	// APIBase REST 端点基地址，如 https://api.example.com
	APIBase string
	// SocketURL WS 端点基地址，如 wss://api.example.com
	SocketURL string
	// SocketPath WS 路径，默认 /ws
	SocketPath string
	// Namespace 握手 query 的 ns 参数
	Namespace string

	// AutoConnect NewEngine 后立即后台建连
	AutoConnect bool

	// ReconnectAttempts 重连上限，0 表示不限
	ReconnectAttempts int
	ReconnectMinDelay time.Duration
	ReconnectMaxDelay time.Duration
	ConnectTimeout    time.Duration

	// HTTPTimeout REST 请求超时
	HTTPTimeout time.Duration

	// PageSize 历史分页默认页大小
	PageSize int

	// Token REST 鉴权 token；Credentials 挂到 WS 握手 query
	Token       string
	Credentials map[string]string
}

type Option func(*Config)

func WithAPIBase(base string) Option {
	return func(c *Config) {
		c.APIBase = base
	}
}

func WithSocketURL(u string) Option {
	return func(c *Config) {
		c.SocketURL = u
	}
}

func WithSocketPath(path string) Option {
	return func(c *Config) {
		c.SocketPath = path
	}
}

func WithNamespace(ns string) Option {
	return func(c *Config) {
		c.Namespace = ns
	}
}

func WithAutoConnect(on bool) Option {
	return func(c *Config) {
		c.AutoConnect = on
	}
}

// WithReconnect 重连策略。attempts=0 表示无限重试。
func WithReconnect(attempts int, minDelay, maxDelay time.Duration) Option {
	return func(c *Config) {
		c.ReconnectAttempts = attempts
		c.ReconnectMinDelay = minDelay
		c.ReconnectMaxDelay = maxDelay
	}
}

func WithConnectTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.ConnectTimeout = d
	}
}

func WithHTTPTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.HTTPTimeout = d
	}
}

func WithPageSize(n int) Option {
	return func(c *Config) {
		c.PageSize = n
	}
}

func WithToken(token string) Option {
	return func(c *Config) {
		c.Token = token
	}
}

// WithCredentials WS 握手鉴权参数（如 user_id / token）。
func WithCredentials(creds map[string]string) Option {
	return func(c *Config) {
		c.Credentials = creds
	}
}
