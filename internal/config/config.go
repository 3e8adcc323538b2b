package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// ServerConfig HTTP 查询接口配置
type ServerConfig struct {
	Port   int
	Mode   string // gin 模式: debug/release
	APIKey string // 非空时启用 X-API-Key 校验
}

// LogsConfig 被监控的日志文件
type LogsConfig struct {
	AuthLog string // sshd 认证日志
	F2BLog  string // fail2ban 动作日志
	ShowOK  bool   // 是否统计 OK（Accepted ...）事件
}

// Fail2banConfig fail2ban 历史库与 jail 轮询
type Fail2banConfig struct {
	SQLitePath    string
	Jail          string // 为空时禁用 jail 轮询
	PollBans      bool
	PollInterval  time.Duration
	ImportOnStart bool
}

// CacheConfig 本地聚合缓存
type CacheConfig struct {
	Path               string
	SubnetPrefix       int
	CommitInterval     time.Duration
	BootstrapFromCache int
	TopSubnets         int
}

// ASNConfig WHOIS 富化调度
type ASNConfig struct {
	Enable          bool
	RefreshInterval time.Duration
	CacheTTL        time.Duration
	Batch           int
	Timeout         time.Duration
	CymruHost       string
}

// GeoIPConfig 本地 GeoLite2 兜底查询
type GeoIPConfig struct {
	DBPath string
}

// LogConfig 运行日志
type LogConfig struct {
	Level string
	File  string
}

// Config 应用全量配置
type Config struct {
	Server   ServerConfig
	Logs     LogsConfig
	Fail2ban Fail2banConfig
	Cache    CacheConfig
	ASN      ASNConfig
	GeoIP    GeoIPConfig
	Log      LogConfig
}

var cfg *Config

// Load 从环境变量读取配置（支持 .env 文件）
func Load() (*Config, error) {
	_ = godotenv.Load()

	c := &Config{
		Server: ServerConfig{
			Port:   getEnvInt("HTTP_PORT", 8700),
			Mode:   getEnvStr("GIN_MODE", "release"),
			APIKey: getEnvStr("API_KEY", ""),
		},
		Logs: LogsConfig{
			AuthLog: getEnvStr("AUTH_LOG", "/var/log/auth.log"),
			F2BLog:  getEnvStr("F2B_LOG", "/var/log/fail2ban.log"),
			ShowOK:  getEnvBool("SHOW_OK", false),
		},
		Fail2ban: Fail2banConfig{
			SQLitePath:    getEnvStr("F2B_SQLITE", "/var/lib/fail2ban/fail2ban.sqlite3"),
			Jail:          getEnvStr("JAIL", ""),
			PollBans:      getEnvBool("POLL_BANS", true),
			PollInterval:  getEnvDuration("POLL_INTERVAL", 2*time.Second),
			ImportOnStart: getEnvBool("IMPORT_ON_START", true),
		},
		Cache: CacheConfig{
			Path:               getEnvStr("CACHE_PATH", "./data/f2b_cache.sqlite3"),
			SubnetPrefix:       getEnvInt("SUBNET_PREFIX", 24),
			CommitInterval:     getEnvDuration("COMMIT_INTERVAL", 800*time.Millisecond),
			BootstrapFromCache: getEnvInt("BOOTSTRAP_FROM_CACHE", 100),
			TopSubnets:         getEnvInt("TOP_SUBNETS", 10),
		},
		ASN: ASNConfig{
			Enable:          getEnvBool("ASN_ENABLE", true),
			RefreshInterval: getEnvDuration("ASN_REFRESH_INTERVAL", 10*time.Second),
			CacheTTL:        getEnvDuration("ASN_CACHE_TTL", 24*time.Hour),
			Batch:           getEnvInt("ASN_BATCH", 20),
			Timeout:         getEnvDuration("ASN_TIMEOUT", 4*time.Second),
			CymruHost:       getEnvStr("CYMRU_HOST", "whois.cymru.com"),
		},
		GeoIP: GeoIPConfig{
			DBPath: getEnvStr("GEOIP_DB_PATH", ""),
		},
		Log: LogConfig{
			Level: getEnvStr("LOG_LEVEL", "info"),
			File:  getEnvStr("LOG_FILE", ""),
		},
	}

	// jail 为空时轮询无意义
	if c.Fail2ban.Jail == "" {
		c.Fail2ban.PollBans = false
	}

	if err := c.validate(); err != nil {
		return nil, err
	}

	cfg = c
	return c, nil
}

func (c *Config) validate() error {
	switch c.Cache.SubnetPrefix {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("SUBNET_PREFIX 必须为 8/16/24/32，当前: %d", c.Cache.SubnetPrefix)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT 无效: %d", c.Server.Port)
	}
	if c.Cache.BootstrapFromCache < 0 {
		return fmt.Errorf("BOOTSTRAP_FROM_CACHE 不能为负: %d", c.Cache.BootstrapFromCache)
	}
	if c.ASN.Batch <= 0 {
		return fmt.Errorf("ASN_BATCH 必须为正: %d", c.ASN.Batch)
	}
	if c.Cache.TopSubnets <= 0 {
		return fmt.Errorf("TOP_SUBNETS 必须为正: %d", c.Cache.TopSubnets)
	}
	return nil
}

// Get 获取全局配置，未加载时 panic
func Get() *Config {
	if cfg == nil {
		panic("config not loaded, call config.Load() first")
	}
	return cfg
}

// 环境变量读取助手

func getEnvStr(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvDuration 支持 "2s"/"800ms" 格式，纯数字按秒解释
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if f, err := strconv.ParseFloat(val, 64); err == nil {
		return time.Duration(f * float64(time.Second))
	}
	return defaultVal
}
