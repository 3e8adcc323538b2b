package geoip

import (
	"net"
	"sync"

	"github.com/ketches/f2b-monitor/internal/logger"
	"github.com/oschwald/geoip2-golang"
	"go.uber.org/zap"
)

var (
	db *geoip2.Reader
	mu sync.RWMutex
)

// Init 加载本地 GeoLite2 Country 数据库
// dbPath 为空或加载失败时仅告警，国家码兜底查询不可用。
func Init(dbPath string) error {
	if dbPath == "" {
		return nil
	}

	reader, err := geoip2.Open(dbPath)
	if err != nil {
		logger.Warn("GeoIP 数据库加载失败，国家码兜底查询将不可用",
			zap.String("path", dbPath),
			zap.Error(err))
		return err
	}

	mu.Lock()
	db = reader
	mu.Unlock()

	logger.Info("GeoIP 数据库加载成功", zap.String("path", dbPath))
	return nil
}

// Close 关闭 GeoIP 数据库
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if db != nil {
		db.Close()
		db = nil
	}
}

// IsAvailable 检查 GeoIP 兜底是否可用
func IsAvailable() bool {
	mu.RLock()
	defer mu.RUnlock()
	return db != nil
}

// CountryCode 查询 IP 的 ISO 国家码，查不到时返回 ok=false
func CountryCode(ipStr string) (string, bool) {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return "", false
	}

	mu.RLock()
	reader := db
	mu.RUnlock()

	if reader == nil {
		return "", false
	}

	record, err := reader.Country(ip)
	if err != nil || record.Country.IsoCode == "" {
		return "", false
	}
	return record.Country.IsoCode, true
}
