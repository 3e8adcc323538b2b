package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/ketches/f2b-monitor/internal/logger"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var cacheDB *gorm.DB

// Init 初始化本地缓存数据库（不存在时建表）
func Init(path string, mode string) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("创建缓存目录失败: %w", err)
		}
	}

	db, err := Open(path, mode)
	if err != nil {
		return err
	}

	if err := Migrate(db); err != nil {
		return fmt.Errorf("迁移缓存表结构失败: %w", err)
	}

	cacheDB = db
	logger.Info("本地缓存数据库连接成功", zap.String("path", path))
	return nil
}

// Open 打开 SQLite 数据库（WAL 模式）
func Open(path string, mode string) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: newGormLogger(mode),
	}

	db, err := gorm.Open(sqlite.Open(path), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("连接缓存数据库失败: %w", err)
	}

	// 单进程独占写入，WAL + NORMAL 足够
	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA synchronous=NORMAL")
	db.Exec("PRAGMA busy_timeout=3000")

	// 引擎是唯一写入方，串行化访问由引擎互斥锁保证
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取数据库实例失败: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	return db, nil
}

// Migrate 创建缓存表结构
func Migrate(db *gorm.DB) error {
	// IP 聚合表
	if err := db.Exec(`
		CREATE TABLE IF NOT EXISTS ip_cache (
			ip TEXT PRIMARY KEY,
			first_seen_ts INTEGER NOT NULL,
			last_seen_ts INTEGER NOT NULL,
			fails INTEGER NOT NULL DEFAULT 0,
			oks INTEGER NOT NULL DEFAULT 0,
			bans INTEGER NOT NULL DEFAULT 0,
			unbans INTEGER NOT NULL DEFAULT 0,
			last_event TEXT NOT NULL DEFAULT '',
			last_jail TEXT NOT NULL DEFAULT '',
			last_ban_ts INTEGER NULL,
			last_ban_jail TEXT NOT NULL DEFAULT '',
			ban_count_total INTEGER NOT NULL DEFAULT 0,
			provider_asn TEXT NOT NULL DEFAULT '',
			provider_cc TEXT NOT NULL DEFAULT '',
			provider_name TEXT NOT NULL DEFAULT '',
			provider_fetched_ts INTEGER NULL
		)
	`).Error; err != nil {
		return err
	}

	// 子网聚合表
	if err := db.Exec(`
		CREATE TABLE IF NOT EXISTS subnet_cache (
			subnet TEXT PRIMARY KEY,
			prefix INTEGER NOT NULL,
			first_seen_ts INTEGER NOT NULL,
			last_seen_ts INTEGER NOT NULL,
			fails INTEGER NOT NULL DEFAULT 0,
			bans INTEGER NOT NULL DEFAULT 0,
			unbans INTEGER NOT NULL DEFAULT 0,
			unique_ips INTEGER NOT NULL DEFAULT 0,
			last_ip TEXT NOT NULL DEFAULT ''
		)
	`).Error; err != nil {
		return err
	}

	// 子网-IP 关系表
	if err := db.Exec(`
		CREATE TABLE IF NOT EXISTS subnet_ip (
			subnet TEXT NOT NULL,
			ip TEXT NOT NULL,
			first_seen_ts INTEGER NOT NULL,
			last_seen_ts INTEGER NOT NULL,
			PRIMARY KEY (subnet, ip)
		)
	`).Error; err != nil {
		return err
	}

	// ASN 记录表
	if err := db.Exec(`
		CREATE TABLE IF NOT EXISTS asn_cache (
			ip TEXT PRIMARY KEY,
			asn TEXT NOT NULL,
			cc TEXT NOT NULL,
			as_name TEXT NOT NULL,
			fetched_ts INTEGER NOT NULL
		)
	`).Error; err != nil {
		return err
	}

	// 历史导入状态表
	if err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bips_import_state (
			k TEXT PRIMARY KEY,
			v TEXT NOT NULL
		)
	`).Error; err != nil {
		return err
	}

	// 创建索引
	db.Exec("CREATE INDEX IF NOT EXISTS idx_ip_cache_last_seen ON ip_cache(last_seen_ts)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_ip_cache_provider_asn ON ip_cache(provider_asn)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_subnet_ip_subnet ON subnet_ip(subnet)")

	return nil
}

// newGormLogger 创建 GORM 日志适配器
func newGormLogger(mode string) gormlogger.Interface {
	logLevel := gormlogger.Warn
	if mode == "debug" {
		logLevel = gormlogger.Info
	}

	return gormlogger.New(
		&gormLogWriter{},
		gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logLevel,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}

// gormLogWriter GORM 日志写入器
type gormLogWriter struct{}

func (w *gormLogWriter) Printf(format string, args ...interface{}) {
	logger.GetSugar().Debugf(format, args...)
}

// Get 获取缓存数据库连接
func Get() *gorm.DB {
	return cacheDB
}

// HealthCheck 健康检查
func HealthCheck() error {
	if cacheDB == nil {
		return fmt.Errorf("缓存数据库未初始化")
	}
	sqlDB, err := cacheDB.DB()
	if err != nil {
		return fmt.Errorf("获取缓存数据库实例失败: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("缓存数据库连接失败: %w", err)
	}
	return nil
}

// Close 关闭数据库连接
func Close() error {
	if cacheDB != nil {
		sqlDB, err := cacheDB.DB()
		if err == nil {
			sqlDB.Close()
		}
	}
	logger.Info("缓存数据库连接已关闭")
	return nil
}
