package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ketches/f2b-monitor/internal/config"
	"github.com/ketches/f2b-monitor/internal/database"
	"github.com/ketches/f2b-monitor/internal/engine"
	"github.com/ketches/f2b-monitor/internal/handler"
	"github.com/ketches/f2b-monitor/internal/logger"
	"github.com/ketches/f2b-monitor/internal/middleware"
	"github.com/ketches/f2b-monitor/internal/store"
	"github.com/ketches/f2b-monitor/internal/tasks"
	"github.com/ketches/f2b-monitor/pkg/geoip"
	"go.uber.org/zap"
)

// 版本信息（构建时注入）
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const (
	engineTickInterval    = 100 * time.Millisecond
	subnetRefreshInterval = 60 * time.Second
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	if err := logger.Init(cfg.Log.Level, cfg.Log.File); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("f2b-monitor 启动中...",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	// 3. 初始化聚合缓存数据库
	if err := database.Init(cfg.Cache.Path, cfg.Server.Mode); err != nil {
		logger.Fatal("初始化缓存数据库失败", zap.Error(err))
	}
	defer database.Close()

	// 4. 初始化 GeoIP 兜底（可选）
	if cfg.GeoIP.DBPath != "" {
		_ = geoip.Init(cfg.GeoIP.DBPath)
	}
	defer geoip.Close()

	// 5. 创建缓存存储与聚合引擎
	cacheDB := store.New(database.Get(), cfg.Cache.CommitInterval)
	eng := engine.New(cfg, cacheDB)
	defer eng.Close()

	// 6. 注册并启动后台任务
	taskManager := tasks.GetManager()
	taskManager.Register("engine_tick", engineTickInterval, eng.Tick)
	taskManager.Register("subnet_refresh", subnetRefreshInterval, eng.RefreshSubnets)
	taskManager.Start()
	defer taskManager.Stop()

	// 7. 设置 Gin 模式并创建路由
	gin.SetMode(cfg.Server.Mode)
	router := setupRouter(eng)

	// 8. 创建 HTTP 服务器
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	// 9. 启动服务器（优雅关闭）
	go func() {
		logger.Info("查询服务启动",
			zap.Int("port", cfg.Server.Port),
			zap.String("mode", cfg.Server.Mode),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("服务器启动失败", zap.Error(err))
		}
	}()

	// 10. 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("服务正在关闭...")

	// 11. 优雅关闭（5秒超时）
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("服务器强制关闭", zap.Error(err))
	}

	logger.Info("服务已关闭")
}

// setupRouter 设置路由
func setupRouter(eng *engine.Engine) *gin.Engine {
	router := gin.New()

	// 全局中间件
	router.Use(middleware.RecoveryMiddleware())
	router.Use(middleware.CORSMiddleware())
	router.Use(gin.Logger())

	// 健康检查（无需认证）
	router.GET("/health", handler.HealthCheck)

	router.Use(middleware.APIKeyMiddleware())

	handler.NewMonitorHandler(eng).RegisterRoutes(router)

	return router
}
