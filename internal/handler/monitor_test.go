package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ketches/f2b-monitor/internal/config"
	"github.com/ketches/f2b-monitor/internal/database"
	"github.com/ketches/f2b-monitor/internal/engine"
	"github.com/ketches/f2b-monitor/internal/store"
)

func setupTestRouter(t *testing.T) (*gin.Engine, *engine.Engine, *config.Config) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	for _, name := range []string{"auth.log", "fail2ban.log"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatalf("创建日志文件失败: %v", err)
		}
	}
	cfg := &config.Config{
		Logs: config.LogsConfig{
			AuthLog: filepath.Join(dir, "auth.log"),
			F2BLog:  filepath.Join(dir, "fail2ban.log"),
		},
		Fail2ban: config.Fail2banConfig{
			SQLitePath: filepath.Join(dir, "fail2ban.sqlite3"),
		},
		Cache: config.CacheConfig{
			Path:           filepath.Join(dir, "cache.sqlite3"),
			SubnetPrefix:   24,
			CommitInterval: 10 * time.Millisecond,
			TopSubnets:     10,
		},
	}

	db, err := database.Open(cfg.Cache.Path, "release")
	if err != nil {
		t.Fatalf("打开缓存数据库失败: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("迁移表结构失败: %v", err)
	}

	eng := engine.New(cfg, store.New(db, cfg.Cache.CommitInterval))
	t.Cleanup(eng.Close)

	router := gin.New()
	NewMonitorHandler(eng).RegisterRoutes(router)
	return router, eng, cfg
}

// seedFailEvent 通过日志文件走一遍真实的采集管道
func seedFailEvent(t *testing.T, eng *engine.Engine, cfg *config.Config, ip string) {
	t.Helper()
	// 先让 tailer 定位到文件末尾
	_ = eng.Tick(context.Background())

	f, err := os.OpenFile(cfg.Logs.AuthLog, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("打开日志失败: %v", err)
	}
	_, err = f.WriteString("Jan 29 12:00:01 host sshd[1]: Failed password for root from " + ip + " port 22 ssh2\n")
	f.Close()
	if err != nil {
		t.Fatalf("写入日志失败: %v", err)
	}

	if err := eng.Tick(context.Background()); err != nil {
		t.Fatalf("Tick 失败: %v", err)
	}
	if rows := eng.GetRealtimeRows(""); len(rows) == 0 {
		t.Fatal("事件注入失败")
	}
}

func doGet(t *testing.T, router *gin.Engine, path string) (int, Response) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	router.ServeHTTP(w, req)

	var resp Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("响应不是合法 JSON: %v (%s)", err, w.Body.String())
	}
	return w.Code, resp
}

func TestGetRealtimeEmpty(t *testing.T) {
	router, _, _ := setupTestRouter(t)

	code, resp := doGet(t, router, "/api/realtime")
	if code != http.StatusOK || !resp.Success {
		t.Fatalf("期望成功响应, 实际 code=%d resp=%+v", code, resp)
	}

	data := resp.Data.(map[string]interface{})
	if data["count"].(float64) != 0 {
		t.Errorf("空引擎实时行数期望 0, 实际 %v", data["count"])
	}
}

func TestGetIPsAndDetails(t *testing.T) {
	router, eng, cfg := setupTestRouter(t)
	seedFailEvent(t, eng, cfg, "1.2.3.4")

	code, resp := doGet(t, router, "/api/ips")
	if code != http.StatusOK || !resp.Success {
		t.Fatalf("期望成功响应, 实际 code=%d resp=%+v", code, resp)
	}
	data := resp.Data.(map[string]interface{})
	if data["count"].(float64) != 1 {
		t.Errorf("IP 列表期望 1 行, 实际 %v", data["count"])
	}

	code, resp = doGet(t, router, "/api/ips/1.2.3.4")
	if code != http.StatusOK || !resp.Success {
		t.Fatalf("详情期望成功, 实际 code=%d resp=%+v", code, resp)
	}
	lines := resp.Data.(map[string]interface{})["lines"].([]interface{})
	if len(lines) == 0 || lines[0].(string) != "IP: 1.2.3.4" {
		t.Errorf("详情首行错误: %v", lines)
	}
}

func TestGetSubnetsAfterEvent(t *testing.T) {
	router, eng, cfg := setupTestRouter(t)
	seedFailEvent(t, eng, cfg, "1.2.3.4")

	code, resp := doGet(t, router, "/api/subnets")
	if code != http.StatusOK || !resp.Success {
		t.Fatalf("期望成功响应, 实际 code=%d resp=%+v", code, resp)
	}
	data := resp.Data.(map[string]interface{})
	if data["count"].(float64) != 1 {
		t.Errorf("子网列表期望 1 行, 实际 %v", data["count"])
	}
}

func TestGetSubnetDetailsRequiresParam(t *testing.T) {
	router, _, _ := setupTestRouter(t)

	code, resp := doGet(t, router, "/api/subnets/details")
	if code != http.StatusOK || resp.Success {
		t.Fatalf("缺参数应返回业务失败, 实际 code=%d resp=%+v", code, resp)
	}

	code, resp = doGet(t, router, "/api/subnets/details?subnet=1.2.3.0%2F24")
	if code != http.StatusOK || !resp.Success {
		t.Fatalf("带参数应成功, 实际 code=%d resp=%+v", code, resp)
	}
}

func TestGetEvents(t *testing.T) {
	router, eng, cfg := setupTestRouter(t)
	seedFailEvent(t, eng, cfg, "1.2.3.4")

	code, resp := doGet(t, router, "/api/events?max=5")
	if code != http.StatusOK || !resp.Success {
		t.Fatalf("期望成功响应, 实际 code=%d resp=%+v", code, resp)
	}
	lines := resp.Data.(map[string]interface{})["lines"].([]interface{})
	if len(lines) == 0 {
		t.Error("事件流不应为空")
	}
}
