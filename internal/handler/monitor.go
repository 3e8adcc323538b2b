package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/ketches/f2b-monitor/internal/engine"
)

// MonitorHandler 监控查询接口
type MonitorHandler struct {
	eng *engine.Engine
}

// NewMonitorHandler 创建监控查询处理器
func NewMonitorHandler(eng *engine.Engine) *MonitorHandler {
	return &MonitorHandler{eng: eng}
}

// RegisterRoutes 注册 /api 路由
func (h *MonitorHandler) RegisterRoutes(r gin.IRouter) {
	api := r.Group("/api")
	{
		api.GET("/health", HealthCheck)
		api.GET("/realtime", h.GetRealtime)
		api.GET("/ips", h.GetIPs)
		api.GET("/ips/:ip", h.GetIPDetails)
		api.GET("/subnets", h.GetSubnets)
		api.GET("/subnets/details", h.GetSubnetDetails)
		api.GET("/asns", h.GetASNs)
		api.GET("/asns/:asn", h.GetASNDetails)
		api.GET("/events", h.GetEvents)
	}
}

// GetRealtime 本次运行的实时计数
func (h *MonitorHandler) GetRealtime(c *gin.Context) {
	rows := h.eng.GetRealtimeRows(c.Query("search"))
	Success(c, gin.H{
		"count": len(rows),
		"rows":  rows,
	})
}

// GetIPs 历史 IP 聚合列表
func (h *MonitorHandler) GetIPs(c *gin.Context) {
	rows, err := h.eng.GetIPRows(c.Query("search"))
	if err != nil {
		Error(c, "查询 IP 聚合失败: "+err.Error())
		return
	}
	Success(c, gin.H{
		"count": len(rows),
		"rows":  rows,
	})
}

// GetIPDetails 单 IP 详情
func (h *MonitorHandler) GetIPDetails(c *gin.Context) {
	lines, err := h.eng.GetIPDetails(c.Param("ip"))
	if err != nil {
		Error(c, "查询 IP 详情失败: "+err.Error())
		return
	}
	Success(c, gin.H{"lines": lines})
}

// GetSubnets 活跃子网 Top N
func (h *MonitorHandler) GetSubnets(c *gin.Context) {
	rows, err := h.eng.GetSubnetRows(c.Query("search"))
	if err != nil {
		Error(c, "查询子网聚合失败: "+err.Error())
		return
	}
	Success(c, gin.H{
		"count": len(rows),
		"rows":  rows,
	})
}

// GetSubnetDetails 单子网详情（子网含 "/"，走查询参数）
func (h *MonitorHandler) GetSubnetDetails(c *gin.Context) {
	subnet := c.Query("subnet")
	if subnet == "" {
		Error(c, "缺少 subnet 参数")
		return
	}
	lines, err := h.eng.GetSubnetDetails(subnet)
	if err != nil {
		Error(c, "查询子网详情失败: "+err.Error())
		return
	}
	Success(c, gin.H{"lines": lines})
}

// GetASNs ASN 维度聚合列表
func (h *MonitorHandler) GetASNs(c *gin.Context) {
	rows, err := h.eng.GetASNRows(c.Query("search"))
	if err != nil {
		Error(c, "查询 ASN 聚合失败: "+err.Error())
		return
	}
	Success(c, gin.H{
		"count": len(rows),
		"rows":  rows,
	})
}

// GetASNDetails 单 ASN 详情
func (h *MonitorHandler) GetASNDetails(c *gin.Context) {
	lines, err := h.eng.GetASNDetails(c.Param("asn"))
	if err != nil {
		Error(c, "查询 ASN 详情失败: "+err.Error())
		return
	}
	Success(c, gin.H{"lines": lines})
}

// GetEvents 最近事件流
func (h *MonitorHandler) GetEvents(c *gin.Context) {
	max := 200
	if v := c.Query("max"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			max = n
		}
	}
	Success(c, gin.H{"lines": h.eng.GetEventsLines(max)})
}
