package whois

import (
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/ketches/f2b-monitor/internal/models"
	"github.com/ketches/f2b-monitor/internal/util"
)

// Team Cymru 批量查询响应格式:
//   non-verbose: AS | IP | CC | Registry | Allocated | AS Name
//   verbose    : AS | IP | BGP Prefix | CC | Registry | Allocated | AS Name
// 请求体使用 begin + verbose 模式。

// BulkLookup 通过 TCP/43 批量查询 IP 的 ASN 信息
// 空输入直接返回空结果，不发起连接；连接/超时错误返回 error，由调用方降级处理。
func BulkLookup(ips []string, host string, timeout time.Duration) (map[string]models.ASNInfo, error) {
	if len(ips) == 0 {
		return map[string]models.ASNInfo{}, nil
	}
	asked := make([]string, 0, len(ips))
	for _, ip := range ips {
		if s := strings.TrimSpace(ip); s != "" {
			asked = append(asked, s)
		}
	}
	if len(asked) == 0 {
		return map[string]models.ASNInfo{}, nil
	}

	var b strings.Builder
	b.WriteString("begin\n")
	b.WriteString("verbose\n")
	for _, ip := range asked {
		b.WriteString(ip)
		b.WriteByte('\n')
	}
	b.WriteString("end\n")

	// host 不带端口时默认 whois 端口 43
	addr := host
	if _, _, err := net.SplitHostPort(host); err != nil {
		addr = net.JoinHostPort(host, "43")
	}

	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("连接 whois 服务失败: %w", err)
	}
	defer conn.Close()

	// 整次会话的硬超时
	if err := conn.SetDeadline(time.Now().Add(timeout + 3*time.Second)); err != nil {
		return nil, err
	}

	if _, err := io.WriteString(conn, b.String()); err != nil {
		return nil, fmt.Errorf("发送 whois 查询失败: %w", err)
	}

	raw, err := io.ReadAll(conn)
	if err != nil {
		return nil, fmt.Errorf("读取 whois 响应失败: %w", err)
	}

	return parseResponse(string(raw)), nil
}

// parseResponse 逐行解析批量响应，跳过表头与注释
func parseResponse(text string) map[string]models.ASNInfo {
	out := make(map[string]models.ASNInfo)
	fetched := util.NowTS()
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" ||
			strings.HasPrefix(line, "AS") ||
			strings.HasPrefix(line, "Bulk mode") ||
			strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, "|")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) < 6 {
			continue
		}
		asn := parts[0]
		ip := parts[1]
		var cc, asName string
		if len(parts) >= 7 {
			// verbose: parts[2] 为 BGP 前缀
			cc = parts[3]
			asName = parts[6]
		} else {
			cc = parts[2]
			asName = parts[5]
		}
		if ip != "" {
			out[ip] = models.ASNInfo{ASN: asn, CC: cc, ASName: asName, FetchedTS: fetched}
		}
	}
	return out
}
