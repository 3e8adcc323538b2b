package util

import (
	"fmt"
	"net/netip"
	"time"
)

// NowTS 当前 Unix 秒
func NowTS() int64 {
	return time.Now().Unix()
}

// FmtEpochUTC Unix 秒格式化为 UTC 可读时间
func FmtEpochUTC(ts int64) string {
	return time.Unix(ts, 0).UTC().Format("2006-01-02 15:04:05 UTC")
}

// FmtEpochUTCPtr 空指针返回 "-"
func FmtEpochUTCPtr(ts *int64) string {
	if ts == nil {
		return "-"
	}
	return FmtEpochUTC(*ts)
}

// PlausibleIPv4 校验字符串是合法的点分 IPv4
// 正则只保证形状，数值范围（如 999.1.1.1）在这里被拒绝。
func PlausibleIPv4(s string) bool {
	addr, err := netip.ParseAddr(s)
	return err == nil && addr.Is4()
}

// IPToSubnet IPv4 归并到 /prefix 子网（CIDR 文本形式）
func IPToSubnet(ip string, prefix int) (string, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil || !addr.Is4() {
		return "", fmt.Errorf("非法 IPv4 地址: %s", ip)
	}
	p, err := addr.Prefix(prefix)
	if err != nil {
		return "", fmt.Errorf("非法子网前缀 /%d: %w", prefix, err)
	}
	return p.Masked().String(), nil
}
