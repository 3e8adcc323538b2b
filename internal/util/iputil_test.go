package util

import "testing"

func TestPlausibleIPv4(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"1.2.3.4", true},
		{"255.255.255.255", true},
		{"0.0.0.0", true},
		{"999.1.1.1", false}, // 正则形状匹配但数值越界
		{"1.2.3", false},
		{"::1", false},
		{"", false},
		{"abc", false},
	}
	for _, c := range cases {
		if got := PlausibleIPv4(c.in); got != c.want {
			t.Errorf("PlausibleIPv4(%q) 期望 %v, 实际 %v", c.in, c.want, got)
		}
	}
}

func TestIPToSubnet(t *testing.T) {
	cases := []struct {
		ip     string
		prefix int
		want   string
	}{
		{"10.20.30.40", 24, "10.20.30.0/24"},
		{"10.20.30.40", 16, "10.20.0.0/16"},
		{"10.20.30.40", 8, "10.0.0.0/8"},
		{"10.20.30.40", 32, "10.20.30.40/32"},
	}
	for _, c := range cases {
		got, err := IPToSubnet(c.ip, c.prefix)
		if err != nil {
			t.Fatalf("IPToSubnet(%q, %d) 失败: %v", c.ip, c.prefix, err)
		}
		if got != c.want {
			t.Errorf("IPToSubnet(%q, %d) 期望 %q, 实际 %q", c.ip, c.prefix, c.want, got)
		}
	}

	if _, err := IPToSubnet("999.1.1.1", 24); err == nil {
		t.Error("非法 IP 应返回错误")
	}
}

func TestFmtEpochUTC(t *testing.T) {
	if got := FmtEpochUTC(0); got != "1970-01-01 00:00:00 UTC" {
		t.Errorf("FmtEpochUTC(0) 实际 %q", got)
	}
	if got := FmtEpochUTCPtr(nil); got != "-" {
		t.Errorf("FmtEpochUTCPtr(nil) 期望 \"-\", 实际 %q", got)
	}
	ts := int64(1700000000)
	if got := FmtEpochUTCPtr(&ts); got != FmtEpochUTC(ts) {
		t.Errorf("FmtEpochUTCPtr 与 FmtEpochUTC 不一致: %q", got)
	}
}
