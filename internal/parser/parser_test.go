package parser

import (
	"testing"

	"github.com/ketches/f2b-monitor/internal/models"
)

func TestParseSSHLine(t *testing.T) {
	cases := []struct {
		name     string
		line     string
		wantIP   string
		wantKind string
		wantOK   bool
	}{
		{
			name:     "失败密码",
			line:     "Jan 29 12:34:56 host sshd[123]: Failed password for root from 1.2.3.4 port 22 ssh2",
			wantIP:   "1.2.3.4",
			wantKind: models.KindFail,
			wantOK:   true,
		},
		{
			name:     "非法用户",
			line:     "Jan 29 12:34:56 host sshd[123]: Invalid user admin from 5.6.7.8 port 4022",
			wantIP:   "5.6.7.8",
			wantKind: models.KindFail,
			wantOK:   true,
		},
		{
			name:     "认证失败",
			line:     "Jan 29 12:34:56 host sshd[123]: pam_unix(sshd:auth): authentication failure; rhost=9.8.7.6",
			wantIP:   "9.8.7.6",
			wantKind: models.KindFail,
			wantOK:   true,
		},
		{
			name:     "密码登录成功",
			line:     "Jan 29 12:34:56 host sshd[123]: Accepted password for alice from 10.0.0.5 port 5022 ssh2",
			wantIP:   "10.0.0.5",
			wantKind: models.KindOK,
			wantOK:   true,
		},
		{
			name:     "公钥登录成功",
			line:     "Jan 29 12:34:56 host sshd[123]: Accepted publickey for bob from 10.0.0.6 port 5023 ssh2",
			wantIP:   "10.0.0.6",
			wantKind: models.KindOK,
			wantOK:   true,
		},
		{
			name:   "越界 IP 被拒绝",
			line:   "Failed password for root from 999.1.1.1 port 22",
			wantOK: false,
		},
		{
			name:   "无 IP 的行",
			line:   "Jan 29 12:34:56 host sshd[123]: Connection closed",
			wantOK: false,
		},
		{
			name:   "有 IP 但无关键字",
			line:   "Jan 29 12:34:56 host sshd[123]: Connection from 1.2.3.4 closed",
			wantOK: false,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ip, kind, ok := ParseSSHLine(c.line)
			if ok != c.wantOK {
				t.Fatalf("ok 期望 %v, 实际 %v", c.wantOK, ok)
			}
			if !ok {
				return
			}
			if ip != c.wantIP || kind != c.wantKind {
				t.Errorf("期望 (%s, %s), 实际 (%s, %s)", c.wantIP, c.wantKind, ip, kind)
			}
		})
	}
}

func TestParseF2BLine(t *testing.T) {
	cases := []struct {
		name     string
		line     string
		wantIP   string
		wantKind string
		wantJail string
		wantOK   bool
	}{
		{
			name:     "封禁",
			line:     "2026-01-29 12:34:56,789 fail2ban.actions [1234]: NOTICE [sshd] Ban 1.2.3.4",
			wantIP:   "1.2.3.4",
			wantKind: models.KindBan,
			wantJail: "1234", // 第一个方括号内容被当作 jail
			wantOK:   true,
		},
		{
			name:     "解封",
			line:     "2026-01-29 12:40:00,000 fail2ban.actions: NOTICE [sshd] Unban 1.2.3.4",
			wantIP:   "1.2.3.4",
			wantKind: models.KindUnban,
			wantJail: "sshd",
			wantOK:   true,
		},
		{
			name:     "带点号的 jail 名",
			line:     "NOTICE [nginx-http-auth] Ban 2.3.4.5",
			wantIP:   "2.3.4.5",
			wantKind: models.KindBan,
			wantJail: "nginx-http-auth",
			wantOK:   true,
		},
		{
			name:   "越界 IP 被拒绝",
			line:   "NOTICE [sshd] Ban 999.1.1.1",
			wantOK: false,
		},
		{
			name:   "无动作的行",
			line:   "2026-01-29 12:34:56,789 fail2ban.filter [1234]: INFO [sshd] Found 1.2.3.4",
			wantOK: false,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ip, kind, jail, ok := ParseF2BLine(c.line)
			if ok != c.wantOK {
				t.Fatalf("ok 期望 %v, 实际 %v", c.wantOK, ok)
			}
			if !ok {
				return
			}
			if ip != c.wantIP || kind != c.wantKind || jail != c.wantJail {
				t.Errorf("期望 (%s, %s, %s), 实际 (%s, %s, %s)",
					c.wantIP, c.wantKind, c.wantJail, ip, kind, jail)
			}
		})
	}
}
