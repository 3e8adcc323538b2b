package parser

import (
	"regexp"

	"github.com/ketches/f2b-monitor/internal/models"
	"github.com/ketches/f2b-monitor/internal/util"
)

var (
	ipRE = regexp.MustCompile(`(?:\d{1,3}\.){3}\d{1,3}`)

	sshFailRE = regexp.MustCompile(`\b(Failed password|Invalid user|authentication failure)\b`)
	sshOKRE   = regexp.MustCompile(`\bAccepted (?:password|publickey)\b`)

	// fail2ban 示例行:
	// 2026-01-29 12:34:56,789 fail2ban.actions [1234]: NOTICE [sshd] Ban 1.2.3.4
	f2bJailRE  = regexp.MustCompile(`\[([A-Za-z0-9_.:-]+)\]`)
	f2bBanRE   = regexp.MustCompile(`\bBan\s+((?:\d{1,3}\.){3}\d{1,3})\b`)
	f2bUnbanRE = regexp.MustCompile(`\bUnban\s+((?:\d{1,3}\.){3}\d{1,3})\b`)
)

// ParseSSHLine 解析一条 sshd 日志
// 命中时返回 (ip, FAIL|OK, true)；IP 必须是合法 IPv4
func ParseSSHLine(line string) (string, string, bool) {
	ip := ipRE.FindString(line)
	if ip == "" || !util.PlausibleIPv4(ip) {
		return "", "", false
	}
	if sshFailRE.MatchString(line) {
		return ip, models.KindFail, true
	}
	if sshOKRE.MatchString(line) {
		return ip, models.KindOK, true
	}
	return "", "", false
}

// ParseF2BLine 解析一条 fail2ban 动作日志
// 命中时返回 (ip, BAN|UNBAN, jail, true)；Ban 匹配优先于 Unban
func ParseF2BLine(line string) (string, string, string, bool) {
	jail := ""
	if m := f2bJailRE.FindStringSubmatch(line); m != nil {
		jail = m[1]
	}
	if m := f2bBanRE.FindStringSubmatch(line); m != nil {
		if util.PlausibleIPv4(m[1]) {
			return m[1], models.KindBan, jail, true
		}
	}
	if m := f2bUnbanRE.FindStringSubmatch(line); m != nil {
		if util.PlausibleIPv4(m[1]) {
			return m[1], models.KindUnban, jail, true
		}
	}
	return "", "", "", false
}
