package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ketches/f2b-monitor/internal/f2bimport"
	"github.com/ketches/f2b-monitor/internal/models"
	"github.com/ketches/f2b-monitor/internal/util"
)

const (
	listIPsLimit    = 500
	listASNsLimit   = 200
	detailIPHistory = 20
)

// RealtimeRow 实时页单行：IP + 本次进程内计数
type RealtimeRow struct {
	IP       string          `json:"ip"`
	Counters models.Counters `json:"counters"`
}

// GetRealtimeRows 实时计数快照
// 全零行（仅预填未活动）被隐藏；search 为 IP 子串过滤。
func (e *Engine) GetRealtimeRows(search string) []RealtimeRow {
	e.mu.Lock()
	defer e.mu.Unlock()

	search = strings.ToLower(strings.TrimSpace(search))
	out := make([]RealtimeRow, 0, len(e.realtime))
	for ip, c := range e.realtime {
		if c.Total() == 0 {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(ip), search) {
			continue
		}
		out = append(out, RealtimeRow{IP: ip, Counters: *c})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Counters, out[j].Counters
		if a.Ban != b.Ban {
			return a.Ban > b.Ban
		}
		if a.Fail != b.Fail {
			return a.Fail > b.Fail
		}
		if a.Total() != b.Total() {
			return a.Total() > b.Total()
		}
		return out[i].IP < out[j].IP
	})
	return out
}

// GetIPRows 历史 IP 聚合列表
func (e *Engine) GetIPRows(search string) ([]models.IPCache, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.db.ListIPCache(search, listIPsLimit)
}

// GetSubnetRows 活跃子网 Top N
func (e *Engine) GetSubnetRows(search string) ([]models.SubnetCache, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.db.ListTopSubnets(e.cfg.Cache.TopSubnets, search)
}

// GetASNRows ASN 维度聚合列表
func (e *Engine) GetASNRows(search string) ([]models.ASNSummary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.db.ListASNSummary(search, listASNsLimit)
}

// GetEventsLines 最近事件的文本形式（时间倒序在前端处理，这里按时间正序）
func (e *Engine) GetEventsLines(max int) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	evs := e.events.Tail(max)
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		t := util.FmtEpochUTC(ev.TS)
		switch ev.Kind {
		case models.KindInfo, models.KindErr:
			out = append(out, fmt.Sprintf("%s %s %s", t, ev.Kind, ev.Msg))
		default:
			line := fmt.Sprintf("%s %s %s %s", t, ev.Src, ev.Kind, ev.IP)
			if ev.Jail != "" {
				line += " jail=" + ev.Jail
			}
			out = append(out, line)
		}
	}
	return out
}

// GetIPDetails 单 IP 详情文本块
func (e *Engine) GetIPDetails(ip string) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := []string{"IP: " + ip, ""}

	if c, ok := e.realtime[ip]; ok && c.Total() > 0 {
		out = append(out,
			"本次运行:",
			fmt.Sprintf("  fail=%d ok=%d ban=%d unban=%d", c.Fail, c.OK, c.Ban, c.Unban),
			"")
	}

	row, err := e.db.GetIPRow(ip)
	if err != nil {
		return nil, err
	}
	if row == nil {
		out = append(out, "缓存中无该 IP 的聚合记录")
		return out, nil
	}

	out = append(out,
		"历史聚合:",
		fmt.Sprintf("  first_seen=%s", util.FmtEpochUTC(row.FirstSeenTS)),
		fmt.Sprintf("  last_seen=%s", util.FmtEpochUTC(row.LastSeenTS)),
		fmt.Sprintf("  fails=%d oks=%d bans=%d unbans=%d", row.Fails, row.OKs, row.Bans, row.Unbans),
		fmt.Sprintf("  last_event=%s last_jail=%s", orDash(row.LastEvent), orDash(row.LastJail)),
		"",
		"fail2ban 导入:",
		fmt.Sprintf("  ban_count_total=%d", row.BanCountTotal),
		fmt.Sprintf("  last_ban=%s jail=%s", util.FmtEpochUTCPtr(row.LastBanTS), orDash(row.LastBanJail)),
		"")

	if row.ProviderASN != "" {
		out = append(out,
			"网络归属:",
			fmt.Sprintf("  asn=%s cc=%s name=%s", row.ProviderASN, orDash(row.ProviderCC), orDash(row.ProviderName)),
			fmt.Sprintf("  fetched=%s", util.FmtEpochUTCPtr(row.ProviderFetchedTS)),
			"")
	} else {
		out = append(out, "网络归属: 未查询", "")
	}

	// 是否落在当前 Top N 活跃子网内
	subnet, err := util.IPToSubnet(ip, e.cfg.Cache.SubnetPrefix)
	if err == nil {
		rank := 0
		if tops, terr := e.db.ListTopSubnets(e.cfg.Cache.TopSubnets, ""); terr == nil {
			for i, s := range tops {
				if s.Subnet == subnet {
					rank = i + 1
					break
				}
			}
		}
		if rank > 0 {
			out = append(out, fmt.Sprintf("belongs_to_top%d_subnets: yes (#%d, %s)", e.cfg.Cache.TopSubnets, rank, subnet))
		} else {
			out = append(out, fmt.Sprintf("belongs_to_top%d_subnets: no (%s)", e.cfg.Cache.TopSubnets, subnet))
		}
		out = append(out, "")
	}

	// 源库封禁历史（只读，失败不影响其余详情）
	if hist, herr := f2bimport.FetchIPHistory(e.cfg.Fail2ban.SQLitePath, ip, detailIPHistory); herr == nil && len(hist) > 0 {
		out = append(out, "封禁历史:")
		for _, h := range hist {
			out = append(out, fmt.Sprintf("  %s jail=%s bantime=%ds count=%d",
				util.FmtEpochUTC(h.TimeOfBan), h.Jail, h.BanTime, h.BanCount))
		}
		out = append(out, "")
	}

	if r, ok := e.ipEvents[ip]; ok && r.Len() > 0 {
		out = append(out, "最近事件:")
		for _, ev := range r.Tail(perIPRingCap) {
			line := fmt.Sprintf("  %s %s %s", util.FmtEpochUTC(ev.TS), ev.Src, ev.Kind)
			if ev.Jail != "" {
				line += " jail=" + ev.Jail
			}
			out = append(out, line)
		}
	}
	return out, nil
}

// GetSubnetDetails 单子网详情文本块
func (e *Engine) GetSubnetDetails(subnet string) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	row, err := e.db.GetSubnetRow(subnet)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return []string{"Subnet: " + subnet, "", "缓存中无该子网的聚合记录"}, nil
	}

	out := []string{
		"Subnet: " + subnet,
		"",
		fmt.Sprintf("prefix=/%d unique_ips=%d", row.Prefix, row.UniqueIPs),
		fmt.Sprintf("first_seen=%s", util.FmtEpochUTC(row.FirstSeenTS)),
		fmt.Sprintf("last_seen=%s", util.FmtEpochUTC(row.LastSeenTS)),
		fmt.Sprintf("fails=%d bans=%d unbans=%d", row.Fails, row.Bans, row.Unbans),
		fmt.Sprintf("last_ip=%s", orDash(row.LastIP)),
		"",
	}

	// 是否落在当前 Top N 活跃子网内
	if tops, terr := e.db.ListTopSubnets(e.cfg.Cache.TopSubnets, ""); terr == nil {
		rank := 0
		for i, s := range tops {
			if s.Subnet == subnet {
				rank = i + 1
				break
			}
		}
		if rank > 0 {
			out = append(out, fmt.Sprintf("belongs_to_top%d_subnets: yes (rank %d/%d)", e.cfg.Cache.TopSubnets, rank, len(tops)))
		} else {
			out = append(out, fmt.Sprintf("belongs_to_top%d_subnets: no", e.cfg.Cache.TopSubnets))
		}
		out = append(out, "")
	}

	ips, err := e.db.ListIPsInSubnet(subnet, detailIPsLimit)
	if err != nil {
		return nil, err
	}
	if len(ips) > 0 {
		out = append(out, "子网内 IP:")
		for _, r := range ips {
			out = append(out, fmt.Sprintf("  %-15s bans=%d fails=%d ban_total=%d last_seen=%s",
				r.IP, r.Bans, r.Fails, r.BanCountTotal, util.FmtEpochUTC(r.LastSeenTS)))
		}
	}
	return out, nil
}

// GetASNDetails 单 ASN 详情文本块
func (e *Engine) GetASNDetails(asn string) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := []string{"ASN: " + asn, ""}

	// 汇总行来自 ASN 维度聚合（与列表页同一查询）
	sums, err := e.db.ListASNSummary(asn, 10)
	if err != nil {
		return nil, err
	}
	var sum *models.ASNSummary
	for i := range sums {
		if sums[i].ASN == asn {
			sum = &sums[i]
			break
		}
	}
	if sum != nil {
		out = append(out,
			"汇总:",
			fmt.Sprintf("  cc=%s name=%s", orDash(sum.CC), orDash(sum.ASName)),
			fmt.Sprintf("  ip_count=%d", sum.IPCount),
			fmt.Sprintf("  ban_total_sum=%d bans_sum=%d fails_sum=%d", sum.BanTotalSum, sum.BansSum, sum.FailsSum),
			fmt.Sprintf("  last_fetch=%s", util.FmtEpochUTCPtr(sum.LastFetchTS)),
			"")
	} else {
		out = append(out, "汇总: 无记录", "")
	}

	ips, err := e.db.ListIPsInASN(asn, detailIPsLimit)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		out = append(out, "缓存中无该 ASN 下的 IP")
		return out, nil
	}

	out = append(out, "归属 IP:")
	for _, r := range ips {
		out = append(out, fmt.Sprintf("  %-15s bans=%d fails=%d ban_total=%d last_seen=%s",
			r.IP, r.Bans, r.Fails, r.BanCountTotal, util.FmtEpochUTC(r.LastSeenTS)))
	}
	return out, nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
