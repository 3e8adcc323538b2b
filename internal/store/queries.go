package store

import (
	"strings"

	"github.com/ketches/f2b-monitor/internal/models"
)

// ListRealtimeSeedIPs 最近活跃的前 N 个 IP（用于实时页启动预填）
func (s *CacheDB) ListRealtimeSeedIPs(n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	var ips []string
	err := s.conn().Raw(`
		SELECT ip FROM ip_cache ORDER BY last_seen_ts DESC LIMIT ?
	`, n).Scan(&ips).Error
	return ips, err
}

// ListIPCache IP 聚合列表，支持 ip/provider 子串过滤
func (s *CacheDB) ListIPCache(search string, limit int) ([]models.IPCache, error) {
	var rows []models.IPCache
	if search != "" {
		pattern := "%" + strings.ToLower(search) + "%"
		err := s.conn().Raw(`
			SELECT * FROM ip_cache
			WHERE lower(ip) LIKE ? OR lower(provider_name) LIKE ? OR lower(provider_asn) LIKE ?
			ORDER BY ban_count_total DESC, bans DESC, fails DESC, last_seen_ts DESC
			LIMIT ?
		`, pattern, pattern, pattern, limit).Scan(&rows).Error
		return rows, err
	}
	err := s.conn().Raw(`
		SELECT * FROM ip_cache
		ORDER BY ban_count_total DESC, bans DESC, fails DESC, last_seen_ts DESC
		LIMIT ?
	`, limit).Scan(&rows).Error
	return rows, err
}

// ListTopSubnets 活跃子网 Top N，按 (bans+fails) 排序
func (s *CacheDB) ListTopSubnets(topN int, search string) ([]models.SubnetCache, error) {
	var rows []models.SubnetCache
	if search != "" {
		pattern := "%" + strings.ToLower(search) + "%"
		err := s.conn().Raw(`
			SELECT * FROM subnet_cache
			WHERE lower(subnet) LIKE ?
			ORDER BY (bans + fails) DESC, unique_ips DESC, last_seen_ts DESC
			LIMIT ?
		`, pattern, topN).Scan(&rows).Error
		return rows, err
	}
	err := s.conn().Raw(`
		SELECT * FROM subnet_cache
		ORDER BY (bans + fails) DESC, unique_ips DESC, last_seen_ts DESC
		LIMIT ?
	`, topN).Scan(&rows).Error
	return rows, err
}

// ListASNSummary 按 provider_asn 分组的聚合视图
func (s *CacheDB) ListASNSummary(search string, limit int) ([]models.ASNSummary, error) {
	var rows []models.ASNSummary
	if search != "" {
		pattern := "%" + strings.ToLower(search) + "%"
		err := s.conn().Raw(`
			SELECT provider_asn AS asn,
			       MAX(provider_name) AS as_name,
			       MAX(provider_cc) AS cc,
			       COUNT(*) AS ip_count,
			       SUM(ban_count_total) AS ban_total_sum,
			       SUM(bans) AS bans_sum,
			       SUM(fails) AS fails_sum,
			       MAX(provider_fetched_ts) AS last_fetch_ts
			FROM ip_cache
			WHERE provider_asn <> '' AND (lower(provider_asn) LIKE ? OR lower(provider_name) LIKE ? OR lower(provider_cc) LIKE ?)
			GROUP BY provider_asn
			ORDER BY ban_total_sum DESC, bans_sum DESC, fails_sum DESC, ip_count DESC
			LIMIT ?
		`, pattern, pattern, pattern, limit).Scan(&rows).Error
		return rows, err
	}
	err := s.conn().Raw(`
		SELECT provider_asn AS asn,
		       MAX(provider_name) AS as_name,
		       MAX(provider_cc) AS cc,
		       COUNT(*) AS ip_count,
		       SUM(ban_count_total) AS ban_total_sum,
		       SUM(bans) AS bans_sum,
		       SUM(fails) AS fails_sum,
		       MAX(provider_fetched_ts) AS last_fetch_ts
		FROM ip_cache
		WHERE provider_asn <> ''
		GROUP BY provider_asn
		ORDER BY ban_total_sum DESC, bans_sum DESC, fails_sum DESC, ip_count DESC
		LIMIT ?
	`, limit).Scan(&rows).Error
	return rows, err
}

// ListIPsNeedingASNRefresh 游标扫描待刷新 IP
// 条件：ip_cache 存在且（无 asn_cache 记录或 fetched_ts 早于 minFetchedTS）
// 结果按 ip 字典序升序，cursor 非空时严格大于 cursor
func (s *CacheDB) ListIPsNeedingASNRefresh(cursor string, batch int, minFetchedTS int64) ([]string, error) {
	var ips []string
	err := s.conn().Raw(`
		SELECT i.ip
		FROM ip_cache i
		LEFT JOIN asn_cache a ON a.ip = i.ip
		WHERE (a.ip IS NULL OR a.fetched_ts < ?)
		  AND (? = '' OR i.ip > ?)
		ORDER BY i.ip ASC
		LIMIT ?
	`, minFetchedTS, cursor, cursor, batch).Scan(&ips).Error
	return ips, err
}

// GetIPRow 单 IP 聚合行，不存在时返回 nil
func (s *CacheDB) GetIPRow(ip string) (*models.IPCache, error) {
	var rows []models.IPCache
	err := s.conn().Raw(`SELECT * FROM ip_cache WHERE ip = ?`, ip).Scan(&rows).Error
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}

// GetSubnetRow 单子网聚合行，不存在时返回 nil
func (s *CacheDB) GetSubnetRow(subnet string) (*models.SubnetCache, error) {
	var rows []models.SubnetCache
	err := s.conn().Raw(`SELECT * FROM subnet_cache WHERE subnet = ?`, subnet).Scan(&rows).Error
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}

// ListIPsInSubnet 子网内 IP 列表（与 ListIPCache 同序）
func (s *CacheDB) ListIPsInSubnet(subnet string, limit int) ([]models.IPCache, error) {
	var rows []models.IPCache
	err := s.conn().Raw(`
		SELECT i.*
		FROM subnet_ip s
		JOIN ip_cache i ON i.ip = s.ip
		WHERE s.subnet = ?
		ORDER BY i.ban_count_total DESC, i.bans DESC, i.fails DESC, s.last_seen_ts DESC
		LIMIT ?
	`, subnet, limit).Scan(&rows).Error
	return rows, err
}

// ListIPsInASN 指定 ASN 下的 IP 列表（与 ListIPCache 同序）
func (s *CacheDB) ListIPsInASN(asn string, limit int) ([]models.IPCache, error) {
	var rows []models.IPCache
	err := s.conn().Raw(`
		SELECT *
		FROM ip_cache
		WHERE provider_asn = ?
		ORDER BY ban_count_total DESC, bans DESC, fails DESC, last_seen_ts DESC
		LIMIT ?
	`, asn, limit).Scan(&rows).Error
	return rows, err
}
