package store

import (
	"fmt"
	"time"

	"github.com/ketches/f2b-monitor/internal/models"
	"github.com/ketches/f2b-monitor/internal/util"
	"gorm.io/gorm"
)

// CacheDB 本地聚合缓存存储
// 所有写操作进入同一个手动事务，由引擎按 commitInterval 批量提交。
// 读操作在事务打开时走同一事务，保证读到未提交的最新聚合。
type CacheDB struct {
	db             *gorm.DB
	tx             *gorm.DB
	pending        int
	lastCommit     time.Time
	commitInterval time.Duration
}

// New 创建缓存存储
func New(db *gorm.DB, commitInterval time.Duration) *CacheDB {
	return &CacheDB{
		db:             db,
		lastCommit:     time.Now(),
		commitInterval: commitInterval,
	}
}

// conn 返回当前读写入口：事务打开时走事务
func (s *CacheDB) conn() *gorm.DB {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// begin 确保写事务已打开
func (s *CacheDB) begin() *gorm.DB {
	if s.tx == nil {
		s.tx = s.db.Begin()
	}
	return s.tx
}

// Pending 当前未提交的写操作数
func (s *CacheDB) Pending() int {
	return s.pending
}

// Commit 提交当前批次；失败时回滚并清空计数
func (s *CacheDB) Commit() error {
	s.lastCommit = time.Now()
	if s.tx == nil {
		s.pending = 0
		return nil
	}
	err := s.tx.Commit().Error
	if err != nil {
		s.tx.Rollback()
	}
	s.tx = nil
	s.pending = 0
	return err
}

// MaybeCommit 存在待提交操作且距上次提交超过间隔时提交
func (s *CacheDB) MaybeCommit() (bool, error) {
	if s.pending <= 0 {
		return false, nil
	}
	if time.Since(s.lastCommit) < s.commitInterval {
		return false, nil
	}
	return true, s.Commit()
}

// Rollback 丢弃当前批次
func (s *CacheDB) Rollback() {
	if s.tx != nil {
		s.tx.Rollback()
		s.tx = nil
	}
	s.pending = 0
	s.lastCommit = time.Now()
}

// Close 尽力提交残余批次
func (s *CacheDB) Close() error {
	return s.Commit()
}

// SetState 写入导入状态 kv
func (s *CacheDB) SetState(k, v string) error {
	err := s.begin().Exec(`
		INSERT INTO bips_import_state(k, v) VALUES(?, ?)
		ON CONFLICT(k) DO UPDATE SET v = excluded.v
	`, k, v).Error
	if err != nil {
		return fmt.Errorf("写入导入状态失败: %w", err)
	}
	s.pending++
	return nil
}

// GetState 读取导入状态 kv，不存在时返回 ok=false
func (s *CacheDB) GetState(k string) (string, bool, error) {
	var rows []models.ImportState
	if err := s.conn().Raw(`SELECT k, v FROM bips_import_state WHERE k = ?`, k).Scan(&rows).Error; err != nil {
		return "", false, err
	}
	if len(rows) == 0 {
		return "", false, nil
	}
	return rows[0].V, true, nil
}

// UpsertIPEvent 应用一条实时事件到 ip_cache / subnet_ip / subnet_cache
// countOK=false 时 OK 事件不计入 oks（降噪），但 last_event/last_seen 仍更新
func (s *CacheDB) UpsertIPEvent(ip string, ts int64, kind, jail string, countOK bool, prefix int) error {
	var incF, incO, incB, incU int64
	switch kind {
	case models.KindFail:
		incF = 1
	case models.KindOK:
		if countOK {
			incO = 1
		}
	case models.KindBan:
		incB = 1
	case models.KindUnban:
		incU = 1
	}

	tx := s.begin()
	err := tx.Exec(`
		INSERT INTO ip_cache(ip, first_seen_ts, last_seen_ts, fails, oks, bans, unbans, last_event, last_jail)
		VALUES(?,?,?,?,?,?,?,?,?)
		ON CONFLICT(ip) DO UPDATE SET
			last_seen_ts = excluded.last_seen_ts,
			fails = fails + ?,
			oks = oks + ?,
			bans = bans + ?,
			unbans = unbans + ?,
			last_event = excluded.last_event,
			last_jail = excluded.last_jail
	`, ip, ts, ts, incF, incO, incB, incU, kind, jail,
		incF, incO, incB, incU).Error
	if err != nil {
		return fmt.Errorf("更新 ip_cache 失败: %w", err)
	}

	subnet, err := util.IPToSubnet(ip, prefix)
	if err != nil {
		return err
	}
	if err := s.upsertSubnetIP(tx, subnet, ip, ts); err != nil {
		return err
	}
	// OK 事件不计入子网聚合
	if err := s.upsertSubnetCounters(tx, subnet, prefix, ts, incF, incB, incU, ip); err != nil {
		return err
	}
	s.pending++
	return nil
}

func (s *CacheDB) upsertSubnetIP(tx *gorm.DB, subnet, ip string, ts int64) error {
	err := tx.Exec(`
		INSERT INTO subnet_ip(subnet, ip, first_seen_ts, last_seen_ts)
		VALUES(?,?,?,?)
		ON CONFLICT(subnet, ip) DO UPDATE SET
			last_seen_ts = CASE WHEN excluded.last_seen_ts > subnet_ip.last_seen_ts THEN excluded.last_seen_ts ELSE subnet_ip.last_seen_ts END
	`, subnet, ip, ts, ts).Error
	if err != nil {
		return fmt.Errorf("更新 subnet_ip 失败: %w", err)
	}
	return nil
}

func (s *CacheDB) upsertSubnetCounters(tx *gorm.DB, subnet string, prefix int, ts int64, incF, incB, incU int64, lastIP string) error {
	// unique_ips 不在这里增量维护，由 RefreshSubnetUniqueCounts 周期性重算
	err := tx.Exec(`
		INSERT INTO subnet_cache(subnet, prefix, first_seen_ts, last_seen_ts, fails, bans, unbans, unique_ips, last_ip)
		VALUES(?,?,?,?,?,?,?,?,?)
		ON CONFLICT(subnet) DO UPDATE SET
			last_seen_ts = CASE WHEN excluded.last_seen_ts > subnet_cache.last_seen_ts THEN excluded.last_seen_ts ELSE subnet_cache.last_seen_ts END,
			fails = fails + ?,
			bans = bans + ?,
			unbans = unbans + ?,
			last_ip = excluded.last_ip
	`, subnet, prefix, ts, ts, incF, incB, incU, 0, lastIP,
		incF, incB, incU).Error
	if err != nil {
		return fmt.Errorf("更新 subnet_cache 失败: %w", err)
	}
	return nil
}

// RefreshSubnetUniqueCounts 重算每个子网的去重 IP 数，恢复聚合不变量
func (s *CacheDB) RefreshSubnetUniqueCounts() error {
	err := s.begin().Exec(`
		UPDATE subnet_cache
		SET unique_ips = (SELECT COUNT(*) FROM subnet_ip WHERE subnet_ip.subnet = subnet_cache.subnet)
	`).Error
	if err != nil {
		return fmt.Errorf("重算子网去重计数失败: %w", err)
	}
	s.pending++
	return nil
}

// UpsertImportedBans 合并一条历史导入聚合（max/条件赋值，可重入）
func (s *CacheDB) UpsertImportedBans(ip string, banCountTotal int64, lastBanTS *int64, lastBanJail string, prefix int) error {
	ts := util.NowTS()
	tx := s.begin()
	err := tx.Exec(`
		INSERT INTO ip_cache(ip, first_seen_ts, last_seen_ts, ban_count_total, last_ban_ts, last_ban_jail)
		VALUES(?,?,?,?,?,?)
		ON CONFLICT(ip) DO UPDATE SET
			ban_count_total = CASE WHEN excluded.ban_count_total > ip_cache.ban_count_total THEN excluded.ban_count_total ELSE ip_cache.ban_count_total END,
			last_ban_ts = CASE
				WHEN excluded.last_ban_ts IS NULL THEN ip_cache.last_ban_ts
				WHEN ip_cache.last_ban_ts IS NULL THEN excluded.last_ban_ts
				WHEN excluded.last_ban_ts > ip_cache.last_ban_ts THEN excluded.last_ban_ts
				ELSE ip_cache.last_ban_ts
			END,
			last_ban_jail = CASE
				WHEN excluded.last_ban_ts IS NULL THEN ip_cache.last_ban_jail
				WHEN ip_cache.last_ban_ts IS NULL THEN excluded.last_ban_jail
				WHEN excluded.last_ban_ts > ip_cache.last_ban_ts THEN excluded.last_ban_jail
				ELSE ip_cache.last_ban_jail
			END,
			last_seen_ts = CASE
				WHEN excluded.last_ban_ts IS NULL THEN ip_cache.last_seen_ts
				WHEN excluded.last_ban_ts > ip_cache.last_seen_ts THEN excluded.last_ban_ts
				ELSE ip_cache.last_seen_ts
			END
	`, ip, ts, ts, banCountTotal, lastBanTS, lastBanJail).Error
	if err != nil {
		return fmt.Errorf("合并历史封禁失败: %w", err)
	}

	if lastBanTS != nil {
		subnet, err := util.IPToSubnet(ip, prefix)
		if err != nil {
			return err
		}
		if err := s.upsertSubnetIP(tx, subnet, ip, *lastBanTS); err != nil {
			return err
		}
		// 历史导入不触碰子网计数，只推进 last_seen/last_ip
		err = tx.Exec(`
			INSERT INTO subnet_cache(subnet, prefix, first_seen_ts, last_seen_ts, unique_ips, last_ip)
			VALUES(?,?,?,?,?,?)
			ON CONFLICT(subnet) DO UPDATE SET
				last_seen_ts = CASE WHEN excluded.last_seen_ts > subnet_cache.last_seen_ts THEN excluded.last_seen_ts ELSE subnet_cache.last_seen_ts END,
				last_ip = excluded.last_ip
		`, subnet, prefix, *lastBanTS, *lastBanTS, 0, ip).Error
		if err != nil {
			return fmt.Errorf("更新 subnet_cache（导入）失败: %w", err)
		}
	}
	s.pending++
	return nil
}

// UpsertASNInfo 写入 ASN 记录并回填 ip_cache 的 provider_* 列
// 返回 (asked, written)，本实现 written 等于处理条数
func (s *CacheDB) UpsertASNInfo(infos map[string]models.ASNInfo) (int, int, error) {
	asked := len(infos)
	written := 0
	tx := s.begin()
	for ip, info := range infos {
		err := tx.Exec(`
			INSERT INTO asn_cache(ip, asn, cc, as_name, fetched_ts)
			VALUES(?,?,?,?,?)
			ON CONFLICT(ip) DO UPDATE SET
				asn = excluded.asn,
				cc = excluded.cc,
				as_name = excluded.as_name,
				fetched_ts = excluded.fetched_ts
		`, ip, info.ASN, info.CC, info.ASName, info.FetchedTS).Error
		if err != nil {
			return asked, written, fmt.Errorf("更新 asn_cache 失败: %w", err)
		}
		err = tx.Exec(`
			UPDATE ip_cache
			SET provider_asn = ?, provider_cc = ?, provider_name = ?, provider_fetched_ts = ?
			WHERE ip = ?
		`, info.ASN, info.CC, info.ASName, info.FetchedTS, ip).Error
		if err != nil {
			return asked, written, fmt.Errorf("回填 provider 列失败: %w", err)
		}
		written++
		s.pending++
	}
	return asked, written, nil
}
