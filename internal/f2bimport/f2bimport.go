package f2bimport

import (
	"fmt"
	"os"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// BanAggregate 单 IP 的历史封禁聚合
type BanAggregate struct {
	BanCountTotal  int64
	LastBanTS      *int64
	LastBanJail    string
	LastBanBantime int64
}

// HistoryRow 单次封禁记录（详情面板用）
type HistoryRow struct {
	Jail      string `gorm:"column:jail"`
	TimeOfBan int64  `gorm:"column:timeofban"`
	BanTime   int64  `gorm:"column:bantime"`
	BanCount  int64  `gorm:"column:bancount"`
}

// Fingerprint 源库指纹 (mtime, size)，用于跳过重复导入
func Fingerprint(path string) (int64, int64, error) {
	st, err := os.Stat(path)
	if err != nil {
		return 0, 0, fmt.Errorf("读取 fail2ban 数据库信息失败: %w", err)
	}
	return st.ModTime().Unix(), st.Size(), nil
}

// openRO 以只读模式打开 fail2ban sqlite（需容忍 fail2ban 并发写入）
func openRO(path string) (*gorm.DB, func(), error) {
	dsn := "file:" + path + "?mode=ro"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("打开 fail2ban 数据库失败: %w", err)
	}
	db.Exec("PRAGMA busy_timeout=3000")
	closer := func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}
	return db, closer, nil
}

func tableExists(db *gorm.DB, name string) bool {
	var n int64
	db.Raw(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&n)
	return n > 0
}

func hasColumn(db *gorm.DB, table, column string) bool {
	var n int64
	db.Raw(`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name=?`, table, column).Scan(&n)
	return n > 0
}

func requireColumns(db *gorm.DB, table string, cols ...string) error {
	for _, c := range cols {
		if !hasColumn(db, table, c) {
			return fmt.Errorf("%s 表缺少必需列 %s", table, c)
		}
	}
	return nil
}

type aggRow struct {
	IP            string `gorm:"column:ip"`
	BanCountTotal int64  `gorm:"column:ban_count_total"`
	LastBanTS     *int64 `gorm:"column:last_ban_ts"`
}

// ImportAggregates 读取历史封禁并按 IP 聚合
// bips 表（按封禁轮次，可能带 bancount 列）优先；否则回退 bans 表（按单次封禁）。
func ImportAggregates(path string) (map[string]BanAggregate, error) {
	db, closer, err := openRO(path)
	if err != nil {
		return nil, err
	}
	defer closer()

	switch {
	case tableExists(db, "bips"):
		if err := requireColumns(db, "bips", "ip", "jail", "timeofban"); err != nil {
			return nil, err
		}
		// bancount 存在时总数取 SUM(bancount)，否则按行数计数
		q := `
			SELECT ip, COUNT(*) AS ban_count_total, MAX(timeofban) AS last_ban_ts
			FROM bips GROUP BY ip
		`
		if hasColumn(db, "bips", "bancount") {
			q = `
				SELECT ip, SUM(bancount) AS ban_count_total, MAX(timeofban) AS last_ban_ts
				FROM bips GROUP BY ip
			`
		}
		return aggregate(db, "bips", q)
	case tableExists(db, "bans"):
		if err := requireColumns(db, "bans", "ip", "jail", "timeofban"); err != nil {
			return nil, err
		}
		q := `
			SELECT ip, COUNT(*) AS ban_count_total, MAX(timeofban) AS last_ban_ts
			FROM bans GROUP BY ip
		`
		return aggregate(db, "bans", q)
	default:
		return nil, fmt.Errorf("fail2ban 数据库中未找到 bips/bans 表")
	}
}

func aggregate(db *gorm.DB, table, query string) (map[string]BanAggregate, error) {
	var rows []aggRow
	if err := db.Raw(query).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("聚合查询失败: %w", err)
	}

	out := make(map[string]BanAggregate, len(rows))
	for _, r := range rows {
		agg := BanAggregate{
			BanCountTotal: r.BanCountTotal,
			LastBanTS:     r.LastBanTS,
		}
		// 末次封禁的 jail/bantime 需要二次定位
		var last []struct {
			Jail    string `gorm:"column:jail"`
			BanTime *int64 `gorm:"column:bantime"`
		}
		err := db.Raw(
			`SELECT jail, bantime FROM `+table+` WHERE ip=? ORDER BY timeofban DESC LIMIT 1`, r.IP,
		).Scan(&last).Error
		if err == nil && len(last) > 0 {
			agg.LastBanJail = last[0].Jail
			if last[0].BanTime != nil {
				agg.LastBanBantime = *last[0].BanTime
			}
		}
		out[r.IP] = agg
	}
	return out, nil
}

// FetchIPHistory 单 IP 的封禁历史，按时间倒序
// limit<=0 表示不限制条数。
func FetchIPHistory(path, ip string, limit int) ([]HistoryRow, error) {
	db, closer, err := openRO(path)
	if err != nil {
		return nil, err
	}
	defer closer()

	limitClause := ""
	args := []interface{}{ip}
	if limit > 0 {
		limitClause = " LIMIT ?"
		args = append(args, limit)
	}

	var rows []HistoryRow
	if tableExists(db, "bips") {
		if hasColumn(db, "bips", "bancount") {
			err = db.Raw(`
				SELECT jail, timeofban, bantime, bancount
				FROM bips WHERE ip=? ORDER BY timeofban DESC`+limitClause, args...).Scan(&rows).Error
		} else {
			err = db.Raw(`
				SELECT jail, timeofban, bantime, 1 AS bancount
				FROM bips WHERE ip=? ORDER BY timeofban DESC`+limitClause, args...).Scan(&rows).Error
		}
		return rows, err
	}
	if tableExists(db, "bans") {
		err = db.Raw(`
			SELECT jail, timeofban, bantime, 1 AS bancount
			FROM bans WHERE ip=? ORDER BY timeofban DESC`+limitClause, args...).Scan(&rows).Error
		return rows, err
	}
	return nil, nil
}
