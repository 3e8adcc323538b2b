package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ketches/f2b-monitor/internal/database"
	"github.com/ketches/f2b-monitor/internal/models"
)

// setupTestStore 创建落在临时目录的测试缓存库
func setupTestStore(t *testing.T) *CacheDB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.sqlite3")
	db, err := database.Open(path, "release")
	if err != nil {
		t.Fatalf("打开测试数据库失败: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("迁移表结构失败: %v", err)
	}
	s := New(db, 100*time.Millisecond)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUpsertIPEventAggregates(t *testing.T) {
	s := setupTestStore(t)

	if err := s.UpsertIPEvent("10.0.0.1", 1000, models.KindFail, "", false, 24); err != nil {
		t.Fatalf("UpsertIPEvent 失败: %v", err)
	}
	if err := s.UpsertIPEvent("10.0.0.1", 1001, models.KindFail, "", false, 24); err != nil {
		t.Fatalf("UpsertIPEvent 失败: %v", err)
	}
	if err := s.UpsertIPEvent("10.0.0.1", 1002, models.KindBan, "sshd", false, 24); err != nil {
		t.Fatalf("UpsertIPEvent 失败: %v", err)
	}

	row, err := s.GetIPRow("10.0.0.1")
	if err != nil {
		t.Fatalf("GetIPRow 失败: %v", err)
	}
	if row == nil {
		t.Fatal("ip_cache 中应存在 10.0.0.1")
	}
	if row.Fails != 2 || row.Bans != 1 {
		t.Errorf("期望 fails=2 bans=1, 实际 fails=%d bans=%d", row.Fails, row.Bans)
	}
	if row.FirstSeenTS != 1000 || row.LastSeenTS != 1002 {
		t.Errorf("first/last_seen 期望 1000/1002, 实际 %d/%d", row.FirstSeenTS, row.LastSeenTS)
	}
	if row.LastEvent != models.KindBan || row.LastJail != "sshd" {
		t.Errorf("last_event/last_jail 期望 BAN/sshd, 实际 %s/%s", row.LastEvent, row.LastJail)
	}

	sub, err := s.GetSubnetRow("10.0.0.0/24")
	if err != nil {
		t.Fatalf("GetSubnetRow 失败: %v", err)
	}
	if sub == nil {
		t.Fatal("subnet_cache 中应存在 10.0.0.0/24")
	}
	if sub.Fails != 2 || sub.Bans != 1 {
		t.Errorf("子网期望 fails=2 bans=1, 实际 fails=%d bans=%d", sub.Fails, sub.Bans)
	}
	if sub.LastIP != "10.0.0.1" {
		t.Errorf("last_ip 期望 10.0.0.1, 实际 %s", sub.LastIP)
	}
}

func TestOKEventsExcludedFromSubnet(t *testing.T) {
	s := setupTestStore(t)

	// countOK=false: oks 不增长，但 last_seen/last_event 仍更新
	if err := s.UpsertIPEvent("10.0.0.2", 2000, models.KindOK, "", false, 24); err != nil {
		t.Fatalf("UpsertIPEvent 失败: %v", err)
	}
	row, _ := s.GetIPRow("10.0.0.2")
	if row == nil || row.OKs != 0 {
		t.Fatalf("countOK=false 时 oks 应为 0, 实际 %+v", row)
	}
	if row.LastEvent != models.KindOK {
		t.Errorf("last_event 期望 OK, 实际 %s", row.LastEvent)
	}

	// countOK=true: oks 计数，但子网聚合仍不含 OK
	if err := s.UpsertIPEvent("10.0.0.2", 2001, models.KindOK, "", true, 24); err != nil {
		t.Fatalf("UpsertIPEvent 失败: %v", err)
	}
	row, _ = s.GetIPRow("10.0.0.2")
	if row.OKs != 1 {
		t.Errorf("countOK=true 时 oks 期望 1, 实际 %d", row.OKs)
	}
	sub, _ := s.GetSubnetRow("10.0.0.0/24")
	if sub == nil {
		t.Fatal("subnet_cache 中应存在 10.0.0.0/24")
	}
	if sub.Fails != 0 || sub.Bans != 0 || sub.Unbans != 0 {
		t.Errorf("OK 事件不应计入子网计数, 实际 %+v", sub)
	}
}

func TestRefreshSubnetUniqueCounts(t *testing.T) {
	s := setupTestStore(t)

	_ = s.UpsertIPEvent("10.0.0.1", 1000, models.KindFail, "", false, 24)
	_ = s.UpsertIPEvent("10.0.0.2", 1001, models.KindFail, "", false, 24)
	_ = s.UpsertIPEvent("10.0.1.1", 1002, models.KindFail, "", false, 24)

	if err := s.RefreshSubnetUniqueCounts(); err != nil {
		t.Fatalf("RefreshSubnetUniqueCounts 失败: %v", err)
	}

	sub, _ := s.GetSubnetRow("10.0.0.0/24")
	if sub == nil || sub.UniqueIPs != 2 {
		t.Fatalf("10.0.0.0/24 期望 unique_ips=2, 实际 %+v", sub)
	}
	sub, _ = s.GetSubnetRow("10.0.1.0/24")
	if sub == nil || sub.UniqueIPs != 1 {
		t.Fatalf("10.0.1.0/24 期望 unique_ips=1, 实际 %+v", sub)
	}
}

func TestUpsertImportedBansMergeIdempotent(t *testing.T) {
	s := setupTestStore(t)

	ts1 := int64(5000)
	if err := s.UpsertImportedBans("20.0.0.1", 3, &ts1, "sshd", 24); err != nil {
		t.Fatalf("UpsertImportedBans 失败: %v", err)
	}
	// 重复导入同样数据：聚合不变（max 合并）
	if err := s.UpsertImportedBans("20.0.0.1", 3, &ts1, "sshd", 24); err != nil {
		t.Fatalf("UpsertImportedBans 失败: %v", err)
	}

	row, _ := s.GetIPRow("20.0.0.1")
	if row == nil {
		t.Fatal("ip_cache 中应存在 20.0.0.1")
	}
	if row.BanCountTotal != 3 {
		t.Errorf("ban_count_total 期望 3, 实际 %d", row.BanCountTotal)
	}
	if row.LastBanTS == nil || *row.LastBanTS != 5000 || row.LastBanJail != "sshd" {
		t.Errorf("last_ban 合并错误: %+v", row)
	}

	// 更大的值覆盖，较小的值被忽略
	ts2 := int64(6000)
	_ = s.UpsertImportedBans("20.0.0.1", 5, &ts2, "recidive", 24)
	ts0 := int64(4000)
	_ = s.UpsertImportedBans("20.0.0.1", 2, &ts0, "old-jail", 24)

	row, _ = s.GetIPRow("20.0.0.1")
	if row.BanCountTotal != 5 {
		t.Errorf("ban_count_total 期望 5, 实际 %d", row.BanCountTotal)
	}
	if row.LastBanTS == nil || *row.LastBanTS != 6000 || row.LastBanJail != "recidive" {
		t.Errorf("较旧导入不应回退 last_ban: %+v", row)
	}

	// 导入不触碰子网事件计数
	sub, _ := s.GetSubnetRow("20.0.0.0/24")
	if sub == nil {
		t.Fatal("subnet_cache 中应存在 20.0.0.0/24")
	}
	if sub.Fails != 0 || sub.Bans != 0 {
		t.Errorf("导入不应计入子网事件计数, 实际 %+v", sub)
	}
}

func TestUpsertImportedBansNilTS(t *testing.T) {
	s := setupTestStore(t)

	// last_ban_ts 为空时只合并计数，不写子网
	if err := s.UpsertImportedBans("20.0.1.1", 7, nil, "", 24); err != nil {
		t.Fatalf("UpsertImportedBans 失败: %v", err)
	}
	row, _ := s.GetIPRow("20.0.1.1")
	if row == nil || row.BanCountTotal != 7 || row.LastBanTS != nil {
		t.Fatalf("nil last_ban_ts 合并错误: %+v", row)
	}
	sub, _ := s.GetSubnetRow("20.0.1.0/24")
	if sub != nil {
		t.Errorf("nil last_ban_ts 不应创建子网行: %+v", sub)
	}
}

func TestUpsertASNInfo(t *testing.T) {
	s := setupTestStore(t)

	_ = s.UpsertIPEvent("30.0.0.1", 1000, models.KindFail, "", false, 24)

	infos := map[string]models.ASNInfo{
		"30.0.0.1": {ASN: "12345", CC: "US", ASName: "EXAMPLE-AS", FetchedTS: 9000},
	}
	asked, written, err := s.UpsertASNInfo(infos)
	if err != nil {
		t.Fatalf("UpsertASNInfo 失败: %v", err)
	}
	if asked != 1 || written != 1 {
		t.Errorf("期望 asked=1 written=1, 实际 %d/%d", asked, written)
	}

	row, _ := s.GetIPRow("30.0.0.1")
	if row.ProviderASN != "12345" || row.ProviderCC != "US" || row.ProviderName != "EXAMPLE-AS" {
		t.Errorf("provider 回填错误: %+v", row)
	}
	if row.ProviderFetchedTS == nil || *row.ProviderFetchedTS != 9000 {
		t.Errorf("provider_fetched_ts 期望 9000, 实际 %+v", row.ProviderFetchedTS)
	}

	// 重复写入覆盖为最新
	infos["30.0.0.1"] = models.ASNInfo{ASN: "12345", CC: "DE", ASName: "EXAMPLE-AS", FetchedTS: 9100}
	if _, _, err := s.UpsertASNInfo(infos); err != nil {
		t.Fatalf("UpsertASNInfo 失败: %v", err)
	}
	row, _ = s.GetIPRow("30.0.0.1")
	if row.ProviderCC != "DE" {
		t.Errorf("重复写入应覆盖 cc, 实际 %s", row.ProviderCC)
	}
}

func TestListIPsNeedingASNRefreshCursor(t *testing.T) {
	s := setupTestStore(t)

	for _, ip := range []string{"1.1.1.1", "2.2.2.2", "3.3.3.3"} {
		_ = s.UpsertIPEvent(ip, 1000, models.KindFail, "", false, 24)
	}
	// 2.2.2.2 已有新鲜记录，不应出现在扫描结果中
	_, _, err := s.UpsertASNInfo(map[string]models.ASNInfo{
		"2.2.2.2": {ASN: "1", CC: "US", ASName: "A", FetchedTS: 10000},
	})
	if err != nil {
		t.Fatalf("UpsertASNInfo 失败: %v", err)
	}

	need, err := s.ListIPsNeedingASNRefresh("", 10, 5000)
	if err != nil {
		t.Fatalf("扫描失败: %v", err)
	}
	if len(need) != 2 || need[0] != "1.1.1.1" || need[1] != "3.3.3.3" {
		t.Fatalf("期望 [1.1.1.1 3.3.3.3], 实际 %v", need)
	}

	// 游标之后严格大于
	need, err = s.ListIPsNeedingASNRefresh("1.1.1.1", 10, 5000)
	if err != nil {
		t.Fatalf("扫描失败: %v", err)
	}
	if len(need) != 1 || need[0] != "3.3.3.3" {
		t.Fatalf("游标后期望 [3.3.3.3], 实际 %v", need)
	}

	// TTL 过期：fetched_ts 早于阈值的重新入列
	need, err = s.ListIPsNeedingASNRefresh("", 10, 20000)
	if err != nil {
		t.Fatalf("扫描失败: %v", err)
	}
	if len(need) != 3 {
		t.Fatalf("TTL 过期后期望 3 条, 实际 %v", need)
	}
}

func TestImportState(t *testing.T) {
	s := setupTestStore(t)

	if _, ok, err := s.GetState("source_mtime"); err != nil || ok {
		t.Fatalf("空库中不应有状态, ok=%v err=%v", ok, err)
	}
	if err := s.SetState("source_mtime", "12345"); err != nil {
		t.Fatalf("SetState 失败: %v", err)
	}
	if err := s.SetState("source_mtime", "67890"); err != nil {
		t.Fatalf("SetState 覆盖失败: %v", err)
	}
	v, ok, err := s.GetState("source_mtime")
	if err != nil || !ok || v != "67890" {
		t.Fatalf("GetState 期望 67890, 实际 %q ok=%v err=%v", v, ok, err)
	}
}

func TestCommitBatching(t *testing.T) {
	s := setupTestStore(t)

	_ = s.UpsertIPEvent("40.0.0.1", 1000, models.KindFail, "", false, 24)
	if s.Pending() != 1 {
		t.Fatalf("pending 期望 1, 实际 %d", s.Pending())
	}

	// 间隔未到：不提交
	committed, err := s.MaybeCommit()
	if err != nil {
		t.Fatalf("MaybeCommit 失败: %v", err)
	}
	if committed {
		t.Error("间隔未到不应提交")
	}

	time.Sleep(120 * time.Millisecond)
	committed, err = s.MaybeCommit()
	if err != nil {
		t.Fatalf("MaybeCommit 失败: %v", err)
	}
	if !committed || s.Pending() != 0 {
		t.Errorf("间隔到达后应提交, committed=%v pending=%d", committed, s.Pending())
	}

	// 提交后数据仍可见
	row, err := s.GetIPRow("40.0.0.1")
	if err != nil || row == nil {
		t.Fatalf("提交后应能读到数据: %v", err)
	}
}

func TestRollbackDiscardsBatch(t *testing.T) {
	s := setupTestStore(t)

	_ = s.UpsertIPEvent("50.0.0.1", 1000, models.KindFail, "", false, 24)
	s.Rollback()

	if s.Pending() != 0 {
		t.Errorf("回滚后 pending 应为 0, 实际 %d", s.Pending())
	}
	row, err := s.GetIPRow("50.0.0.1")
	if err != nil {
		t.Fatalf("GetIPRow 失败: %v", err)
	}
	if row != nil {
		t.Errorf("回滚后不应读到数据: %+v", row)
	}
}
