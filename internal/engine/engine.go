package engine

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ketches/f2b-monitor/internal/config"
	"github.com/ketches/f2b-monitor/internal/f2bimport"
	"github.com/ketches/f2b-monitor/internal/logger"
	"github.com/ketches/f2b-monitor/internal/models"
	"github.com/ketches/f2b-monitor/internal/parser"
	"github.com/ketches/f2b-monitor/internal/store"
	"github.com/ketches/f2b-monitor/internal/tailer"
	"github.com/ketches/f2b-monitor/internal/util"
	"github.com/ketches/f2b-monitor/internal/whois"
	"github.com/ketches/f2b-monitor/pkg/geoip"
	"go.uber.org/zap"
)

const (
	globalRingCap  = 2000
	perIPRingCap   = 50
	maxTailLines   = 2000
	importChunk    = 2000
	pollHardLimit  = 3 * time.Second
	detailIPsLimit = 50
)

// LookupFunc 批量 ASN 查询函数，可在测试中替换
type LookupFunc func(ips []string, host string, timeout time.Duration) (map[string]models.ASNInfo, error)

// Engine 聚合引擎：驱动日志采集、封禁轮询、ASN 富化与批量提交
// 引擎独占缓存存储；所有入口（tick 与查询）都持引擎互斥锁，
// 保证单写入方以及 采集→轮询→富化→提交 的 tick 顺序。
type Engine struct {
	mu  sync.Mutex
	cfg *config.Config
	db  *store.CacheDB

	events   *eventRing
	ipEvents map[string]*eventRing
	realtime map[string]*models.Counters

	tAuth *tailer.TailFile
	tF2B  *tailer.TailFile

	lastPoll  time.Time
	pollKnown map[string]struct{}

	lastASN   time.Time
	asnCursor string
	lookup    LookupFunc
}

// New 创建引擎并执行启动序列：历史导入、实时预填、初始子网重算
func New(cfg *config.Config, db *store.CacheDB) *Engine {
	e := &Engine{
		cfg:       cfg,
		db:        db,
		events:    newEventRing(globalRingCap),
		ipEvents:  make(map[string]*eventRing),
		realtime:  make(map[string]*models.Counters),
		tAuth:     tailer.New(cfg.Logs.AuthLog, true),
		tF2B:      tailer.New(cfg.Logs.F2BLog, true),
		pollKnown: make(map[string]struct{}),
		lookup:    whois.BulkLookup,
	}

	if cfg.Fail2ban.ImportOnStart {
		e.importFail2banHistory()
	}
	if cfg.Cache.BootstrapFromCache > 0 {
		e.bootstrapRealtimeFromCache(cfg.Cache.BootstrapFromCache)
	}

	// 初始子网去重计数（中等规模下开销可忽略）
	if err := e.db.RefreshSubnetUniqueCounts(); err != nil {
		e.logSys(models.KindErr, "", fmt.Sprintf("初始化子网计数失败: %v", err))
	} else if err := e.db.Commit(); err != nil {
		e.logSys(models.KindErr, "", fmt.Sprintf("初始化提交失败: %v", err))
	}

	return e
}

// Close 尽力提交残余批次并释放句柄
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.db.Close(); err != nil {
		logger.Error("关闭时提交缓存失败", zap.Error(err))
	}
	e.tAuth.Close()
	e.tF2B.Close()
}

// Tick 单次调度：采集 → 轮询 → ASN 富化 → 条件提交
func (e *Engine) Tick(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.processLogTails()
	e.pollFail2banBans(ctx)
	asked, written := e.refreshASN()
	if asked > 0 && written > 0 {
		e.logSys(models.KindInfo, "", fmt.Sprintf("asn refresh: asked=%d got=%d", asked, written))
	}
	e.maybeCommit()
	return nil
}

// RefreshSubnets 周期性重算子网去重计数并提交
func (e *Engine) RefreshSubnets(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.db.RefreshSubnetUniqueCounts(); err != nil {
		e.logSys(models.KindErr, "", fmt.Sprintf("子网计数重算失败: %v", err))
		return nil
	}
	if err := e.db.Commit(); err != nil {
		e.logSys(models.KindErr, "", fmt.Sprintf("子网计数提交失败: %v", err))
	}
	return nil
}

// logSys 记录系统事件到全局环形缓冲
func (e *Engine) logSys(kind, ip, msg string) {
	e.events.Append(models.Event{TS: util.NowTS(), Src: models.SrcSys, Kind: kind, IP: ip, Msg: msg})
}

func (e *Engine) pushEvent(ev models.Event) {
	e.events.Append(ev)
	r := e.ipEvents[ev.IP]
	if r == nil {
		r = newEventRing(perIPRingCap)
		e.ipEvents[ev.IP] = r
	}
	r.Append(ev)
}

// bootstrapRealtimeFromCache 预填最近活跃 IP 的零值计数
// 零值行在实时页被隐藏，出现真实活动后才显示。
func (e *Engine) bootstrapRealtimeFromCache(n int) {
	ips, err := e.db.ListRealtimeSeedIPs(n)
	if err != nil {
		e.logSys(models.KindErr, "", fmt.Sprintf("实时预填失败: %v", err))
		return
	}
	for _, ip := range ips {
		if _, ok := e.realtime[ip]; !ok {
			e.realtime[ip] = &models.Counters{}
		}
	}
	e.logSys(models.KindInfo, "", fmt.Sprintf("bootstrap realtime from cache: %d IPs", len(ips)))
}

// importFail2banHistory 一次性导入历史封禁，指纹未变化时跳过
func (e *Engine) importFail2banHistory() {
	src := e.cfg.Fail2ban.SQLitePath
	mtime, size, err := f2bimport.Fingerprint(src)
	if err != nil {
		e.logSys(models.KindErr, "", fmt.Sprintf("fail2ban 数据库指纹读取失败: %v", err))
		return
	}

	prevMtime, ok1, _ := e.db.GetState("source_mtime")
	prevSize, ok2, _ := e.db.GetState("source_size")
	if ok1 && ok2 && prevMtime == strconv.FormatInt(mtime, 10) && prevSize == strconv.FormatInt(size, 10) {
		// 已导入过同一版本
		return
	}

	agg, err := f2bimport.ImportAggregates(src)
	if err != nil {
		e.logSys(models.KindErr, "", fmt.Sprintf("读取历史封禁聚合失败: %v", err))
		return
	}

	imported := 0
	for ip, a := range agg {
		err := e.db.UpsertImportedBans(ip, a.BanCountTotal, a.LastBanTS, a.LastBanJail, e.cfg.Cache.SubnetPrefix)
		if err != nil {
			e.db.Rollback()
			e.logSys(models.KindErr, "", fmt.Sprintf("导入失败（已回滚）: %v", err))
			return
		}
		imported++
		// 分块提交
		if imported%importChunk == 0 {
			if err := e.db.Commit(); err != nil {
				e.logSys(models.KindErr, "", fmt.Sprintf("导入分块提交失败: %v", err))
				return
			}
		}
	}

	if err := e.db.RefreshSubnetUniqueCounts(); err != nil {
		e.db.Rollback()
		e.logSys(models.KindErr, "", fmt.Sprintf("导入失败（已回滚）: %v", err))
		return
	}
	now := util.NowTS()
	_ = e.db.SetState("imported_at_ts", strconv.FormatInt(now, 10))
	_ = e.db.SetState("source_sqlite_path", src)
	_ = e.db.SetState("source_mtime", strconv.FormatInt(mtime, 10))
	_ = e.db.SetState("source_size", strconv.FormatInt(size, 10))
	_ = e.db.SetState("last_import_rows", strconv.Itoa(imported))
	if err := e.db.Commit(); err != nil {
		e.logSys(models.KindErr, "", fmt.Sprintf("导入提交失败: %v", err))
		return
	}
	e.logSys(models.KindInfo, "", fmt.Sprintf("imported fail2ban history: %d IPs", imported))
	logger.Info("fail2ban 历史导入完成", zap.Int("ips", imported))
}

// processLogTails 排空两个 tailer 并路由解析结果
func (e *Engine) processLogTails() {
	for _, line := range e.tAuth.ReadAvailable(maxTailLines) {
		ip, kind, ok := parser.ParseSSHLine(line)
		if !ok {
			continue
		}
		if kind == models.KindOK && !e.cfg.Logs.ShowOK {
			continue
		}
		e.handleEvent(models.SrcAuth, kind, ip, "")
	}
	for _, line := range e.tF2B.ReadAvailable(maxTailLines) {
		ip, kind, jail, ok := parser.ParseF2BLine(line)
		if !ok {
			continue
		}
		e.handleEvent(models.SrcF2B, kind, ip, jail)
	}
}

// handleEvent 应用单条事件：实时计数、缓存 upsert、事件环
// upsert 失败只记入事件环，不中断 tick。
func (e *Engine) handleEvent(src, kind, ip, jail string) {
	ts := util.NowTS()

	rt := e.realtime[ip]
	if rt == nil {
		rt = &models.Counters{}
		e.realtime[ip] = rt
	}
	rt.Add(kind)

	if err := e.db.UpsertIPEvent(ip, ts, kind, jail, e.cfg.Logs.ShowOK, e.cfg.Cache.SubnetPrefix); err != nil {
		e.logSys(models.KindErr, ip, fmt.Sprintf("缓存 upsert 失败: %v", err))
	}

	e.pushEvent(models.Event{TS: ts, Src: src, Kind: kind, IP: ip, Jail: jail})
}

// pollFail2banBans 调用 fail2ban-client 拉取当前封禁集合并做差分
// 日志已经上报 BAN/UNBAN 时会重复计数，默认仅在配置 jail 时启用。
func (e *Engine) pollFail2banBans(ctx context.Context) {
	if !e.cfg.Fail2ban.PollBans || e.cfg.Fail2ban.Jail == "" {
		return
	}
	if time.Since(e.lastPoll) < e.cfg.Fail2ban.PollInterval {
		return
	}
	e.lastPoll = time.Now()

	cctx, cancel := context.WithTimeout(ctx, pollHardLimit)
	defer cancel()

	out, err := exec.CommandContext(cctx, "fail2ban-client", "status", e.cfg.Fail2ban.Jail).Output()
	if err != nil {
		e.logSys(models.KindErr, "", fmt.Sprintf("fail2ban-client 轮询失败: %v", err))
		return
	}

	banned := make(map[string]struct{})
	for _, line := range strings.Split(string(out), "\n") {
		idx := strings.Index(line, "Banned IP list:")
		if idx < 0 {
			continue
		}
		for _, ip := range strings.Fields(line[idx+len("Banned IP list:"):]) {
			banned[ip] = struct{}{}
		}
	}

	var added, removed []string
	for ip := range banned {
		if _, ok := e.pollKnown[ip]; !ok {
			added = append(added, ip)
		}
	}
	for ip := range e.pollKnown {
		if _, ok := banned[ip]; !ok {
			removed = append(removed, ip)
		}
	}
	if len(added) == 0 && len(removed) == 0 {
		return
	}
	sort.Strings(added)
	sort.Strings(removed)
	for _, ip := range added {
		e.handleEvent(models.SrcPoll, models.KindBan, ip, e.cfg.Fail2ban.Jail)
	}
	for _, ip := range removed {
		e.handleEvent(models.SrcPoll, models.KindUnban, ip, e.cfg.Fail2ban.Jail)
	}
	e.pollKnown = banned
}

// refreshASN 游标+TTL 驱动的批量 WHOIS 富化
// 游标与修改顺序解耦，热点 IP 不会饿死地址空间尾部；耗尽后回绕保证活性。
func (e *Engine) refreshASN() (int, int) {
	if !e.cfg.ASN.Enable {
		return 0, 0
	}
	if time.Since(e.lastASN) < e.cfg.ASN.RefreshInterval {
		return 0, 0
	}
	e.lastASN = time.Now()

	minFetchedTS := util.NowTS() - int64(e.cfg.ASN.CacheTTL/time.Second)
	need, err := e.db.ListIPsNeedingASNRefresh(e.asnCursor, e.cfg.ASN.Batch, minFetchedTS)
	if err != nil {
		e.logSys(models.KindErr, "", fmt.Sprintf("asn 缓存扫描失败: %v", err))
		return 0, 0
	}
	// 游标耗尽：回绕到地址空间起点再试一次
	if len(need) == 0 && e.asnCursor != "" {
		e.asnCursor = ""
		need, err = e.db.ListIPsNeedingASNRefresh("", e.cfg.ASN.Batch, minFetchedTS)
		if err != nil {
			e.logSys(models.KindErr, "", fmt.Sprintf("asn 缓存扫描失败: %v", err))
			return 0, 0
		}
	}
	if len(need) == 0 {
		return 0, 0
	}

	e.asnCursor = need[len(need)-1]

	res, err := e.lookup(need, e.cfg.ASN.CymruHost, e.cfg.ASN.Timeout)
	if err != nil {
		e.logSys(models.KindErr, "", fmt.Sprintf("asn 查询失败: %v", err))
		return len(need), 0
	}
	if len(res) == 0 {
		return len(need), 0
	}

	// WHOIS 未返回国家码时用本地 GeoIP 兜底，不覆盖非空值
	if geoip.IsAvailable() {
		for ip, info := range res {
			if info.CC == "" {
				if cc, ok := geoip.CountryCode(ip); ok {
					info.CC = cc
					res[ip] = info
				}
			}
		}
	}

	asked, written, err := e.db.UpsertASNInfo(res)
	if err != nil {
		e.logSys(models.KindErr, "", fmt.Sprintf("asn 写入失败: %v", err))
		return len(need), 0
	}
	return asked, written
}

// maybeCommit 待提交操作存在且超过提交间隔时批量提交
func (e *Engine) maybeCommit() {
	if _, err := e.db.MaybeCommit(); err != nil {
		e.logSys(models.KindErr, "", fmt.Sprintf("缓存提交失败: %v", err))
	}
}
