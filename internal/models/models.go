package models

// 事件来源
const (
	SrcAuth = "auth" // sshd 认证日志
	SrcF2B  = "f2b"  // fail2ban 动作日志
	SrcPoll = "poll" // fail2ban-client 轮询
	SrcSys  = "sys"  // 系统内部事件
)

// 事件类型
const (
	KindFail  = "FAIL"
	KindOK    = "OK"
	KindBan   = "BAN"
	KindUnban = "UNBAN"
	KindInfo  = "INFO"
	KindErr   = "ERR"
)

// Event 内存事件（仅驻留环形缓冲，不落库）
type Event struct {
	TS   int64  `json:"ts"`
	Src  string `json:"src"`
	Kind string `json:"kind"`
	IP   string `json:"ip"`
	Jail string `json:"jail,omitempty"`
	Msg  string `json:"msg,omitempty"`
}

// Counters 单 IP 实时计数
type Counters struct {
	Fail  int64 `json:"fail"`
	OK    int64 `json:"ok"`
	Ban   int64 `json:"ban"`
	Unban int64 `json:"unban"`
}

// Add 按事件类型累加
func (c *Counters) Add(kind string) {
	switch kind {
	case KindFail:
		c.Fail++
	case KindOK:
		c.OK++
	case KindBan:
		c.Ban++
	case KindUnban:
		c.Unban++
	}
}

// Total 四类计数之和
func (c *Counters) Total() int64 {
	return c.Fail + c.OK + c.Ban + c.Unban
}

// ASNInfo 单次 WHOIS 查询结果
type ASNInfo struct {
	ASN       string `json:"asn"`
	CC        string `json:"cc"`
	ASName    string `json:"as_name"`
	FetchedTS int64  `json:"fetched_ts"`
}

// IPCache 单 IP 聚合（持久化，主键 ip）
type IPCache struct {
	IP                string `gorm:"column:ip;primaryKey" json:"ip"`
	FirstSeenTS       int64  `gorm:"column:first_seen_ts" json:"first_seen_ts"`
	LastSeenTS        int64  `gorm:"column:last_seen_ts" json:"last_seen_ts"`
	Fails             int64  `gorm:"column:fails" json:"fails"`
	OKs               int64  `gorm:"column:oks" json:"oks"`
	Bans              int64  `gorm:"column:bans" json:"bans"`
	Unbans            int64  `gorm:"column:unbans" json:"unbans"`
	LastEvent         string `gorm:"column:last_event" json:"last_event"`
	LastJail          string `gorm:"column:last_jail" json:"last_jail"`
	LastBanTS         *int64 `gorm:"column:last_ban_ts" json:"last_ban_ts,omitempty"`
	LastBanJail       string `gorm:"column:last_ban_jail" json:"last_ban_jail"`
	BanCountTotal     int64  `gorm:"column:ban_count_total" json:"ban_count_total"`
	ProviderASN       string `gorm:"column:provider_asn" json:"provider_asn"`
	ProviderCC        string `gorm:"column:provider_cc" json:"provider_cc"`
	ProviderName      string `gorm:"column:provider_name" json:"provider_name"`
	ProviderFetchedTS *int64 `gorm:"column:provider_fetched_ts" json:"provider_fetched_ts,omitempty"`
}

func (IPCache) TableName() string {
	return "ip_cache"
}

// SubnetCache 子网聚合（持久化，主键 subnet）
type SubnetCache struct {
	Subnet      string `gorm:"column:subnet;primaryKey" json:"subnet"`
	Prefix      int    `gorm:"column:prefix" json:"prefix"`
	FirstSeenTS int64  `gorm:"column:first_seen_ts" json:"first_seen_ts"`
	LastSeenTS  int64  `gorm:"column:last_seen_ts" json:"last_seen_ts"`
	Fails       int64  `gorm:"column:fails" json:"fails"`
	Bans        int64  `gorm:"column:bans" json:"bans"`
	Unbans      int64  `gorm:"column:unbans" json:"unbans"`
	UniqueIPs   int64  `gorm:"column:unique_ips" json:"unique_ips"`
	LastIP      string `gorm:"column:last_ip" json:"last_ip"`
}

func (SubnetCache) TableName() string {
	return "subnet_cache"
}

// SubnetIP 子网-IP 归属关系（持久化，复合主键）
type SubnetIP struct {
	Subnet      string `gorm:"column:subnet;primaryKey" json:"subnet"`
	IP          string `gorm:"column:ip;primaryKey" json:"ip"`
	FirstSeenTS int64  `gorm:"column:first_seen_ts" json:"first_seen_ts"`
	LastSeenTS  int64  `gorm:"column:last_seen_ts" json:"last_seen_ts"`
}

func (SubnetIP) TableName() string {
	return "subnet_ip"
}

// ASNCache 单 IP 的 ASN 记录（持久化，主键 ip）
// 与 ip_cache 的 provider_* 冗余：用于重建反规范化列
type ASNCache struct {
	IP        string `gorm:"column:ip;primaryKey" json:"ip"`
	ASN       string `gorm:"column:asn" json:"asn"`
	CC        string `gorm:"column:cc" json:"cc"`
	ASName    string `gorm:"column:as_name" json:"as_name"`
	FetchedTS int64  `gorm:"column:fetched_ts" json:"fetched_ts"`
}

func (ASNCache) TableName() string {
	return "asn_cache"
}

// ImportState 历史导入状态（kv 表）
type ImportState struct {
	K string `gorm:"column:k;primaryKey" json:"k"`
	V string `gorm:"column:v" json:"v"`
}

func (ImportState) TableName() string {
	return "bips_import_state"
}

// ASNSummary ASN 维度聚合查询结果（GROUP BY provider_asn）
type ASNSummary struct {
	ASN         string `gorm:"column:asn" json:"asn"`
	ASName      string `gorm:"column:as_name" json:"as_name"`
	CC          string `gorm:"column:cc" json:"cc"`
	IPCount     int64  `gorm:"column:ip_count" json:"ip_count"`
	BanTotalSum int64  `gorm:"column:ban_total_sum" json:"ban_total_sum"`
	BansSum     int64  `gorm:"column:bans_sum" json:"bans_sum"`
	FailsSum    int64  `gorm:"column:fails_sum" json:"fails_sum"`
	LastFetchTS *int64 `gorm:"column:last_fetch_ts" json:"last_fetch_ts,omitempty"`
}
