package common

import (
	"dprobe/core/DNS"
)

var (
	DefaultMaxPort     = 1000
	DefaultConcurrency = 500
	DefaultPasses      = 3
	DefaultLeakBase    = "example.com"
	DefaultLeakDomains = 3
	DefaultLeakWait    = 10 // 秒
	DefaultProbes      = "scan,leak,tunnel,ping"

	DnsServers = []string{
		"8.8.8.8",         // Google DNS
		"9.9.9.9",         // Quad9 DNS
		"114.114.114.114", // 114DNS
		"223.5.5.5",       // 阿里云 DNS
		"180.76.76.76",    // 百度 DNS
		"1.1.1.1",         // Cloudflare DNS (国际备选)
	}
)

var Resolver = DNS.NewDNSResolver(DnsServers)

type Info struct {
	TargetAddr  string // -a 目标
	TargetFile  string // -f 批量目标文件
	MaxPort     int    // -p 扫描 1..MaxPort
	Threads     int    // -t 扫描并发数
	Passes      int    // -deep 深度扫描轮数
	Interface   string // -i 抓包网卡
	Timeout     int    // -T 抓包超时（秒）
	MaxPackets  int    // -max-packets 抓包数量上限
	DNSListen   string // -dns-listen 泄露测试应答服务地址
	LeakBase    string // -base 泄露测试根域名
	LeakDomains int    // -n 每个测试的域名数
	LeakWait    int    // -wait 等待解析的时间（秒）
	LeakSelf    bool   // -leak-self 由本机解析测试域名
	Probes      string // -probes 启用的探测项
	OutputFile  string // -o 输出结果文件
	JSON        bool   // -json 以 JSON 行写入结果文件
	Debug       bool   // -debug
}

var Infos Info
