package common

import (
	"flag"
	"fmt"
	"os"

	"dprobe/core/leak"
	"dprobe/core/tunnel"
)

func ParseFlags() {
	flag.StringVar(&Infos.TargetAddr, "a", "", "目标，支持 IP、CIDR、IP 范围和域名，逗号分隔")
	flag.StringVar(&Infos.TargetFile, "f", "", "目标列表文件，每行一个")
	flag.IntVar(&Infos.MaxPort, "p", DefaultMaxPort, "扫描端口 1..p")
	flag.IntVar(&Infos.Threads, "t", DefaultConcurrency, "端口扫描并发数")
	flag.IntVar(&Infos.Passes, "deep", DefaultPasses, "深度扫描轮数")
	flag.StringVar(&Infos.Interface, "i", "", "抓包网卡（默认第一个可用网卡）")
	flag.IntVar(&Infos.Timeout, "T", int(tunnel.DefaultTimeout.Seconds()), "隧道抓包超时，单位秒")
	flag.IntVar(&Infos.MaxPackets, "max-packets", tunnel.DefaultMaxPackets, "隧道抓包数量上限")
	flag.StringVar(&Infos.DNSListen, "dns-listen", leak.DefaultListenAddr, "DNS 泄露测试应答服务监听地址")
	flag.StringVar(&Infos.LeakBase, "base", DefaultLeakBase, "DNS 泄露测试根域名（需委派到应答服务）")
	flag.IntVar(&Infos.LeakDomains, "n", DefaultLeakDomains, "每个泄露测试生成的域名数")
	flag.IntVar(&Infos.LeakWait, "wait", DefaultLeakWait, "等待测试域名被解析的时间，单位秒")
	flag.BoolVar(&Infos.LeakSelf, "leak-self", false, "由本机系统解析器解析测试域名")
	flag.StringVar(&Infos.Probes, "probes", DefaultProbes, "启用的探测项 scan,leak,tunnel,ping")
	flag.StringVar(&Infos.OutputFile, "o", "result.txt", "结果输出文件路径（默认 result.txt）")
	flag.BoolVar(&Infos.JSON, "json", false, "结果文件使用 JSON 行格式")
	flag.BoolVar(&Infos.Debug, "debug", false, "输出调试日志")

	flag.Usage = func() {
		fmt.Println("用法:")
		fmt.Println("  - 探测单个目标: ./dprobe -a 192.0.2.1")
		fmt.Println("  - 批量探测文件: ./dprobe -f targets.txt -probes scan,ping")
		fmt.Println("参数:")
		flag.PrintDefaults()
	}

	flag.Parse()

	// 参数校验
	if Infos.TargetAddr == "" && Infos.TargetFile == "" {
		fmt.Println("[!] 必须使用 -a (目标) 或 -f (目标文件) 参数之一")
		flag.Usage()
		os.Exit(1)
	}

	if Infos.TargetAddr != "" && Infos.TargetFile != "" {
		fmt.Println("[!] 参数冲突：-a 和 -f 不能同时使用")
		flag.Usage()
		os.Exit(1)
	}
}
