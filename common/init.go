package common

import (
	"fmt"

	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/gologger/levels"
)

func Dprobe_init() error {
	ParseFlags()

	if Infos.Debug {
		gologger.DefaultLogger.SetMaxLevel(levels.LevelDebug)
	}

	fmt.Printf("[*] 探测配置:\n")
	fmt.Printf("    单个目标: %s\n", Infos.TargetAddr)
	fmt.Printf("    目标文件: %s\n", Infos.TargetFile)
	fmt.Printf("    输出文件: %s\n", Infos.OutputFile)
	fmt.Printf("    探测项:   %s\n", Infos.Probes)
	fmt.Printf("    端口范围: 1-%d (并发 %d, %d 轮)\n", Infos.MaxPort, Infos.Threads, Infos.Passes)
	fmt.Printf("    抓包:     %s, %d 秒, 最多 %d 包\n", Infos.Interface, Infos.Timeout, Infos.MaxPackets)
	fmt.Printf("    DNS 泄露: %s, %s x%d, 等待 %d 秒\n", Infos.DNSListen, Infos.LeakBase, Infos.LeakDomains, Infos.LeakWait)

	return Parse()
}
