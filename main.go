package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"sync"
	"time"

	"dprobe/common"
	"dprobe/core/leak"
	"dprobe/core/network"
	"dprobe/core/ping"
	"dprobe/core/report"
	"dprobe/core/tunnel"

	"github.com/projectdiscovery/gologger"
)

func main() {
	if err := common.Dprobe_init(); err != nil {
		gologger.Fatal().Msgf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	iface := common.Infos.Interface
	if iface == "" && enabled(report.ProbeTunnel) {
		var err error
		if iface, err = tunnel.DefaultInterface(); err != nil {
			gologger.Warning().Msgf("隧道检测无可用网卡: %v", err)
		}
	}

	harness := leak.NewHarness(leak.Config{ListenAddr: common.Infos.DNSListen})
	if enabled(report.ProbeLeak) {
		// 常驻应答服务，测试域名在 Check 之前就可能被解析
		if err := harness.Start(); err != nil {
			gologger.Warning().Msgf("%v", err)
		} else {
			gologger.Info().Msgf("DNS 泄露测试应答服务: %s", harness.Addr())
		}
		defer harness.Close()
	}

	runner := &report.Runner{
		Options: report.Options{
			Probes:         common.ParseInfo.Probes,
			MaxPort:        common.Infos.MaxPort,
			Concurrency:    common.Infos.Threads,
			Passes:         common.Infos.Passes,
			Interface:      iface,
			CaptureTimeout: time.Duration(common.Infos.Timeout) * time.Second,
			MaxPackets:     common.Infos.MaxPackets,
			LeakDomains:    common.Infos.LeakDomains,
			LeakBase:       common.Infos.LeakBase,
			LeakWait:       time.Duration(common.Infos.LeakWait) * time.Second,
		},
		Resolver: common.Resolver,
		Scanner:  network.NewScanner(network.Options{}),
		Tunnel:   tunnel.NewProbe(nil),
		Pinger:   ping.NewComparator(common.Resolver, &ping.ICMPSender{}),
		Leak:     harness,
	}
	if common.Infos.LeakSelf {
		runner.Trigger = resolveLocally
	}

	writer := &report.Writer{OutputFile: common.Infos.OutputFile, JSON: common.Infos.JSON}

	gologger.Info().Msgf("探测开始，共 %d 个目标", len(common.ParseInfo.Targets))
	for _, target := range common.ParseInfo.Targets {
		if ctx.Err() != nil {
			break
		}
		// 目标间串行，避免抓包时多个目标的流量互相干扰
		writer.Write(runner.Run(ctx, target))
	}
	gologger.Info().Msgf("探测结束")
}

func enabled(probe string) bool {
	for _, p := range common.ParseInfo.Probes {
		if p == probe {
			return true
		}
	}
	return false
}

// resolveLocally 通过系统解析器查询测试域名，检验本机的 DNS 路径
func resolveLocally(ctx context.Context, domains []string) {
	var wg sync.WaitGroup
	for _, d := range domains {
		wg.Add(1)
		go func(domain string) {
			defer wg.Done()
			if _, err := net.DefaultResolver.LookupHost(ctx, domain); err != nil {
				gologger.Debug().Msgf("解析 %s 失败: %v", domain, err)
			}
		}(domain)
	}
	wg.Wait()
}
