package report

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"dprobe/core/leak"
	"dprobe/core/network"
	"dprobe/core/ping"
	"dprobe/core/tunnel"

	"github.com/hashicorp/go-multierror"
	"github.com/projectdiscovery/gologger"
)

type PortScanner interface {
	ScanTarget(ctx context.Context, t network.Target) (*network.OpenPortSet, error)
}

type TunnelDetector interface {
	Detect(ctx context.Context, ip, iface string, timeout time.Duration, maxPackets int) *tunnel.Record
}

type Pinger interface {
	DoublePing(ctx context.Context, host string) *ping.Result
}

type LeakTester interface {
	Create(n int, baseDomain string) (*leak.Created, error)
	Check(ctx context.Context, testID string, wait time.Duration) (*leak.Result, error)
}

type Resolver interface {
	LookupIPv4(ctx context.Context, host string) (net.IP, error)
}

// LeakTrigger 在测试创建后被调用，负责让待测路径去解析这些域名
type LeakTrigger func(ctx context.Context, domains []string)

type Options struct {
	Probes []string

	MaxPort     int
	Concurrency int
	Passes      int

	Interface      string
	CaptureTimeout time.Duration
	MaxPackets     int

	LeakDomains int
	LeakBase    string
	LeakWait    time.Duration
}

type Runner struct {
	Options  Options
	Resolver Resolver
	Scanner  PortScanner
	Tunnel   TunnelDetector
	Pinger   Pinger
	Leak     LeakTester
	Trigger  LeakTrigger
}

// Run 对单个目标并发执行启用的探测项。单项失败只记录在 Errors 中，不影响其它项。
func (r *Runner) Run(ctx context.Context, target string) *Report {
	start := time.Now()
	rep := &Report{Target: target}
	defer func() { rep.Elapsed = time.Since(start) }()

	ip, err := r.Resolver.LookupIPv4(ctx, target)
	if err != nil || ip == nil {
		rep.Errors = []string{fmt.Sprintf("resolve %s: %v", target, err)}
		return rep
	}
	rep.IP = ip.String()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs *multierror.Error
	)
	fail := func(err error) {
		mu.Lock()
		errs = multierror.Append(errs, err)
		mu.Unlock()
	}
	run := func(name string, probe func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil {
					gologger.Error().Msgf("%s 探测崩溃: %v", name, p)
					fail(fmt.Errorf("%s: panic: %v", name, p))
				}
			}()
			if err := probe(); err != nil {
				fail(fmt.Errorf("%s: %w", name, err))
			}
		}()
	}

	for _, name := range r.Options.Probes {
		switch name {
		case ProbeScan:
			run(name, func() error { return r.scan(ctx, rep) })
		case ProbeTunnel:
			run(name, func() error { return r.tunnel(ctx, rep) })
		case ProbePing:
			run(name, func() error { return r.ping(ctx, rep) })
		case ProbeLeak:
			run(name, func() error { return r.leak(ctx, rep) })
		default:
			fail(fmt.Errorf("unknown probe %q", name))
		}
	}
	wg.Wait()

	if errs != nil {
		for _, e := range errs.Errors {
			rep.Errors = append(rep.Errors, e.Error())
		}
		sort.Strings(rep.Errors)
	}
	return rep
}

// 各探测项只写 Report 中属于自己的字段

func (r *Runner) scan(ctx context.Context, rep *Report) error {
	if r.Scanner == nil {
		return fmt.Errorf("no scanner configured")
	}
	set, err := r.Scanner.ScanTarget(ctx, network.Target{
		IP:          rep.IP,
		MaxPort:     r.Options.MaxPort,
		Concurrency: r.Options.Concurrency,
		Passes:      r.Options.Passes,
	})
	if err != nil {
		return err
	}
	rep.Ports = set.Labels()
	return nil
}

func (r *Runner) tunnel(ctx context.Context, rep *Report) error {
	if r.Tunnel == nil {
		return fmt.Errorf("no tunnel probe configured")
	}
	rep.Tunnel = r.Tunnel.Detect(ctx, rep.IP, r.Options.Interface, r.Options.CaptureTimeout, r.Options.MaxPackets)
	return nil
}

func (r *Runner) ping(ctx context.Context, rep *Report) error {
	if r.Pinger == nil {
		return fmt.Errorf("no pinger configured")
	}
	rep.Ping = r.Pinger.DoublePing(ctx, rep.IP)
	return nil
}

func (r *Runner) leak(ctx context.Context, rep *Report) error {
	if r.Leak == nil {
		return fmt.Errorf("no leak harness configured")
	}
	created, err := r.Leak.Create(r.Options.LeakDomains, r.Options.LeakBase)
	if err != nil {
		return err
	}
	gologger.Info().Msgf("%s DNS 泄露测试 %s 待解析: %v", rep.Target, created.TestID, created.Domains)
	if r.Trigger != nil {
		r.Trigger(ctx, created.Domains)
	}

	res, err := r.Leak.Check(ctx, created.TestID, r.Options.LeakWait)
	if err != nil {
		return err
	}
	rep.Leak = res
	return nil
}
