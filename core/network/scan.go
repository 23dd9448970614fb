package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/projectdiscovery/gologger"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultDialTimeout = 300 * time.Millisecond
	MaxPort            = 65535
)

var ErrInvalidAddress = errors.New("invalid address")

// Dialer 建立 TCP 连接，*net.Dialer 即可满足
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

type Options struct {
	Timeout time.Duration // 单次连接超时
	Dialer  Dialer
}

// Target 一次扫描的参数，不做持久化
type Target struct {
	IP          string
	MaxPort     int
	Concurrency int
	Passes      int
}

type Scanner struct {
	timeout time.Duration
	dialer  Dialer
}

func NewScanner(opts Options) *Scanner {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultDialTimeout
	}
	if opts.Dialer == nil {
		opts.Dialer = &net.Dialer{}
	}
	return &Scanner{timeout: opts.Timeout, dialer: opts.Dialer}
}

// Scan 扫描 [1, maxPort] 的 TCP 端口，同时在途的连接数不超过 concurrency。
// 超时、拒绝以及其他任何错误都视为未开放。
func (s *Scanner) Scan(ctx context.Context, ip string, maxPort, concurrency int) ([]int, error) {
	addr, err := parseIP(ip)
	if err != nil {
		return nil, err
	}
	found := NewOpenPortSet()
	s.scanPorts(ctx, addr, portRange(maxPort), concurrency, found)
	return found.Ports(), nil
}

// DeepScan 重复扫描 passes 次并取并集，单次扫描会因丢包漏报。
// 结果为空表示没有发现开放端口，不是错误。
func (s *Scanner) DeepScan(ctx context.Context, ip string, maxPort, concurrency, passes int) (*OpenPortSet, error) {
	addr, err := parseIP(ip)
	if err != nil {
		return nil, err
	}
	if passes < 1 {
		passes = 1
	}

	result := NewOpenPortSet()
	ports := portRange(maxPort)
	for i := 1; i <= passes; i++ {
		if ctx.Err() != nil {
			break
		}
		pass := NewOpenPortSet()
		s.scanPorts(ctx, addr, ports, concurrency, pass)
		gologger.Debug().Msgf("%s 第 %d/%d 轮扫描发现 %d 个开放端口", addr, i, passes, pass.Len())
		result.Merge(pass)
	}
	return result, nil
}

// ScanTarget 按 Target 执行深度扫描
func (s *Scanner) ScanTarget(ctx context.Context, t Target) (*OpenPortSet, error) {
	return s.DeepScan(ctx, t.IP, t.MaxPort, t.Concurrency, t.Passes)
}

func (s *Scanner) scanPorts(ctx context.Context, ip string, ports []int, concurrency int, found *OpenPortSet) {
	if concurrency < 1 {
		concurrency = 1
	}
	sem := semaphore.NewWeighted(int64(concurrency))
	var wg sync.WaitGroup

	for _, port := range ports {
		// ctx 取消时停止派发
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(port int) {
			defer wg.Done()
			defer sem.Release(1)
			if s.probe(ctx, ip, port) {
				found.Add(port, ServiceName(port))
			}
		}(port)
	}
	wg.Wait()
}

func (s *Scanner) probe(ctx context.Context, ip string, port int) (open bool) {
	defer func() {
		if r := recover(); r != nil {
			gologger.Error().Msgf("端口 %d 探测崩溃: %v", port, r)
			open = false
		}
	}()

	dialCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	conn, err := s.dialer.DialContext(dialCtx, "tcp", net.JoinHostPort(ip, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func parseIP(ip string) (string, error) {
	addr := net.ParseIP(ip)
	if addr == nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, ip)
	}
	return addr.String(), nil
}

func portRange(maxPort int) []int {
	if maxPort < 1 {
		return nil
	}
	if maxPort > MaxPort {
		maxPort = MaxPort
	}
	ports := make([]int, 0, maxPort)
	for port := 1; port <= maxPort; port++ {
		ports = append(ports, port)
	}
	return ports
}
