package ping

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/projectdiscovery/gologger"
)

const (
	DefaultTimeout   = 2 * time.Second
	DefaultThreshold = 50 * time.Millisecond
)

const (
	ReasonDifferentTTL = "Different TTL"
	ReasonRTTGap       = "Too big time difference"
	ReasonOK           = "All OK"
)

type Sample struct {
	Seq int           `json:"seq"`
	Src string        `json:"src_ip"`
	Dst string        `json:"dst_ip"`
	RTT time.Duration `json:"rtt"`
	TTL int           `json:"ttl"`
}

// Result Reason 为 nil 表示没有结论
type Result struct {
	AnomalySuspected bool     `json:"anomaly_suspected"`
	Reason           *string  `json:"reason"`
	Samples          []Sample `json:"samples,omitempty"`
}

type Resolver interface {
	LookupIPv4(ctx context.Context, host string) (net.IP, error)
}

// Sender 发送一个 echo 请求并等待应答，ctx 到期仍无应答时返回 nil, nil
type Sender interface {
	Echo(ctx context.Context, ip net.IP, seq int) (*Sample, error)
}

type Comparator struct {
	Resolver  Resolver
	Sender    Sender
	Timeout   time.Duration
	Threshold time.Duration
}

func NewComparator(resolver Resolver, sender Sender) *Comparator {
	return &Comparator{
		Resolver:  resolver,
		Sender:    sender,
		Timeout:   DefaultTimeout,
		Threshold: DefaultThreshold,
	}
}

// DoublePing 顺序发送两个 ICMP 探测包并比较 TTL 与 RTT
func (c *Comparator) DoublePing(ctx context.Context, host string) *Result {
	ip, err := c.Resolver.LookupIPv4(ctx, host)
	if err != nil || ip == nil {
		gologger.Debug().Msgf("ping: 无法解析 %s: %v", host, err)
		return &Result{}
	}

	out := make(chan *Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				gologger.Error().Msgf("ping %s 异常: %v", host, r)
				out <- &Result{}
			}
		}()
		out <- c.run(ctx, ip)
	}()
	return <-out
}

func (c *Comparator) run(ctx context.Context, ip net.IP) *Result {
	samples := make([]Sample, 0, 2)
	for seq := 1; seq <= 2; seq++ {
		s, err := c.echo(ctx, ip, seq)
		if err != nil {
			gologger.Debug().Msgf("ping %s seq=%d: %v", ip, seq, err)
			return &Result{}
		}
		if s == nil {
			gologger.Debug().Msgf("ping %s seq=%d 无应答", ip, seq)
			return &Result{AnomalySuspected: true, Samples: samples}
		}
		samples = append(samples, *s)
	}

	res := Compare(samples[0], samples[1], c.threshold())
	res.Samples = samples
	return res
}

func (c *Comparator) echo(ctx context.Context, ip net.IP, seq int) (*Sample, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s, err := c.Sender.Echo(ctx, ip, seq)
	if err != nil {
		return nil, fmt.Errorf("echo: %w", err)
	}
	return s, nil
}

func (c *Comparator) threshold() time.Duration {
	if c.Threshold <= 0 {
		return DefaultThreshold
	}
	return c.Threshold
}

// Compare 两个应答 TTL 不同或 RTT 相差超过 threshold 视为异常
func Compare(a, b Sample, threshold time.Duration) *Result {
	if a.TTL != b.TTL {
		return suspect(ReasonDifferentTTL)
	}
	delta := a.RTT - b.RTT
	if delta < 0 {
		delta = -delta
	}
	if delta > threshold {
		return suspect(ReasonRTTGap)
	}
	reason := ReasonOK
	return &Result{Reason: &reason}
}

func suspect(reason string) *Result {
	return &Result{AnomalySuspected: true, Reason: &reason}
}
