package tunnel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/projectdiscovery/gologger"
)

const (
	DefaultTimeout    = 5 * time.Second
	DefaultMaxPackets = 10
)

// Handle 抓包句柄，*pcap.Handle 满足该接口
type Handle interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
	Close()
}

// PacketSource 按网卡和 BPF 过滤器打开抓包句柄
type PacketSource interface {
	Open(iface, filter string) (Handle, error)
}

// PcapSource 基于 libpcap 的抓包源
type PcapSource struct {
	Snaplen int32
	Promisc bool
	// ReadTimeout 单次读取的超时，决定取消后抓包协程的退出延迟
	ReadTimeout time.Duration
}

func (s PcapSource) Open(iface, filter string) (Handle, error) {
	snaplen := s.Snaplen
	if snaplen <= 0 {
		snaplen = 65535
	}
	readTimeout := s.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 100 * time.Millisecond
	}

	handle, err := pcap.OpenLive(iface, snaplen, s.Promisc, readTimeout)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", iface, err)
	}
	if err := handle.SetBPFFilter(filter); err != nil {
		handle.Close()
		return nil, fmt.Errorf("set filter %q: %w", filter, err)
	}
	return handle, nil
}

type Probe struct {
	source PacketSource
}

func NewProbe(source PacketSource) *Probe {
	if source == nil {
		source = PcapSource{Promisc: true}
	}
	return &Probe{source: source}
}

// Detect 在 iface 上被动抓取与 ip 相关的流量，返回第一个识别出的隧道。
// timeout 同时约束抓包和结果交付；maxPackets 限制检查的包数。
// 未发现隧道和抓包失败都返回 nil。
func (p *Probe) Detect(ctx context.Context, ip, iface string, timeout time.Duration, maxPackets int) *Record {
	target := net.ParseIP(ip)
	if target == nil {
		gologger.Debug().Msgf("隧道检测: 无效地址 %q", ip)
		return nil
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxPackets <= 0 {
		maxPackets = DefaultMaxPackets
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	handle, err := p.source.Open(iface, "host "+target.String())
	if err != nil {
		gologger.Debug().Msgf("隧道检测: 无法开始抓包: %v", err)
		return nil
	}

	found := make(chan *Record, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer handle.Close()
		defer func() {
			if r := recover(); r != nil {
				gologger.Error().Msgf("抓包协程崩溃: %v", r)
			}
		}()
		capture(ctx, handle, target, maxPackets, found)
	}()

	var rec *Record
	select {
	case rec = <-found:
	case <-done:
		select {
		case rec = <-found:
		default:
		}
	case <-ctx.Done():
	}

	// 命中后立即停止抓包，等待句柄释放
	cancel()
	<-done
	if rec != nil {
		gologger.Debug().Msgf("隧道检测: %s 发现 %s", ip, rec.Type)
	}
	return rec
}

func capture(ctx context.Context, h Handle, target net.IP, maxPackets int, found chan<- *Record) {
	decoder := h.LinkType()
	for seen := 0; seen < maxPackets; {
		if ctx.Err() != nil {
			return
		}
		data, _, err := h.ReadPacketData()
		if err != nil {
			if errors.Is(err, pcap.NextErrorTimeoutExpired) {
				continue
			}
			gologger.Debug().Msgf("抓包结束: %v", err)
			return
		}
		seen++

		pkt := gopacket.NewPacket(data, decoder, gopacket.Default)
		if rec := classifyFor(pkt, target); rec != nil {
			found <- rec
			return
		}
	}
}

// DefaultInterface 返回第一个带 IPv4 地址的非回环网卡
func DefaultInterface() (string, error) {
	devs, err := pcap.FindAllDevs()
	if err != nil {
		return "", fmt.Errorf("list interfaces: %w", err)
	}
	for _, d := range devs {
		for _, a := range d.Addresses {
			if a.IP.To4() != nil && !a.IP.IsLoopback() {
				return d.Name, nil
			}
		}
	}
	return "", errors.New("no usable capture interface")
}
