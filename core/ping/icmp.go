package ping

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/projectdiscovery/gologger"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

const protocolICMP = 1

var echoID atomic.Uint32

func init() {
	echoID.Store(uint32(os.Getpid() & 0xffff))
}

// ICMPSender 通过 ICMP echo 测量 RTT 并读取应答 TTL。
// 优先使用原始套接字，没有权限时退回到 udp4 非特权 ICMP。
type ICMPSender struct {
	ListenAddr string
}

func (s *ICMPSender) Echo(ctx context.Context, ip net.IP, seq int) (*Sample, error) {
	ip4 := ip.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("not an ipv4 address: %s", ip)
	}

	conn, privileged, err := s.listen()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	pc := conn.IPv4PacketConn()
	if err := pc.SetControlMessage(ipv4.FlagTTL, true); err != nil {
		gologger.Debug().Msgf("ping: 无法读取 TTL 控制信息: %v", err)
	}

	id := int(echoID.Add(1) & 0xffff)
	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Body: &icmp.Echo{ID: id, Seq: seq, Data: []byte("dprobe")},
	}
	wb, err := msg.Marshal(nil)
	if err != nil {
		return nil, fmt.Errorf("marshal echo: %w", err)
	}

	var dst net.Addr = &net.IPAddr{IP: ip4}
	if !privileged {
		dst = &net.UDPAddr{IP: ip4}
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(DefaultTimeout)
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set deadline: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()

	start := time.Now()
	if _, err := pc.WriteTo(wb, nil, dst); err != nil {
		return nil, fmt.Errorf("send echo: %w", err)
	}

	rb := make([]byte, 1500)
	for {
		n, cm, peer, err := pc.ReadFrom(rb)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return nil, nil
			}
			return nil, fmt.Errorf("read reply: %w", err)
		}
		rtt := time.Since(start)

		rm, err := icmp.ParseMessage(protocolICMP, rb[:n])
		if err != nil || rm.Type != ipv4.ICMPTypeEchoReply {
			continue
		}
		echo, ok := rm.Body.(*icmp.Echo)
		// 非特权模式下内核会改写 ID，只按序号匹配
		if !ok || echo.Seq != seq || (privileged && echo.ID != id) {
			continue
		}
		if !sameHost(peer, ip4) {
			continue
		}

		sample := &Sample{Seq: seq, Src: peerIP(peer), Dst: ip4.String(), RTT: rtt}
		if cm != nil {
			sample.TTL = cm.TTL
		}
		return sample, nil
	}
}

func (s *ICMPSender) listen() (*icmp.PacketConn, bool, error) {
	addr := s.ListenAddr
	if addr == "" {
		addr = "0.0.0.0"
	}
	conn, err := icmp.ListenPacket("ip4:icmp", addr)
	if err == nil {
		return conn, true, nil
	}
	gologger.Debug().Msgf("ping: 原始套接字不可用 (%v)，使用 udp4", err)
	conn, uerr := icmp.ListenPacket("udp4", addr)
	if uerr != nil {
		return nil, false, fmt.Errorf("listen icmp: %w", errors.Join(err, uerr))
	}
	return conn, false, nil
}

func peerIP(peer net.Addr) string {
	switch a := peer.(type) {
	case *net.IPAddr:
		return a.IP.String()
	case *net.UDPAddr:
		return a.IP.String()
	}
	return ""
}

func sameHost(peer net.Addr, ip net.IP) bool {
	return peerIP(peer) == ip.String()
}
