package DNS

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/projectdiscovery/gologger"
)

const (
	DefaultAnswer    = "127.0.0.1"
	DefaultAnswerTTL = 60
)

var ErrResponderRunning = errors.New("responder already running")

// Observer 收到查询时回调，name 已转小写并去掉末尾的点
type Observer func(name string)

// Responder 临时权威 DNS 服务：记录所有查询名，并对每个查询返回固定的 A 记录
type Responder struct {
	addr     string
	answer   net.IP
	observer Observer

	mu     sync.Mutex
	server *dns.Server
	done   chan struct{}
}

func NewResponder(addr string, answer net.IP, observer Observer) *Responder {
	if answer == nil || answer.To4() == nil {
		answer = net.ParseIP(DefaultAnswer)
	}
	return &Responder{addr: addr, answer: answer.To4(), observer: observer}
}

// Start 同步绑定 UDP 端口，绑定失败直接返回错误
func (r *Responder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.server != nil {
		return ErrResponderRunning
	}

	pc, err := net.ListenPacket("udp", r.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", r.addr, err)
	}

	started := make(chan struct{})
	done := make(chan struct{})
	errCh := make(chan error, 1)
	server := &dns.Server{
		PacketConn:        pc,
		Handler:           r,
		NotifyStartedFunc: func() { close(started) },
	}
	go func() {
		defer close(done)
		if err := server.ActivateAndServe(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-started:
	case err := <-errCh:
		_ = pc.Close()
		return fmt.Errorf("serve %s: %w", r.addr, err)
	}

	r.server = server
	r.done = done
	gologger.Debug().Msgf("DNS 应答服务已启动: %s", pc.LocalAddr())
	return nil
}

// Addr 返回实际监听地址，未运行时为空
func (r *Responder) Addr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.server == nil || r.server.PacketConn == nil {
		return ""
	}
	return r.server.PacketConn.LocalAddr().String()
}

// Stop 关闭服务并等待服务协程退出，可重复调用
func (r *Responder) Stop() error {
	r.mu.Lock()
	server, done := r.server, r.done
	r.server, r.done = nil, nil
	r.mu.Unlock()
	if server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := server.ShutdownContext(ctx)
	// Shutdown 不保证关闭外部传入的 PacketConn
	_ = server.PacketConn.Close()
	<-done
	gologger.Debug().Msgf("DNS 应答服务已关闭: %s", r.addr)
	return err
}

func (r *Responder) ServeDNS(w dns.ResponseWriter, req *dns.Msg) {
	defer func() {
		if rec := recover(); rec != nil {
			gologger.Error().Msgf("DNS 应答崩溃: %v", rec)
		}
	}()

	reply := new(dns.Msg)
	reply.SetReply(req)
	reply.Authoritative = true

	for _, q := range req.Question {
		if r.observer != nil {
			r.observer(NormalizeName(q.Name))
		}
		reply.Answer = append(reply.Answer, &dns.A{
			Hdr: dns.RR_Header{
				Name:   q.Name,
				Rrtype: dns.TypeA,
				Class:  dns.ClassINET,
				Ttl:    DefaultAnswerTTL,
			},
			A: r.answer,
		})
	}

	if err := w.WriteMsg(reply); err != nil {
		gologger.Debug().Msgf("DNS 应答写入失败: %v", err)
	}
}

// NormalizeName 统一查询名格式，解析器可能做 0x20 大小写随机化
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(name), "."))
}
