package DNS

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/miekg/dns"
	"github.com/patrickmn/go-cache"
)

//1. IP 字面量直接返回。
//2. 检查缓存，命中直接返回。
//3. 随机选择一个自定义 DNS 服务器，用 miekg/dns 查询 A 记录。
//4. 失败则回退到系统解析器。
//5. 成功结果写入缓存。

type DNSResolver struct {
	Servers []string
	Timeout time.Duration

	cache *cache.Cache
}

func NewDNSResolver(servers []string) *DNSResolver {
	if len(servers) == 0 {
		servers = []string{"8.8.8.8"}
	}
	return &DNSResolver{
		Servers: servers,
		Timeout: 3 * time.Second,
		cache:   cache.New(5*time.Minute, 10*time.Minute),
	}
}

func (r *DNSResolver) LookupIP(domain string) ([]net.IP, error) {
	return r.LookupIPContext(context.Background(), domain)
}

func (r *DNSResolver) LookupIPContext(ctx context.Context, domain string) ([]net.IP, error) {
	if ip := net.ParseIP(domain); ip != nil {
		return []net.IP{ip}, nil
	}
	if cached, found := r.cache.Get(domain); found {
		return cached.([]net.IP), nil
	}

	ips, err := r.lookupIPWithCustomDNS(ctx, domain)
	if err != nil {
		var sysErr error
		ips, sysErr = net.DefaultResolver.LookupIP(ctx, "ip", domain)
		if sysErr != nil {
			return nil, fmt.Errorf("DNS解析失败: %v; %v", err, sysErr)
		}
	}

	r.cache.Set(domain, ips, cache.DefaultExpiration)
	return ips, nil
}

// LookupIPv4 返回第一个 IPv4 地址
func (r *DNSResolver) LookupIPv4(ctx context.Context, domain string) (net.IP, error) {
	ips, err := r.LookupIPContext(ctx, domain)
	if err != nil {
		return nil, err
	}
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			return v4, nil
		}
	}
	return nil, fmt.Errorf("%s 没有 IPv4 地址", domain)
}

func (r *DNSResolver) lookupIPWithCustomDNS(ctx context.Context, domain string) ([]net.IP, error) {
	server := r.getRandomServer()

	client := &dns.Client{Timeout: r.Timeout}
	message := new(dns.Msg)
	message.SetQuestion(dns.Fqdn(domain), dns.TypeA)
	message.RecursionDesired = true

	start := time.Now()
	resp, _, err := client.ExchangeContext(ctx, message, serverAddr(server))
	elapsed := time.Since(start)

	if err != nil {
		return nil, fmt.Errorf("DNS 查询失败 (%s): %v (耗时: %v)", server, err, elapsed)
	}

	var ips []net.IP
	for _, ans := range resp.Answer {
		switch t := ans.(type) {
		case *dns.A:
			ips = append(ips, t.A)
		case *dns.AAAA:
			ips = append(ips, t.AAAA)
		}
	}

	if len(ips) == 0 {
		return nil, fmt.Errorf("没有解析到有效的 IP 地址")
	}
	return ips, nil
}

func (r *DNSResolver) getRandomServer() string {
	return r.Servers[rand.Intn(len(r.Servers))]
}

// serverAddr 允许 "host" 或 "host:port"
func serverAddr(server string) string {
	if _, _, err := net.SplitHostPort(server); err == nil {
		return server
	}
	return net.JoinHostPort(server, "53")
}
