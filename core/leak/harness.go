package leak

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"dprobe/core/DNS"

	"github.com/patrickmn/go-cache"
	"github.com/projectdiscovery/gologger"
)

const (
	DefaultListenAddr      = "0.0.0.0:55353"
	DefaultTestTTL         = 10 * time.Minute
	DefaultCleanupInterval = time.Minute
	DefaultPollInterval    = 50 * time.Millisecond

	labelAttempts = 16
)

var (
	ErrNotFound        = errors.New("leak test not found")
	ErrServerStart     = errors.New("dns leak test server start failed")
	ErrInvalidArgument = errors.New("invalid leak test argument")
)

type Config struct {
	ListenAddr      string        // 应答服务监听地址
	TestTTL         time.Duration // 创建后未检查的测试保留时长
	CleanupInterval time.Duration
	PollInterval    time.Duration
	Answer          net.IP // 对所有查询返回的占位地址
}

// Created 新建测试的返回值
type Created struct {
	TestID  string   `json:"test_id"`
	Domains []string `json:"domains"`
}

type Result struct {
	TestID       string   `json:"test_id"`
	Expected     []string `json:"expected"`
	Seen         []string `json:"seen"`
	Missing      []string `json:"missing"`
	LeakDetected bool     `json:"leak_detected"`
}

// Harness 管理 DNS 泄露测试。所有测试共享一个按需启动的应答服务，
// 查询名按归属分发到对应测试，因此多个 Check 可以并发执行。
type Harness struct {
	cfg   Config
	tests *cache.Cache

	ownerMu sync.RWMutex
	owners  map[string]string // 域名 -> 测试 ID

	respMu    sync.Mutex
	responder *DNS.Responder
	refs      int
	pinned    bool
}

func NewHarness(cfg Config) *Harness {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.TestTTL <= 0 {
		cfg.TestTTL = DefaultTestTTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	h := &Harness{
		cfg:    cfg,
		tests:  cache.New(cfg.TestTTL, cfg.CleanupInterval),
		owners: make(map[string]string),
	}
	h.tests.OnEvicted(h.evicted)
	h.responder = DNS.NewResponder(cfg.ListenAddr, cfg.Answer, h.observe)
	return h
}

// Create 生成 n 个 <8位hex>.<baseDomain> 子域名并登记测试
func (h *Harness) Create(n int, baseDomain string) (*Created, error) {
	base := DNS.NormalizeName(baseDomain)
	if n < 1 || base == "" {
		return nil, fmt.Errorf("%w: n=%d base=%q", ErrInvalidArgument, n, baseDomain)
	}

	id, err := newTestID()
	if err != nil {
		return nil, fmt.Errorf("generate test id: %w", err)
	}

	h.ownerMu.Lock()
	defer h.ownerMu.Unlock()

	domains := make([]string, 0, n)
	local := make(map[string]struct{}, n)
	for len(domains) < n {
		domain, err := h.uniqueDomain(base, local)
		if err != nil {
			return nil, err
		}
		local[domain] = struct{}{}
		domains = append(domains, domain)
	}
	for _, d := range domains {
		h.owners[d] = id
	}

	h.tests.Set(id, newTest(id, domains), cache.DefaultExpiration)
	gologger.Debug().Msgf("创建 DNS 泄露测试 %s: %v", id, domains)
	return &Created{TestID: id, Domains: domains}, nil
}

// uniqueDomain 需持有 ownerMu
func (h *Harness) uniqueDomain(base string, local map[string]struct{}) (string, error) {
	for i := 0; i < labelAttempts; i++ {
		label, err := randomLabel()
		if err != nil {
			return "", fmt.Errorf("generate label: %w", err)
		}
		domain := label + "." + base
		if _, taken := h.owners[domain]; taken {
			continue
		}
		if _, taken := local[domain]; taken {
			continue
		}
		return domain, nil
	}
	return "", fmt.Errorf("no unique label under %s after %d attempts", base, labelAttempts)
}

// Check 启动应答服务并轮询，直到所有域名都被查询、wait 到期或 ctx 结束。
// 测试在返回前被删除，同一 ID 再次检查返回 ErrNotFound。
func (h *Harness) Check(ctx context.Context, testID string, wait time.Duration) (*Result, error) {
	v, found := h.tests.Get(testID)
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, testID)
	}
	t := v.(*Test)
	if !t.claim() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, testID)
	}
	// 检查期间不参与过期清理
	h.tests.Set(testID, t, cache.NoExpiration)
	defer h.tests.Delete(testID)

	if err := h.acquire(); err != nil {
		t.finalize()
		gologger.Error().Msgf("无法启动临时 DNS 服务: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrServerStart, err)
	}
	defer h.release()

	h.poll(ctx, t, wait)
	res := t.finalize()
	gologger.Debug().Msgf("DNS 泄露测试 %s 完成: seen=%d missing=%d", testID, len(res.Seen), len(res.Missing))
	return res, nil
}

func (h *Harness) poll(ctx context.Context, t *Test, wait time.Duration) {
	if wait < 0 {
		wait = 0
	}
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	ticker := time.NewTicker(h.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if t.complete() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case <-ticker.C:
		}
	}
}

// Start 常驻应答服务，直到 Close
func (h *Harness) Start() error {
	h.respMu.Lock()
	pinned := h.pinned
	h.respMu.Unlock()
	if pinned {
		return nil
	}
	if err := h.acquire(); err != nil {
		return fmt.Errorf("%w: %v", ErrServerStart, err)
	}
	h.respMu.Lock()
	h.pinned = true
	h.respMu.Unlock()
	return nil
}

func (h *Harness) Close() {
	h.respMu.Lock()
	pinned := h.pinned
	h.pinned = false
	h.respMu.Unlock()
	if pinned {
		h.release()
	}
}

// Addr 应答服务实际监听地址，未运行为空
func (h *Harness) Addr() string {
	return h.responder.Addr()
}

// Pending 尚未完成的测试数量
func (h *Harness) Pending() int {
	return h.tests.ItemCount()
}

func (h *Harness) acquire() error {
	h.respMu.Lock()
	defer h.respMu.Unlock()
	if h.refs == 0 {
		if err := h.responder.Start(); err != nil {
			return err
		}
	}
	h.refs++
	return nil
}

func (h *Harness) release() {
	h.respMu.Lock()
	defer h.respMu.Unlock()
	h.refs--
	if h.refs > 0 {
		return
	}
	h.refs = 0
	if err := h.responder.Stop(); err != nil {
		gologger.Warning().Msgf("关闭临时 DNS 服务出错: %v", err)
	}
}

// observe 由应答服务回调，只记录属于某个测试的域名
func (h *Harness) observe(name string) {
	h.ownerMu.RLock()
	id, ok := h.owners[name]
	h.ownerMu.RUnlock()
	if !ok {
		return
	}
	v, found := h.tests.Get(id)
	if !found {
		return
	}
	if v.(*Test).observe(name) {
		gologger.Debug().Msgf("测试 %s 收到查询: %s", id, name)
	}
}

func (h *Harness) evicted(id string, v interface{}) {
	t, ok := v.(*Test)
	if !ok {
		return
	}
	// 正在检查的测试由 Check 自己收尾
	if t.state.Load() == stateActive {
		return
	}
	if t.expire() {
		gologger.Debug().Msgf("DNS 泄露测试 %s 未检查已过期", id)
	}

	h.ownerMu.Lock()
	defer h.ownerMu.Unlock()
	for _, d := range t.domains {
		if h.owners[d] == id {
			delete(h.owners, d)
		}
	}
}
