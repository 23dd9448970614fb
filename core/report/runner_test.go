package report

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"dprobe/core/leak"
	"dprobe/core/network"
	"dprobe/core/ping"
	"dprobe/core/tunnel"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct{}

func (fakeResolver) LookupIPv4(ctx context.Context, host string) (net.IP, error) {
	if host == "unresolvable.invalid" {
		return nil, errors.New("no such host")
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip, nil
	}
	return net.ParseIP("192.0.2.10"), nil
}

type fakeScanner struct {
	got network.Target
	err error
}

func (s *fakeScanner) ScanTarget(ctx context.Context, t network.Target) (*network.OpenPortSet, error) {
	s.got = t
	if s.err != nil {
		return nil, s.err
	}
	set := network.NewOpenPortSet()
	set.Add(443, "https")
	set.Add(22, "ssh")
	return set, nil
}

type fakeTunnel struct{ rec *tunnel.Record }

func (f fakeTunnel) Detect(ctx context.Context, ip, iface string, timeout time.Duration, maxPackets int) *tunnel.Record {
	return f.rec
}

type panicPinger struct{}

func (panicPinger) DoublePing(ctx context.Context, host string) *ping.Result {
	panic("icmp exploded")
}

type okPinger struct{}

func (okPinger) DoublePing(ctx context.Context, host string) *ping.Result {
	reason := ping.ReasonOK
	return &ping.Result{Reason: &reason}
}

type fakeLeak struct {
	mu        sync.Mutex
	triggered []string
	checkErr  error
}

func (f *fakeLeak) Create(n int, base string) (*leak.Created, error) {
	return &leak.Created{TestID: "t1", Domains: []string{"aaaaaaaa." + base}}, nil
}

func (f *fakeLeak) Check(ctx context.Context, id string, wait time.Duration) (*leak.Result, error) {
	if f.checkErr != nil {
		return nil, f.checkErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return &leak.Result{TestID: id, Expected: []string{"aaaaaaaa.example.com"}, Seen: f.triggered}, nil
}

func TestRun_AllProbes(t *testing.T) {
	scanner := &fakeScanner{}
	lk := &fakeLeak{}
	r := &Runner{
		Options: Options{
			Probes:  AllProbes,
			MaxPort: 1000, Concurrency: 100, Passes: 2,
			LeakDomains: 1, LeakBase: "example.com",
		},
		Resolver: fakeResolver{},
		Scanner:  scanner,
		Tunnel:   fakeTunnel{rec: &tunnel.Record{Type: tunnel.TypeGRE, SrcIP: "192.0.2.10", DstIP: "198.51.100.1"}},
		Pinger:   okPinger{},
		Leak:     lk,
		Trigger: func(ctx context.Context, domains []string) {
			lk.mu.Lock()
			lk.triggered = append(lk.triggered, domains...)
			lk.mu.Unlock()
		},
	}

	rep := r.Run(context.Background(), "host.example")
	assert.Equal(t, "192.0.2.10", rep.IP)
	assert.Equal(t, []string{"22:ssh", "443:https"}, rep.Ports)
	assert.Equal(t, network.Target{IP: "192.0.2.10", MaxPort: 1000, Concurrency: 100, Passes: 2}, scanner.got)
	require.NotNil(t, rep.Tunnel)
	assert.Equal(t, tunnel.TypeGRE, rep.Tunnel.Type)
	require.NotNil(t, rep.Ping)
	require.NotNil(t, rep.Leak)
	assert.Equal(t, []string{"aaaaaaaa.example.com"}, rep.Leak.Seen)
	assert.False(t, rep.HasErrors())
}

func TestRun_FailuresAreCollected(t *testing.T) {
	r := &Runner{
		Options:  Options{Probes: []string{ProbeScan, ProbePing, ProbeLeak, ProbeTunnel}, LeakDomains: 1, LeakBase: "example.com"},
		Resolver: fakeResolver{},
		Scanner:  &fakeScanner{err: network.ErrInvalidAddress},
		Tunnel:   fakeTunnel{},
		Pinger:   panicPinger{},
		Leak:     &fakeLeak{checkErr: leak.ErrServerStart},
	}

	rep := r.Run(context.Background(), "192.0.2.20")
	require.Len(t, rep.Errors, 3)
	assert.True(t, strings.HasPrefix(rep.Errors[0], "leak: "))
	assert.True(t, strings.HasPrefix(rep.Errors[1], "ping: panic"))
	assert.True(t, strings.HasPrefix(rep.Errors[2], "scan: "))
	// 隧道无结论不是错误
	assert.Nil(t, rep.Tunnel)
	assert.Nil(t, rep.Ports)
}

func TestRun_ResolveFailure(t *testing.T) {
	scanner := &fakeScanner{}
	r := &Runner{Options: Options{Probes: AllProbes}, Resolver: fakeResolver{}, Scanner: scanner}

	rep := r.Run(context.Background(), "unresolvable.invalid")
	assert.Empty(t, rep.IP)
	require.Len(t, rep.Errors, 1)
	assert.Contains(t, rep.Errors[0], "unresolvable.invalid")
	assert.Empty(t, scanner.got.IP)
}

func TestRun_UnknownProbeAndMissingComponent(t *testing.T) {
	r := &Runner{Options: Options{Probes: []string{"bogus", ProbePing}}, Resolver: fakeResolver{}}
	rep := r.Run(context.Background(), "192.0.2.1")
	assert.Equal(t, []string{"ping: no pinger configured", `unknown probe "bogus"`}, rep.Errors)
}

func TestPlainAndColorize(t *testing.T) {
	reason := ping.ReasonDifferentTTL
	rep := &Report{
		Target: "host.example",
		IP:     "192.0.2.10",
		Ports:  []string{"22:ssh"},
		Ping:   &ping.Result{AnomalySuspected: true, Reason: &reason},
		Leak:   &leak.Result{Expected: []string{"a.example.com"}, Missing: []string{"a.example.com"}, LeakDetected: true},
	}
	plain := Plain(rep)
	assert.Equal(t, "[+] host.example (192.0.2.10) | ports: 22:ssh | ping: Different TTL | leak: seen 0/1 missing a.example.com | 0s", plain)
	assert.Contains(t, Colorize(rep), "Different TTL")
}

func TestWriter_AppendsLines(t *testing.T) {
	out := filepath.Join(t.TempDir(), "result.txt")
	w := &Writer{OutputFile: out}
	w.Write(&Report{Target: "192.0.2.1", IP: "192.0.2.1"})
	w.Write(&Report{Target: "192.0.2.2", IP: "192.0.2.2"})

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "[+] 192.0.2.1 | 0s\n[+] 192.0.2.2 | 0s\n", string(data))

	jw := &Writer{OutputFile: filepath.Join(t.TempDir(), "result.json"), JSON: true}
	jw.Write(&Report{Target: "192.0.2.3", Ports: []string{"80:http"}})
	data, err = os.ReadFile(jw.OutputFile)
	require.NoError(t, err)
	assert.JSONEq(t, `{"target":"192.0.2.3","ports":["80:http"],"elapsed":0}`, strings.TrimSpace(string(data)))
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, []*Report{{Target: "192.0.2.1", Tunnel: &tunnel.Record{Type: tunnel.TypeIPsec, SrcIP: "192.0.2.1", DstIP: "192.0.2.2", InnerSrc: tunnel.Opaque, InnerDst: tunnel.Opaque}}}))
	assert.JSONEq(t, `[{"target":"192.0.2.1","tunnel":{"type":"IPsec","src_ip":"192.0.2.1","dst_ip":"192.0.2.2","inner_src":"opaque","inner_dst":"opaque"},"elapsed":0}]`, buf.String())
}
