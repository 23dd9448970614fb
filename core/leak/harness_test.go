package leak

import (
	"context"
	"net"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	domainRe = regexp.MustCompile(`^[0-9a-f]{8}\.example\.com$`)
	uuidRe   = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
)

func newTestHarness() *Harness {
	return NewHarness(Config{ListenAddr: "127.0.0.1:0", PollInterval: 10 * time.Millisecond})
}

func resolve(t *testing.T, addr, name string) {
	t.Helper()
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeA)
	_, _, err := new(dns.Client).Exchange(m, addr)
	require.NoError(t, err)
}

func waitAddr(t *testing.T, h *Harness) string {
	t.Helper()
	require.Eventually(t, func() bool { return h.Addr() != "" }, 2*time.Second, 5*time.Millisecond)
	return h.Addr()
}

func TestCreate_UniqueDomainsAndID(t *testing.T) {
	h := newTestHarness()
	a, err := h.Create(3, "example.com")
	require.NoError(t, err)
	b, err := h.Create(3, "Example.COM.")
	require.NoError(t, err)

	assert.Regexp(t, uuidRe, a.TestID)
	assert.NotEqual(t, a.TestID, b.TestID)
	require.Len(t, a.Domains, 3)

	seen := map[string]bool{}
	for _, d := range append(a.Domains, b.Domains...) {
		assert.Regexp(t, domainRe, d)
		assert.False(t, seen[d], "duplicate domain %s", d)
		seen[d] = true
	}
	assert.Equal(t, 2, h.Pending())
}

func TestCreate_InvalidArgument(t *testing.T) {
	h := newTestHarness()
	_, err := h.Create(0, "example.com")
	require.ErrorIs(t, err, ErrInvalidArgument)
	_, err = h.Create(2, " . ")
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCheck_NothingResolved(t *testing.T) {
	h := newTestHarness()
	created, err := h.Create(3, "example.com")
	require.NoError(t, err)

	res, err := h.Check(context.Background(), created.TestID, 0)
	require.NoError(t, err)
	assert.True(t, res.LeakDetected)
	assert.Empty(t, res.Seen)
	assert.ElementsMatch(t, created.Domains, res.Missing)
	assert.ElementsMatch(t, created.Domains, res.Expected)
	assert.Empty(t, h.Addr())

	_, err = h.Check(context.Background(), created.TestID, 0)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCheck_UnknownID(t *testing.T) {
	_, err := newTestHarness().Check(context.Background(), "missing", 0)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCheck_AllResolvedBeforeWait(t *testing.T) {
	h := newTestHarness()
	created, err := h.Create(3, "example.com")
	require.NoError(t, err)

	type out struct {
		res *Result
		err error
	}
	done := make(chan out, 1)
	start := time.Now()
	go func() {
		res, err := h.Check(context.Background(), created.TestID, 5*time.Second)
		done <- out{res, err}
	}()

	addr := waitAddr(t, h)
	resolve(t, addr, "unrelated.example.org")
	resolve(t, addr, strings.ToUpper(created.Domains[0]))
	resolve(t, addr, created.Domains[1])
	resolve(t, addr, created.Domains[2]+".")

	got := <-done
	require.NoError(t, got.err)
	assert.False(t, got.res.LeakDetected)
	assert.Empty(t, got.res.Missing)
	assert.ElementsMatch(t, created.Domains, got.res.Seen)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Empty(t, h.Addr())
}

func TestCheck_ConcurrentTestsShareResponder(t *testing.T) {
	h := newTestHarness()
	a, err := h.Create(2, "example.com")
	require.NoError(t, err)
	b, err := h.Create(3, "example.com")
	require.NoError(t, err)

	var wg sync.WaitGroup
	var resA, resB *Result
	var errA, errB error
	wg.Add(2)
	go func() {
		defer wg.Done()
		resA, errA = h.Check(context.Background(), a.TestID, 3*time.Second)
	}()
	go func() {
		defer wg.Done()
		resB, errB = h.Check(context.Background(), b.TestID, 500*time.Millisecond)
	}()

	addr := waitAddr(t, h)
	for _, d := range a.Domains {
		resolve(t, addr, d)
	}
	resolve(t, addr, b.Domains[0])
	wg.Wait()

	require.NoError(t, errA)
	require.NoError(t, errB)
	assert.False(t, resA.LeakDetected)
	assert.ElementsMatch(t, a.Domains, resA.Seen)
	assert.True(t, resB.LeakDetected)
	assert.Equal(t, []string{b.Domains[0]}, resB.Seen)
	assert.Len(t, resB.Missing, 2)
	assert.Empty(t, h.Addr())
	assert.Equal(t, 0, h.Pending())
}

func TestCheck_ServerStartError(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	h := NewHarness(Config{ListenAddr: pc.LocalAddr().String()})
	created, err := h.Create(1, "example.com")
	require.NoError(t, err)

	res, err := h.Check(context.Background(), created.TestID, time.Second)
	require.ErrorIs(t, err, ErrServerStart)
	assert.Nil(t, res)

	_, err = h.Check(context.Background(), created.TestID, 0)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCheck_ContextCancelled(t *testing.T) {
	h := newTestHarness()
	created, err := h.Create(2, "example.com")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res, err := h.Check(ctx, created.TestID, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.LeakDetected)
	assert.Empty(t, h.Addr())
}

func TestExpiry_SweepsUncheckedTests(t *testing.T) {
	h := NewHarness(Config{ListenAddr: "127.0.0.1:0", TestTTL: 30 * time.Millisecond, CleanupInterval: 10 * time.Millisecond})
	created, err := h.Create(2, "example.com")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.Pending() == 0 }, 2*time.Second, 10*time.Millisecond)
	_, err = h.Check(context.Background(), created.TestID, 0)
	require.ErrorIs(t, err, ErrNotFound)

	h.ownerMu.RLock()
	defer h.ownerMu.RUnlock()
	assert.Empty(t, h.owners)
}

func TestStart_PinsResponder(t *testing.T) {
	h := newTestHarness()
	require.NoError(t, h.Start())
	require.NoError(t, h.Start())
	addr := h.Addr()
	require.NotEmpty(t, addr)

	created, err := h.Create(1, "example.com")
	require.NoError(t, err)
	resolve(t, addr, created.Domains[0])

	res, err := h.Check(context.Background(), created.TestID, time.Second)
	require.NoError(t, err)
	assert.False(t, res.LeakDetected)
	assert.Equal(t, addr, h.Addr())

	h.Close()
	assert.Empty(t, h.Addr())
}
