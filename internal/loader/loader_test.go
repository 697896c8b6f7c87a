package loader

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flexran/rtc/internal/core"
	"github.com/flexran/rtc/internal/network"
	"github.com/flexran/rtc/internal/protocol"
	"github.com/flexran/rtc/internal/rib"
)

func testConfig() Config {
	return Config{InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, MaxElapsedTime: time.Second}
}

func TestFetchSucceedsOnFirstTry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	l := New(testConfig(), nil, nil)
	body, err := l.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(body))
}

func TestFetchRetriesOnServerError(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("eventually"))
	}))
	defer srv.Close()

	l := New(testConfig(), nil, nil)
	body, err := l.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "eventually", string(body))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&attempts), int32(3))
}

func TestFetchDoesNotRetryOnClientError(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	l := New(testConfig(), nil, nil)
	_, err := l.Fetch(context.Background(), srv.URL)
	assert.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestFetchGivesUpAfterMaxElapsedTime(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := Config{InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, MaxElapsedTime: 20 * time.Millisecond}
	l := New(cfg, nil, nil)
	_, err := l.Fetch(context.Background(), srv.URL)
	assert.Error(t, err)
}

func TestFetchRejectsMalformedURL(t *testing.T) {
	l := New(testConfig(), nil, nil)
	_, err := l.Fetch(context.Background(), "://not-a-url")
	assert.Error(t, err)
}

func newLoopbackRequestsManager(t *testing.T, bsID uint64) (*core.RequestsManager, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	nm := network.NewManager(network.Config{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go nm.Serve(ctx, ln)

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := nm.Poll(); ok {
			break
		}
		time.Sleep(time.Millisecond)
	}

	r := rib.New(0)
	r.AttachAgent(1, bsID, protocol.NewCapabilitySet(protocol.CapHiMAC))

	t.Cleanup(func() {
		cancel()
		client.Close()
	})
	return core.NewRequestsManager(r, nm), client
}

func TestPushToBSDeliversReconfiguration(t *testing.T) {
	reqm, client := newLoopbackRequestsManager(t, 42)
	l := New(testConfig(), reqm, nil)

	require.NoError(t, l.PushToBS(42, "image.bin", "agent-image", []byte("hello")))

	client.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 4096)
	n, err := client.Read(buf)
	require.NoError(t, err)
	msg, _, err := protocol.Decode(buf[:n])
	require.NoError(t, err)
	reconf, ok := msg.(*protocol.AgentReconfiguration)
	require.True(t, ok)
	assert.Contains(t, reconf.Policy, "agent-image")
	assert.Contains(t, reconf.Policy, "image.bin")
	assert.Contains(t, reconf.Policy, "5_bytes")
}

func TestPushToBSUnknownBSReturnsError(t *testing.T) {
	reqm, _ := newLoopbackRequestsManager(t, 42)
	l := New(testConfig(), reqm, nil)
	err := l.PushToBS(999, "image.bin", "agent-image", []byte("x"))
	assert.Error(t, err)
}
