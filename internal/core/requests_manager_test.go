package core

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flexran/rtc/internal/network"
	"github.com/flexran/rtc/internal/protocol"
	"github.com/flexran/rtc/internal/rib"
)

func newConnectedRequestsManager(t *testing.T) (*RequestsManager, *rib.Rib, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	nm := network.NewManager(network.Config{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go nm.Serve(ctx, ln)

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	// drain the ConnectedEvent so agent ID 1 is registered before use.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := nm.Poll(); ok {
			break
		}
		time.Sleep(time.Millisecond)
	}

	r := rib.New(0)
	r.AttachAgent(1, 42, protocol.NewCapabilitySet(protocol.CapHiMAC))

	t.Cleanup(func() {
		cancel()
		client.Close()
	})
	return NewRequestsManager(r, nm), r, client
}

func TestSendToAgentDeliversDirectly(t *testing.T) {
	reqm, _, client := newConnectedRequestsManager(t)
	require.NoError(t, reqm.SendToAgent(1, &protocol.EchoRequest{Txn: "t"}))

	client.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 4096)
	n, err := client.Read(buf)
	require.NoError(t, err)
	msg, _, err := protocol.Decode(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, protocol.KindEchoRequest, msg.Kind())
}

func TestSendToBSResolvesAnyAgent(t *testing.T) {
	reqm, _, client := newConnectedRequestsManager(t)
	require.NoError(t, reqm.SendToBS(42, &protocol.EchoRequest{Txn: "t"}))

	client.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 4096)
	_, err := client.Read(buf)
	require.NoError(t, err)
}

func TestSendToBSUnknownBSIsNotFound(t *testing.T) {
	reqm, _, _ := newConnectedRequestsManager(t)
	err := reqm.SendToBS(999, &protocol.EchoRequest{Txn: "t"})
	assert.Error(t, err)
}

func TestSendToCapableAgentRoutesByCapability(t *testing.T) {
	reqm, _, client := newConnectedRequestsManager(t)
	require.NoError(t, reqm.SendToCapableAgent(42, protocol.CapHiMAC, &protocol.EchoRequest{Txn: "t"}))

	client.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 4096)
	_, err := client.Read(buf)
	require.NoError(t, err)
}

func TestSendToCapableAgentNoCapableAgentIsNotFound(t *testing.T) {
	reqm, _, _ := newConnectedRequestsManager(t)
	err := reqm.SendToCapableAgent(42, protocol.CapRRC, &protocol.EchoRequest{Txn: "t"})
	assert.Error(t, err)
}

func TestSendToCapableAgentUnknownBSIsNotFound(t *testing.T) {
	reqm, _, _ := newConnectedRequestsManager(t)
	err := reqm.SendToCapableAgent(999, protocol.CapRRC, &protocol.EchoRequest{Txn: "t"})
	assert.Error(t, err)
}
