// Package network implements the controller's asynchronous TCP interface
// to agents (spec.md C2): one connection per agent, a background reader
// per connection feeding a shared event queue, and a bounded per-agent
// send queue so a slow or wedged agent cannot stall the scheduler thread.
//
// Grounded on the DU/CU network-function mains' use of goroutines-per-
// component plus channels, adapted here to a single inbound event queue
// that the task-manager thread polls rather than blocking on, per
// spec.md §5's single-scheduler-thread concurrency model.
package network

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/flexran/rtc/internal/ctlerr"
	"github.com/flexran/rtc/internal/protocol"
)

// Event is one notification the network layer delivers to the RIB
// updater: a new connection, an inbound message, or a disconnection.
type Event interface{ isEvent() }

// ConnectedEvent fires once a TCP accept completes and the connection has
// been assigned an agent ID.
type ConnectedEvent struct{ AgentID int }

func (ConnectedEvent) isEvent() {}

// ReceivedEvent fires once a full control message has been decoded from
// an agent's stream.
type ReceivedEvent struct {
	AgentID int
	Message protocol.Message
}

func (ReceivedEvent) isEvent() {}

// DisconnectedEvent fires when a connection is torn down, whether by
// peer close, read error, or an explicit Disconnect call.
type DisconnectedEvent struct{ AgentID int }

func (DisconnectedEvent) isEvent() {}

// defaultSendQueueDepth bounds how many outbound messages may be queued
// for a single agent before Send reports backpressure rather than
// blocking the calling (scheduler) thread.
const defaultSendQueueDepth = 256

// defaultRecvBufferSize is the initial size of a connection's receive
// accumulator.
const defaultRecvBufferSize = 4096

// conn is the per-agent connection state.
type conn struct {
	agentID int
	nc      net.Conn
	send    chan []byte
	closed  atomic.Bool
	once    sync.Once
}

// Manager owns every agent TCP connection and the single event queue the
// RIB updater drains once per tick.
type Manager struct {
	log *slog.Logger

	events chan Event

	mu          sync.RWMutex
	conns       map[int]*conn
	nextAgentID int

	sendQueueDepth int
}

// Config configures a Manager.
type Config struct {
	SendQueueDepth int
	EventQueueSize int
}

// NewManager constructs a Manager. Zero-valued Config fields take their
// defaults.
func NewManager(cfg Config, log *slog.Logger) *Manager {
	if cfg.SendQueueDepth <= 0 {
		cfg.SendQueueDepth = defaultSendQueueDepth
	}
	if cfg.EventQueueSize <= 0 {
		cfg.EventQueueSize = 4096
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:            log,
		events:         make(chan Event, cfg.EventQueueSize),
		conns:          make(map[int]*conn),
		sendQueueDepth: cfg.SendQueueDepth,
	}
}

// Serve accepts connections on ln until ctx is canceled or the listener
// is closed. Each accepted connection is assigned a new agent ID and
// handed its own reader and writer goroutine.
func (m *Manager) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}
		m.adopt(ctx, nc)
	}
}

func (m *Manager) adopt(ctx context.Context, nc net.Conn) {
	m.mu.Lock()
	m.nextAgentID++
	id := m.nextAgentID
	c := &conn{agentID: id, nc: nc, send: make(chan []byte, m.sendQueueDepth)}
	m.conns[id] = c
	m.mu.Unlock()

	m.log.Info("agent connection accepted", "agent_id", id, "remote", nc.RemoteAddr().String())
	m.emit(ConnectedEvent{AgentID: id})

	go m.writeLoop(c)
	go m.readLoop(ctx, c)
}

func (m *Manager) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
		// The event queue is sized generously; if it is genuinely full the
		// controller is falling behind its agents. Drop the oldest rather
		// than block a reader goroutine indefinitely.
		select {
		case <-m.events:
		default:
		}
		m.events <- ev
	}
}

func (m *Manager) writeLoop(c *conn) {
	for buf := range c.send {
		if c.closed.Load() {
			return
		}
		if _, err := c.nc.Write(buf); err != nil {
			m.teardown(c, err)
			return
		}
	}
}

func (m *Manager) readLoop(ctx context.Context, c *conn) {
	buf := make([]byte, 0, defaultRecvBufferSize)
	tmp := make([]byte, defaultRecvBufferSize)
	for {
		n, err := c.nc.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			for {
				msg, consumed, derr := protocol.Decode(buf)
				if derr == protocol.ErrNeedMore {
					break
				}
				if derr != nil {
					m.log.Error("malformed frame from agent, disconnecting", "agent_id", c.agentID, "error", derr)
					m.teardown(c, derr)
					return
				}
				buf = buf[consumed:]
				m.emit(ReceivedEvent{AgentID: c.agentID, Message: msg})
			}
		}
		if err != nil {
			if err != io.EOF {
				m.log.Warn("agent read error, disconnecting", "agent_id", c.agentID, "error", err)
			}
			m.teardown(c, err)
			return
		}
		if n == 0 {
			m.teardown(c, io.EOF)
			return
		}
		if ctx.Err() != nil {
			m.teardown(c, ctx.Err())
			return
		}
	}
}

func (m *Manager) teardown(c *conn, cause error) {
	c.once.Do(func() {
		c.closed.Store(true)
		close(c.send)
		c.nc.Close()
		m.mu.Lock()
		delete(m.conns, c.agentID)
		m.mu.Unlock()
		m.emit(DisconnectedEvent{AgentID: c.agentID})
	})
}

// Send enqueues msg for delivery to agentID. It never blocks: if the
// agent's send queue is full, it returns a Backpressure error instead of
// waiting, per spec.md's non-blocking send requirement.
func (m *Manager) Send(agentID int, msg protocol.Message) error {
	m.mu.RLock()
	c, ok := m.conns[agentID]
	m.mu.RUnlock()
	if !ok {
		return ctlerr.New(ctlerr.KindNotFound, "network", "no such agent connection", msg.TxnID())
	}
	buf, err := protocol.Encode(msg)
	if err != nil {
		return ctlerr.Wrap(ctlerr.KindParse, "network", "failed to encode message", msg.TxnID(), err)
	}
	select {
	case c.send <- buf:
		return nil
	default:
		return ctlerr.New(ctlerr.KindBackpressure, "network", "agent send queue full", msg.TxnID())
	}
}

// Disconnect tears down agentID's connection, if any, eagerly.
func (m *Manager) Disconnect(agentID int) {
	m.mu.RLock()
	c, ok := m.conns[agentID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	m.teardown(c, errors.New("disconnected by controller"))
}

// Poll returns the next pending event, if any, without blocking. The RIB
// updater calls this in a loop bounded by its run budget.
func (m *Manager) Poll() (Event, bool) {
	select {
	case ev := <-m.events:
		return ev, true
	default:
		return nil, false
	}
}

// ConnectedAgentCount reports how many agent connections are currently
// open, used by health/metrics reporting.
func (m *Manager) ConnectedAgentCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}
