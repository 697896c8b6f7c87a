package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Kind identifies the concrete type of a Message on the wire.
type Kind uint16

const (
	KindHelloRequest Kind = iota + 1
	KindHelloReply
	KindEchoRequest
	KindEchoReply
	KindSFTrigger
	KindEnbConfigRequest
	KindEnbConfigReply
	KindUEConfigRequest
	KindUEConfigReply
	KindLCConfigRequest
	KindLCConfigReply
	KindStatsRequest
	KindStatsReply
	KindUEStateChange
	KindAgentReconfiguration
	KindDLMACConfig
	KindDisconnect
)

func (k Kind) String() string {
	switch k {
	case KindHelloRequest:
		return "HelloRequest"
	case KindHelloReply:
		return "HelloReply"
	case KindEchoRequest:
		return "EchoRequest"
	case KindEchoReply:
		return "EchoReply"
	case KindSFTrigger:
		return "SFTrigger"
	case KindEnbConfigRequest:
		return "EnbConfigRequest"
	case KindEnbConfigReply:
		return "EnbConfigReply"
	case KindUEConfigRequest:
		return "UEConfigRequest"
	case KindUEConfigReply:
		return "UEConfigReply"
	case KindLCConfigRequest:
		return "LCConfigRequest"
	case KindLCConfigReply:
		return "LCConfigReply"
	case KindStatsRequest:
		return "StatsRequest"
	case KindStatsReply:
		return "StatsReply"
	case KindUEStateChange:
		return "UEStateChange"
	case KindAgentReconfiguration:
		return "AgentReconfiguration"
	case KindDLMACConfig:
		return "DLMACConfig"
	case KindDisconnect:
		return "Disconnect"
	default:
		return "Unknown"
	}
}

// Message is any control message exchanged between the controller and an
// agent. Each concrete type is a tagged leaf of the sum type; Kind reports
// which one, TxnID carries the correlation ID used for end-to-end logging.
type Message interface {
	Kind() Kind
	TxnID() string
}

// envelope is the on-wire representation: a kind tag, a correlation ID, and
// the kind-specific body as a JSON object. The body is decoded a second
// time, into the concrete struct, once the tag has told us which one.
type envelope struct {
	Kind  Kind            `json:"kind"`
	Txn   string          `json:"txn"`
	Body  json.RawMessage `json:"body"`
}

// HelloRequest is sent by the controller immediately after accepting a new
// agent connection.
type HelloRequest struct {
	Txn string
}

func (m *HelloRequest) Kind() Kind     { return KindHelloRequest }
func (m *HelloRequest) TxnID() string  { return m.Txn }

// HelloReply is the agent's handshake response, declaring its BS/agent
// identity and capability set.
type HelloReply struct {
	Txn          string
	AgentID      int
	BSID         uint64
	Capabilities CapabilitySet
	Direction    int // protocol handshake direction, mirrors flexran_direction
}

func (m *HelloReply) Kind() Kind    { return KindHelloReply }
func (m *HelloReply) TxnID() string { return m.Txn }

// EchoRequest/EchoReply implement the liveness heartbeat.
type EchoRequest struct {
	Txn string
	Seq uint32
}

func (m *EchoRequest) Kind() Kind    { return KindEchoRequest }
func (m *EchoRequest) TxnID() string { return m.Txn }

type EchoReply struct {
	Txn string
	Seq uint32
}

func (m *EchoReply) Kind() Kind    { return KindEchoReply }
func (m *EchoReply) TxnID() string { return m.Txn }

// SFTrigger announces the start of a subframe on the agent side.
type SFTrigger struct {
	Txn      string
	AgentID  int
	Frame    uint16
	Subframe uint8
}

func (m *SFTrigger) Kind() Kind    { return KindSFTrigger }
func (m *SFTrigger) TxnID() string { return m.Txn }

// EnbConfigRequest asks an agent to report its current eNB configuration.
type EnbConfigRequest struct {
	Txn string
}

func (m *EnbConfigRequest) Kind() Kind    { return KindEnbConfigRequest }
func (m *EnbConfigRequest) TxnID() string { return m.Txn }

// EnbConfigReply is both the agent's unsolicited config report and the
// controller's reconfiguration push, distinguished by the Apply flag.
type EnbConfigReply struct {
	Txn         string
	AgentID     int
	CellConfigs []CellConfig
	Apply       bool
}

func (m *EnbConfigReply) Kind() Kind    { return KindEnbConfigReply }
func (m *EnbConfigReply) TxnID() string { return m.Txn }

// UEConfigRequest asks an agent to report its current per-UE configuration.
type UEConfigRequest struct {
	Txn string
}

func (m *UEConfigRequest) Kind() Kind    { return KindUEConfigRequest }
func (m *UEConfigRequest) TxnID() string { return m.Txn }

// UEConfigReply is both the agent's unsolicited UE config report and the
// controller's per-UE reconfiguration push (slice re-association etc.).
type UEConfigReply struct {
	Txn       string
	AgentID   int
	UEConfigs []UEConfig
	Apply     bool
}

func (m *UEConfigReply) Kind() Kind    { return KindUEConfigReply }
func (m *UEConfigReply) TxnID() string { return m.Txn }

// LCConfigRequest asks an agent to report logical channel configuration.
type LCConfigRequest struct {
	Txn string
}

func (m *LCConfigRequest) Kind() Kind    { return KindLCConfigRequest }
func (m *LCConfigRequest) TxnID() string { return m.Txn }

// LCConfigReply carries an agent's logical channel configuration.
type LCConfigReply struct {
	Txn       string
	AgentID   int
	LCConfigs []LCConfig
}

func (m *LCConfigReply) Kind() Kind    { return KindLCConfigReply }
func (m *LCConfigReply) TxnID() string { return m.Txn }

// StatsRequest subscribes an agent to periodic stats reporting.
type StatsRequest struct {
	Txn     string
	AgentID int
	Config  StatsRequestConfig
}

func (m *StatsRequest) Kind() Kind    { return KindStatsRequest }
func (m *StatsRequest) TxnID() string { return m.Txn }

// StatsReply carries one tick's worth of per-UE and per-cell statistics.
type StatsReply struct {
	Txn       string
	AgentID   int
	UEStats   map[RNTI]UEMACStatsReport
	CellStats []CellStatsReport
}

func (m *StatsReply) Kind() Kind    { return KindStatsReply }
func (m *StatsReply) TxnID() string { return m.Txn }

// UEStateChange reports a UE connecting or disconnecting from a cell.
type UEStateChange struct {
	Txn       string
	AgentID   int
	RNTI      RNTI
	Connected bool
	Config    *UEConfig
}

func (m *UEStateChange) Kind() Kind    { return KindUEStateChange }
func (m *UEStateChange) TxnID() string { return m.Txn }

// AgentReconfiguration is a free-form policy-string push, used by the
// `/yaml/:id?` passthrough endpoint and by higher-level apps that have
// already rendered their own wire format.
type AgentReconfiguration struct {
	Txn     string
	AgentID int
	Policy  string
}

func (m *AgentReconfiguration) Kind() Kind    { return KindAgentReconfiguration }
func (m *AgentReconfiguration) TxnID() string { return m.Txn }

// DLUEData is one UE's scheduled downlink allocation within a DLMACConfig.
type DLUEData struct {
	RNTI       RNTI
	MCS        int
	NbRB       int
	RBBitmap   []bool
	TPC        int
	NDI        bool
	HARQPID    int
	RVIdx      int
	RLCPDUSize int
}

// DLMACConfig is the scheduler's per-subframe downlink scheduling decision.
type DLMACConfig struct {
	Txn      string
	AgentID  int
	SFNSF    uint16
	DLUEData []DLUEData
}

func (m *DLMACConfig) Kind() Kind    { return KindDLMACConfig }
func (m *DLMACConfig) TxnID() string { return m.Txn }

// Disconnect notifies the remote end of an orderly shutdown.
type Disconnect struct {
	Txn    string
	Reason string
}

func (m *Disconnect) Kind() Kind    { return KindDisconnect }
func (m *Disconnect) TxnID() string { return m.Txn }

// NewTxnID mints a correlation ID for a freshly constructed message.
func NewTxnID() string {
	return uuid.NewString()
}

// ErrNeedMore signals that buf does not yet contain a full frame; the caller
// should read more bytes and retry.
var ErrNeedMore = errors.New("protocol: need more data")

// ErrMalformed signals that buf's prefix is not a valid frame and the
// connection should be dropped.
var ErrMalformed = errors.New("protocol: malformed frame")

const lengthPrefixSize = 4

// maxFrameSize bounds a single message to keep a malformed or hostile
// length-prefix from driving an unbounded allocation.
const maxFrameSize = 16 << 20

// Encode serializes msg as a length-prefixed frame: a big-endian uint32
// byte count followed by that many bytes of JSON envelope.
func Encode(msg Message) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode body: %w", err)
	}
	env := envelope{Kind: msg.Kind(), Txn: msg.TxnID(), Body: body}
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode envelope: %w", err)
	}
	if len(payload) > maxFrameSize {
		return nil, fmt.Errorf("protocol: frame of %d bytes exceeds max %d", len(payload), maxFrameSize)
	}
	out := make([]byte, lengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(out, uint32(len(payload)))
	copy(out[lengthPrefixSize:], payload)
	return out, nil
}

// Decode attempts to parse a single frame from the front of buf. On success
// it returns the message and the number of bytes consumed. If buf does not
// yet hold a complete frame it returns ErrNeedMore and consumed == 0. If the
// prefix is well-framed but the payload cannot be parsed into a known
// message it returns ErrMalformed.
func Decode(buf []byte) (msg Message, consumed int, err error) {
	if len(buf) < lengthPrefixSize {
		return nil, 0, ErrNeedMore
	}
	n := binary.BigEndian.Uint32(buf)
	if n > maxFrameSize {
		return nil, 0, fmt.Errorf("%w: declared length %d exceeds max %d", ErrMalformed, n, maxFrameSize)
	}
	total := lengthPrefixSize + int(n)
	if len(buf) < total {
		return nil, 0, ErrNeedMore
	}
	var env envelope
	if err := json.Unmarshal(buf[lengthPrefixSize:total], &env); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	msg, err = decodeBody(env)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return msg, total, nil
}

func decodeBody(env envelope) (Message, error) {
	var m Message
	switch env.Kind {
	case KindHelloRequest:
		m = &HelloRequest{}
	case KindHelloReply:
		m = &HelloReply{}
	case KindEchoRequest:
		m = &EchoRequest{}
	case KindEchoReply:
		m = &EchoReply{}
	case KindSFTrigger:
		m = &SFTrigger{}
	case KindEnbConfigRequest:
		m = &EnbConfigRequest{}
	case KindEnbConfigReply:
		m = &EnbConfigReply{}
	case KindUEConfigRequest:
		m = &UEConfigRequest{}
	case KindUEConfigReply:
		m = &UEConfigReply{}
	case KindLCConfigRequest:
		m = &LCConfigRequest{}
	case KindLCConfigReply:
		m = &LCConfigReply{}
	case KindStatsRequest:
		m = &StatsRequest{}
	case KindStatsReply:
		m = &StatsReply{}
	case KindUEStateChange:
		m = &UEStateChange{}
	case KindAgentReconfiguration:
		m = &AgentReconfiguration{}
	case KindDLMACConfig:
		m = &DLMACConfig{}
	case KindDisconnect:
		m = &Disconnect{}
	default:
		return nil, fmt.Errorf("unknown message kind %d", env.Kind)
	}
	if len(env.Body) > 0 {
		if err := json.Unmarshal(env.Body, m); err != nil {
			return nil, err
		}
	}
	// Txn travels both in the envelope and in the body; the envelope's
	// copy is authoritative and is set on the decoded struct below.
	setTxn(m, env.Txn)
	return m, nil
}

func setTxn(m Message, txn string) {
	switch v := m.(type) {
	case *HelloRequest:
		v.Txn = txn
	case *HelloReply:
		v.Txn = txn
	case *EchoRequest:
		v.Txn = txn
	case *EchoReply:
		v.Txn = txn
	case *SFTrigger:
		v.Txn = txn
	case *EnbConfigRequest:
		v.Txn = txn
	case *EnbConfigReply:
		v.Txn = txn
	case *UEConfigRequest:
		v.Txn = txn
	case *UEConfigReply:
		v.Txn = txn
	case *LCConfigRequest:
		v.Txn = txn
	case *LCConfigReply:
		v.Txn = txn
	case *StatsRequest:
		v.Txn = txn
	case *StatsReply:
		v.Txn = txn
	case *UEStateChange:
		v.Txn = txn
	case *AgentReconfiguration:
		v.Txn = txn
	case *DLMACConfig:
		v.Txn = txn
	case *Disconnect:
		v.Txn = txn
	}
}
