package model

import (
	"context"
	"encoding/json"
	"time"
)

// Frame types exchanged over the booth websocket. Client-originated types
// without a server-side handler are relayed verbatim to the partner peer.
const (
	TypeJoined         = "JOINED"
	TypePartnerJoined  = "PARTNER_JOINED"
	TypePartnerLeft    = "PARTNER_LEFT"
	TypeError          = "ERROR"
	TypeOffer          = "OFFER"
	TypeAnswer         = "ANSWER"
	TypeICECandidate   = "ICE_CANDIDATE"
	TypeCaptureRequest = "CAPTURE_REQUEST"
	TypeFireAt         = "FIRE_AT"
	TypeNTPPing        = "NTP_PING"
	TypeNTPPong        = "NTP_PONG"
	TypeStitchReady    = "STITCH_READY"
	TypePing           = "PING"
	TypePong           = "PONG"
)

const defaultDeliverTimeout = time.Second

// Frame is a server-originated message. PeerIndex is a pointer so that
// index 0 survives omitempty; ClientSendTime likewise must echo exactly
// what the peer sent, including zero.
type Frame struct {
	Type           string `json:"type"`
	PeerID         string `json:"peer_id,omitempty"`
	PeerIndex      *int   `json:"peer_index,omitempty"`
	RoomID         string `json:"room_id,omitempty"`
	PeersCount     int    `json:"peers_count,omitempty"`
	Message        string `json:"message,omitempty"`
	FireAtMs       int64  `json:"fire_at_ms,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
	ClientSendTime *int64 `json:"client_send_time,omitempty"`
	ServerRecvTime int64  `json:"server_recv_time,omitempty"`
}

// Encode marshals the frame for the wire. Frames are plain value structs,
// marshalling cannot fail.
func (f Frame) Encode() []byte {
	b, _ := json.Marshal(f)
	return b
}

// Inbound is one decoded client frame. Raw keeps the original bytes so
// relayed payloads reach the partner unmodified.
type Inbound struct {
	Type           string `json:"type"`
	ClientSendTime *int64 `json:"client_send_time,omitempty"`

	Raw        json.RawMessage `json:"-"`
	ReceivedAt time.Time       `json:"-"`
}

// DecodeInbound parses a client frame, retaining the raw bytes and
// stamping the receive time.
func DecodeInbound(raw []byte, recvAt time.Time) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return Inbound{}, err
	}
	in.Raw = append([]byte(nil), raw...)
	in.ReceivedAt = recvAt
	return in, nil
}

// Wire is the channel pair between one websocket session and the signaling
// core. RX carries decoded inbound frames into the core, TX carries encoded
// outbound bytes back to the sender pump. The session owns the websocket;
// the registry only ever holds the Wire.
type Wire struct {
	RX chan Inbound
	TX chan []byte
}

// TX is buffered so join-time announcements can be queued before the
// session's sender pump is running; the buffer preserves delivery order.
func NewWire() Wire {
	return Wire{
		RX: make(chan Inbound),
		TX: make(chan []byte, 16),
	}
}

// Deliver queues b on TX, giving up after a fixed timeout so a dead
// endpoint cannot block the caller. Reports whether the frame was queued.
func (w Wire) Deliver(ctx context.Context, b []byte) bool {
	t := time.NewTimer(defaultDeliverTimeout)
	defer t.Stop()
	select {
	case w.TX <- b:
		return true
	case <-t.C:
		return false
	case <-ctx.Done():
		return false
	}
}
