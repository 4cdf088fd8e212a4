package timesync

import (
	"time"

	"github.com/twinlens/twinlens/backend/model"
)

// Responder answers clock-sync pings. It is stateless: every pong carries
// the ping's own client_send_time back together with the server receive
// time in milliseconds.
//
// This is a two-timestamp exchange, not a full four-timestamp NTP round
// trip: there is no server_send_time, so the peer folds server processing
// time into its RTT estimate. Known accuracy limitation, kept on purpose
// to match the client protocol.
type Responder struct{}

func NewResponder() *Responder {
	return &Responder{}
}

// Pong builds the reply for one NTP_PING. recvAt is the instant the frame
// was read off the socket, which keeps server_recv_time monotonic across
// successive pings on a connection.
func (r *Responder) Pong(clientSendTime *int64, recvAt time.Time) model.Frame {
	return model.Frame{
		Type:           model.TypeNTPPong,
		ClientSendTime: clientSendTime,
		ServerRecvTime: recvAt.UnixMilli(),
	}
}
