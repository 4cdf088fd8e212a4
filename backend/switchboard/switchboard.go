package switchboard

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/twinlens/twinlens/backend/capture"
	"github.com/twinlens/twinlens/backend/model"
	"github.com/twinlens/twinlens/backend/registry"
	"github.com/twinlens/twinlens/backend/timesync"
)

// PeerLister is the registry surface the switchboard needs: a membership
// snapshot taken at dispatch time.
type PeerLister interface {
	Peers(roomID string) []*registry.PeerConnection
}

// Switchboard classifies inbound frames and moves them on: negotiation
// payloads go to the other peer verbatim, capture requests fan out to both
// peers, clock-sync and keepalive pings are answered locally. It holds no
// state of its own; peer membership always comes fresh from the registry.
type Switchboard struct {
	logger zerolog.Logger
	rooms  PeerLister
	coord  *capture.Coordinator
	clock  *timesync.Responder
}

type Config struct {
	Logger *zerolog.Logger
	Rooms  PeerLister
}

func New(cfg Config) *Switchboard {
	return &Switchboard{
		logger: cfg.Logger.With().Str("component", "switchboard").Logger(),
		rooms:  cfg.Rooms,
		coord:  capture.NewCoordinator(),
		clock:  timesync.NewResponder(),
	}
}

// Dispatch routes one frame from sender. It is called synchronously from
// the session's forward loop, which preserves the sender's frame order.
func (sb *Switchboard) Dispatch(ctx context.Context, roomID string, sender *registry.PeerConnection, in model.Inbound) {
	logger := sb.logger.With().
		Str("roomID", roomID).
		Str("peerID", sender.ID).
		Str("type", in.Type).Logger()

	switch in.Type {
	case model.TypeOffer, model.TypeAnswer, model.TypeICECandidate, model.TypeStitchReady:
		sb.relay(ctx, roomID, sender, in, &logger)

	case model.TypeCaptureRequest:
		sess := sb.coord.NewSession()
		frame := model.Frame{
			Type:      model.TypeFireAt,
			FireAtMs:  sess.FireAt.UnixMilli(),
			SessionID: sess.ID,
		}
		sb.broadcast(ctx, roomID, frame.Encode(), &logger)
		logger.Debug().
			Str("sessionID", sess.ID).
			Int64("fireAtMs", frame.FireAtMs).
			Msg("capture scheduled")

	case model.TypeNTPPing:
		if !sender.Wire.Deliver(ctx, sb.clock.Pong(in.ClientSendTime, in.ReceivedAt).Encode()) {
			logger.Error().Msg("dead endpoint")
		}

	case model.TypePing:
		if !sender.Wire.Deliver(ctx, model.Frame{Type: model.TypePong}.Encode()) {
			logger.Error().Msg("dead endpoint")
		}

	default:
		// Unrecognized types are dropped without a reply.
		logger.Debug().Msg("unknown frame type dropped")
	}
}

// relay forwards the raw frame to the other peer only. With no partner
// present this is a silent no-op, not an error to the sender.
func (sb *Switchboard) relay(ctx context.Context, roomID string, sender *registry.PeerConnection, in model.Inbound, logger *zerolog.Logger) {
	var sent bool
	for _, pc := range sb.rooms.Peers(roomID) {
		if pc.ID == sender.ID {
			continue
		}
		if pc.Wire.Deliver(ctx, in.Raw) {
			sent = true
		} else {
			logger.Error().Str("dst", pc.ID).Msg("dead endpoint")
		}
	}
	if !sent {
		logger.Debug().Msg("nowhere to relay, frame dropped")
	}
}

// broadcast delivers b to every peer in the room, sender included.
func (sb *Switchboard) broadcast(ctx context.Context, roomID string, b []byte, logger *zerolog.Logger) {
	peers := sb.rooms.Peers(roomID)
	if len(peers) == 0 {
		logger.Debug().Msg("broadcast did not reach anyone")
		return
	}
	for _, pc := range peers {
		if !pc.Wire.Deliver(ctx, b) {
			logger.Error().Str("dst", pc.ID).Msg("dead endpoint")
		}
	}
}
