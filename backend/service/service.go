package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/twinlens/twinlens/backend/model"
	"github.com/twinlens/twinlens/backend/registry"
)

var (
	ErrJoin = errors.New("unable to join room")
)

type (
	// Rooms is the registry surface the service uses.
	Rooms interface {
		Join(roomID string, wire model.Wire, announce func(pc *registry.PeerConnection, peersCount int)) (*registry.PeerConnection, int, error)
		Leave(roomID, peerID string) []*registry.PeerConnection
		Peers(roomID string) []*registry.PeerConnection
	}

	// Router consumes each inbound frame of a session in arrival order.
	Router interface {
		Dispatch(ctx context.Context, roomID string, sender *registry.PeerConnection, in model.Inbound)
	}

	// Service ties one peer's lifetime together: join, the announcements
	// around pairing, the frame forward loop, and teardown.
	Service struct {
		rooms  Rooms
		router Router
		logger zerolog.Logger
	}

	Config struct {
		Rooms  Rooms
		Router Router
		Logger *zerolog.Logger
	}
)

func NewService(cfg Config) *Service {
	return &Service{
		rooms:  cfg.Rooms,
		router: cfg.Router,
		logger: cfg.Logger.With().Str("component", "signaling").Logger(),
	}
}

// CreateSignalingSession joins the peer into the room and starts the frame
// forward loop on its wire. On a full room it returns registry.ErrRoomFull
// wrapped in ErrJoin and touches nothing.
//
// Announcement order matters: the joiner's JOINED is queued on its TX
// inside the registry's join, under the same lock that mutates membership.
// Any PARTNER_JOINED comes from a strictly later join of the same room, so
// each peer always has its JOINED on the wire first.
func (svc *Service) CreateSignalingSession(ctx context.Context, roomID string, wire model.Wire) (*registry.PeerConnection, error) {
	pc, count, err := svc.rooms.Join(roomID, wire, func(pc *registry.PeerConnection, peersCount int) {
		idx := pc.Index
		joined := model.Frame{
			Type:       model.TypeJoined,
			PeerID:     pc.ID,
			PeerIndex:  &idx,
			RoomID:     roomID,
			PeersCount: peersCount,
		}
		// Runs under the registry lock: queue without blocking. The TX
		// buffer is fresh at join time, a full one means a dead endpoint.
		select {
		case wire.TX <- joined.Encode():
		default:
			svc.logger.Error().
				Str("roomID", roomID).
				Str("peerID", pc.ID).
				Msg("failed to queue JOINED")
		}
	})
	if err != nil {
		return nil, errors.Join(ErrJoin, err)
	}

	logger := svc.logger.With().
		Str("roomID", roomID).
		Str("peerID", pc.ID).Logger()

	if count == 2 {
		partner := model.Frame{
			Type:       model.TypePartnerJoined,
			PeersCount: count,
		}.Encode()
		for _, peer := range svc.rooms.Peers(roomID) {
			if !peer.Wire.Deliver(ctx, partner) {
				logger.Error().Str("dst", peer.ID).Msg("failed to deliver PARTNER_JOINED")
			}
		}
	}
	logger.Debug().Int("peers", count).Msg("peer joined room")

	go svc.forwardFrames(ctx, roomID, pc, wire.RX)
	return pc, nil
}

// DeleteSignalingSession removes the peer from its room and tells the
// remaining peer, if any. Safe to call exactly once per session; the
// registry deletes the room itself when it drains to zero.
func (svc *Service) DeleteSignalingSession(ctx context.Context, roomID, peerID string) {
	remaining := svc.rooms.Leave(roomID, peerID)
	left := model.Frame{Type: model.TypePartnerLeft}.Encode()
	for _, peer := range remaining {
		if !peer.Wire.Deliver(ctx, left) {
			svc.logger.Error().
				Str("roomID", roomID).
				Str("dst", peer.ID).
				Msg("failed to deliver PARTNER_LEFT")
		}
	}
	svc.logger.Debug().
		Str("roomID", roomID).
		Str("peerID", peerID).
		Msg("peer left room")
}

func (svc *Service) forwardFrames(ctx context.Context, roomID string, pc *registry.PeerConnection, rx <-chan model.Inbound) {
	for {
		select {
		case <-ctx.Done():
			return
		case in, ok := <-rx:
			if !ok {
				return
			}
			svc.router.Dispatch(ctx, roomID, pc, in)
		}
	}
}
