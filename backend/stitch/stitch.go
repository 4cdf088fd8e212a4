package stitch

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	StateProcessing = "processing"
	StateDone       = "done"
	StateError      = "error"
	StateNotFound   = "not_found"

	defaultDownloadTimeout = 15 * time.Second
	maxImageBytes          = 20 << 20
)

var ErrBadRequest = errors.New("invalid stitch request")

// Request asks for the two captured frames to be composed into one image.
// SessionID is the capture session minted by the signaling core.
type Request struct {
	SessionID  string `json:"session_id"`
	URLA       string `json:"url_a"`
	URLB       string `json:"url_b"`
	Layout     string `json:"layout"`
	FilterName string `json:"filter_name"`
}

// Status is the job state polled by clients.
type Status struct {
	Status string `json:"status"`
	URL    string `json:"url,omitempty"`
	Error  string `json:"error,omitempty"`
}

// MediaStore persists a composed JPEG and returns its public URL.
type MediaStore interface {
	Save(ctx context.Context, sessionID string, jpegData []byte) (string, error)
}

// Service runs stitch jobs asynchronously, keyed by session id. Failures
// stay in the job table as error states; nothing here ever reaches the
// signaling path.
type Service struct {
	logger zerolog.Logger
	store  MediaStore
	client *http.Client

	mx   sync.Mutex
	jobs map[string]Status
}

type Config struct {
	Logger *zerolog.Logger
	Store  MediaStore
}

func NewService(cfg Config) *Service {
	return &Service{
		logger: cfg.Logger.With().Str("component", "stitch").Logger(),
		store:  cfg.Store,
		client: &http.Client{Timeout: defaultDownloadTimeout},
		jobs:   make(map[string]Status),
	}
}

// Submit registers the job as processing and starts it in the background.
func (s *Service) Submit(req Request) error {
	if req.SessionID == "" || req.URLA == "" || req.URLB == "" {
		return ErrBadRequest
	}
	if req.Layout == "" {
		req.Layout = LayoutHorizontal
	}
	if req.FilterName == "" {
		req.FilterName = FilterPolaroid
	}

	s.setStatus(req.SessionID, Status{Status: StateProcessing})
	go s.process(req)
	return nil
}

// Lookup reports the job state; unknown sessions read as not_found.
func (s *Service) Lookup(sessionID string) Status {
	s.mx.Lock()
	defer s.mx.Unlock()
	st, ok := s.jobs[sessionID]
	if !ok {
		return Status{Status: StateNotFound}
	}
	return st
}

func (s *Service) process(req Request) {
	logger := s.logger.With().Str("sessionID", req.SessionID).Logger()

	imgA, err := s.download(req.URLA)
	if err != nil {
		logger.Error().Err(err).Str("url", req.URLA).Msg("failed to download frame")
		s.setStatus(req.SessionID, Status{Status: StateError, Error: "Could not load images"})
		return
	}
	imgB, err := s.download(req.URLB)
	if err != nil {
		logger.Error().Err(err).Str("url", req.URLB).Msg("failed to download frame")
		s.setStatus(req.SessionID, Status{Status: StateError, Error: "Could not load images"})
		return
	}

	jpegData, err := Compose(imgA, imgB, req.Layout, req.FilterName)
	if err != nil {
		logger.Error().Err(err).Msg("failed to compose image")
		s.setStatus(req.SessionID, Status{Status: StateError, Error: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultDownloadTimeout)
	defer cancel()
	url, err := s.store.Save(ctx, req.SessionID, jpegData)
	if err != nil {
		logger.Error().Err(err).Msg("failed to store composed image")
		s.setStatus(req.SessionID, Status{Status: StateError, Error: err.Error()})
		return
	}

	s.setStatus(req.SessionID, Status{Status: StateDone, URL: url})
	logger.Info().Str("url", url).Msg("stitched image ready")
}

func (s *Service) download(url string) (image.Image, error) {
	resp, err := s.client.Get(url)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	img, _, err := image.Decode(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, err
	}
	return img, nil
}

func (s *Service) setStatus(sessionID string, st Status) {
	s.mx.Lock()
	s.jobs[sessionID] = st
	s.mx.Unlock()
}
