package stitch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

var ErrBadSessionID = errors.New("invalid session id")

// FSStore keeps composed images on the local filesystem; the API server
// exposes the directory under /media/.
type FSStore struct {
	dir     string
	baseURL string
}

// NewFSStore creates the media directory if needed. baseURL is the public
// prefix composed image URLs are built from.
func NewFSStore(dir, baseURL string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FSStore{
		dir:     dir,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

func (fs *FSStore) Save(_ context.Context, sessionID string, jpegData []byte) (string, error) {
	// Session IDs come from the capture coordinator, but they also arrive
	// via the stitch endpoint, so keep them out of path syntax.
	if sessionID == "" || strings.ContainsAny(sessionID, "/\\") || strings.Contains(sessionID, "..") {
		return "", ErrBadSessionID
	}
	name := sessionID + ".jpg"
	if err := os.WriteFile(filepath.Join(fs.dir, name), jpegData, 0o644); err != nil {
		return "", err
	}
	return fs.baseURL + "/media/" + name, nil
}

// Dir is the directory served as /media/.
func (fs *FSStore) Dir() string {
	return fs.dir
}
