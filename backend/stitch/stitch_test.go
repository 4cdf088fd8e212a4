package stitch

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/rs/zerolog"
)

func pngBytes(t *testing.T, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	fill(img, c)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test png: %v", err)
	}
	return buf.Bytes()
}

func frameServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/a.png", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(pngBytes(t, color.RGBA{220, 30, 30, 255}))
	})
	mux.HandleFunc("/b.png", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(pngBytes(t, color.RGBA{30, 30, 220, 255}))
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func waitForTerminal(t *testing.T, svc *Service, sessionID string) Status {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		st := svc.Lookup(sessionID)
		if st.Status != StateProcessing {
			return st
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never left processing", sessionID)
	return Status{}
}

func TestStitchJobProducesComposedImage(t *testing.T) {
	ts := frameServer(t)
	logger := zerolog.Nop()

	dir := t.TempDir()
	store, err := NewFSStore(dir, "http://cdn.test/")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	svc := NewService(Config{Logger: &logger, Store: store})

	req := Request{
		SessionID: "sess-1",
		URLA:      ts.URL + "/a.png",
		URLB:      ts.URL + "/b.png",
	}
	if err = svc.Submit(req); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if st := svc.Lookup("sess-1"); st.Status != StateProcessing && st.Status != StateDone {
		t.Fatalf("job not registered: %s", spew.Sdump(st))
	}

	st := waitForTerminal(t, svc, "sess-1")
	if st.Status != StateDone {
		t.Fatalf("job failed: %s", spew.Sdump(st))
	}
	if st.URL != "http://cdn.test/media/sess-1.jpg" {
		t.Fatalf("url = %q", st.URL)
	}

	data, err := os.ReadFile(filepath.Join(dir, "sess-1.jpg"))
	if err != nil {
		t.Fatalf("composed file missing: %v", err)
	}
	if _, format, err := image.DecodeConfig(bytes.NewReader(data)); err != nil || format != "jpeg" {
		t.Fatalf("stored file is not a jpeg: format=%q err=%v", format, err)
	}
}

func TestStitchJobFailsWhenFrameUnreachable(t *testing.T) {
	ts := frameServer(t)
	logger := zerolog.Nop()
	store, err := NewFSStore(t.TempDir(), "http://cdn.test")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	svc := NewService(Config{Logger: &logger, Store: store})

	req := Request{
		SessionID: "sess-2",
		URLA:      ts.URL + "/missing.png",
		URLB:      ts.URL + "/b.png",
	}
	if err = svc.Submit(req); err != nil {
		t.Fatalf("submit: %v", err)
	}

	st := waitForTerminal(t, svc, "sess-2")
	if st.Status != StateError {
		t.Fatalf("expected error state, got %s", spew.Sdump(st))
	}
	if st.Error != "Could not load images" {
		t.Fatalf("error message = %q", st.Error)
	}
}

func TestSubmitValidatesRequest(t *testing.T) {
	logger := zerolog.Nop()
	store, _ := NewFSStore(t.TempDir(), "http://cdn.test")
	svc := NewService(Config{Logger: &logger, Store: store})

	for _, req := range []Request{
		{},
		{SessionID: "s", URLA: "http://x/a"},
		{URLA: "http://x/a", URLB: "http://x/b"},
	} {
		if err := svc.Submit(req); !errors.Is(err, ErrBadRequest) {
			t.Fatalf("submit(%s) err = %v, want ErrBadRequest", spew.Sdump(req), err)
		}
	}
}

func TestLookupUnknownSession(t *testing.T) {
	logger := zerolog.Nop()
	store, _ := NewFSStore(t.TempDir(), "http://cdn.test")
	svc := NewService(Config{Logger: &logger, Store: store})

	if st := svc.Lookup("never-submitted"); st.Status != StateNotFound {
		t.Fatalf("status = %s, want not_found", st.Status)
	}
}

func TestFSStoreRejectsPathSyntax(t *testing.T) {
	store, err := NewFSStore(t.TempDir(), "http://cdn.test")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	for _, id := range []string{"", "../escape", "a/b", `a\b`} {
		if _, err = store.Save(context.Background(), id, []byte("x")); !errors.Is(err, ErrBadSessionID) {
			t.Fatalf("Save(%q) err = %v, want ErrBadSessionID", id, err)
		}
	}
}
