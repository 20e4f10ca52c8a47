// Resonance - Offline-Resilient Music Streaming Client Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package subsonic

import (
	"context"
	"crypto/md5" //nolint:gosec // verifying the protocol's own token scheme
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/resonance/internal/config"
)

func testConfig(serverURL string) *config.ServerConfig {
	return &config.ServerConfig{
		URL:      serverURL,
		Username: "alice",
		Password: "sesame",
		Client:   "resonance-test",
		Timeout:  5 * time.Second,
	}
}

func okEnvelope(body string) string {
	return fmt.Sprintf(`{"subsonic-response":{"status":"ok","version":"1.16.1"%s}}`, body)
}

func TestPingSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/rest/ping") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		fmt.Fprint(w, okEnvelope(""))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestPingAuthToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("u") != "alice" {
			t.Errorf("u = %q, want alice", q.Get("u"))
		}
		salt := q.Get("s")
		if salt == "" {
			t.Error("missing salt")
		}
		sum := md5.Sum([]byte("sesame" + salt)) //nolint:gosec
		if q.Get("t") != hex.EncodeToString(sum[:]) {
			t.Errorf("token mismatch for salt %q", salt)
		}
		if q.Get("f") != "json" {
			t.Errorf("f = %q, want json", q.Get("f"))
		}
		fmt.Fprint(w, okEnvelope(""))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestPingAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"subsonic-response":{"status":"failed","error":{"code":40,"message":"Wrong username or password"}}}`)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	err := c.Ping(context.Background())
	if err == nil {
		t.Fatal("expected error for failed status")
	}
	if !strings.Contains(err.Error(), "Wrong username") {
		t.Errorf("error should carry API message, got %v", err)
	}
}

func TestPingHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gateway timeout", http.StatusGatewayTimeout)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	if err := c.Ping(context.Background()); err == nil {
		t.Fatal("expected error for HTTP 504")
	}
}

func TestGetArtists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, okEnvelope(`,"artists":[{"id":"ar-1","name":"The Knacks","albumCount":2},{"id":"ar-2","name":"Violet Era","albumCount":1}]`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	artists, err := c.GetArtists(context.Background())
	if err != nil {
		t.Fatalf("GetArtists: %v", err)
	}
	if len(artists) != 2 {
		t.Fatalf("len(artists) = %d, want 2", len(artists))
	}
	if artists[0].ID != "ar-1" || artists[0].Name != "The Knacks" {
		t.Errorf("unexpected first artist: %+v", artists[0])
	}
}

func TestGetSongsFiltersByAlbum(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("albumId"); got != "al-7" {
			t.Errorf("albumId = %q, want al-7", got)
		}
		fmt.Fprint(w, okEnvelope(`,"songs":[{"id":"s-1","title":"Opener","albumId":"al-7","duration":184,"suffix":"flac"}]`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	songs, err := c.GetSongs(context.Background(), "al-7")
	if err != nil {
		t.Fatalf("GetSongs: %v", err)
	}
	if len(songs) != 1 || songs[0].Title != "Opener" {
		t.Errorf("unexpected songs: %+v", songs)
	}
}

func TestGetRecentlyAddedCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("count"); got != "50" {
			t.Errorf("count = %q, want 50", got)
		}
		fmt.Fprint(w, okEnvelope(`,"recentlyAdded":[{"id":"al-9","name":"Fresh Cuts","artist":"Violet Era"}]`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	albums, err := c.GetRecentlyAdded(context.Background(), 50)
	if err != nil {
		t.Fatalf("GetRecentlyAdded: %v", err)
	}
	if len(albums) != 1 || albums[0].Name != "Fresh Cuts" {
		t.Errorf("unexpected albums: %+v", albums)
	}
}

func TestStreamURL(t *testing.T) {
	c := NewClient(testConfig("http://music.example:4533"))

	tests := []struct {
		name      string
		transcode bool
		wantParam string
		wantValue string
	}{
		{"raw on fast network", false, "format", "raw"},
		{"transcoded on constrained network", true, "maxBitRate", "128"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := c.StreamURL("s-42", tt.transcode)
			if err != nil {
				t.Fatalf("StreamURL: %v", err)
			}
			if !strings.HasSuffix(u.Path, "/rest/stream") {
				t.Errorf("path = %q, want suffix /rest/stream", u.Path)
			}
			q := u.Query()
			if q.Get("id") != "s-42" {
				t.Errorf("id = %q, want s-42", q.Get("id"))
			}
			if got := q.Get(tt.wantParam); got != tt.wantValue {
				t.Errorf("%s = %q, want %q", tt.wantParam, got, tt.wantValue)
			}
		})
	}
}

func TestDownloadStreamsBody(t *testing.T) {
	const payload = "not-really-flac-bytes"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/rest/download") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		fmt.Fprint(w, payload)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	rc, err := c.Download(context.Background(), "s-1")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	defer rc.Close()

	body, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != payload {
		t.Errorf("body = %q, want %q", body, payload)
	}
}
