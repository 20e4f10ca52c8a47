// Resonance - Offline-Resilient Music Streaming Client Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

// Package subsonic implements the remote music server client. The wire
// format is Subsonic-compatible JSON; the core depends only on the
// narrow surface defined by ClientInterface (ping, stream URL, listing
// endpoints, raw download).
package subsonic

import (
	"context"
	"crypto/md5" //nolint:gosec // Subsonic token auth mandates MD5(password+salt)
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/resonance/internal/config"
)

// apiVersion is the Subsonic protocol version the client speaks.
const apiVersion = "1.16.1"

// maxErrorBodySize limits how much of an error response body is read
// for diagnostics, preventing unbounded allocation.
const maxErrorBodySize = 64 * 1024

// ClientInterface is the surface the core depends on. Implemented by
// Client for production and by fakes in tests.
//
// All methods accept a context for cancellation and can fail or be
// slow; callers must treat every call as a potential network stall.
type ClientInterface interface {
	// Ping verifies server liveness. A nil error means reachable.
	Ping(ctx context.Context) error

	// StreamURL builds the authenticated streaming URL for a song.
	// With transcode set, the server downsamples for constrained links.
	StreamURL(songID string, transcode bool) (*url.URL, error)

	// GetArtists lists all library artists.
	GetArtists(ctx context.Context) ([]Artist, error)

	// GetAlbums lists albums, optionally restricted to one artist.
	GetAlbums(ctx context.Context, artistID string) ([]Album, error)

	// GetSongs lists songs, optionally restricted to one album.
	GetSongs(ctx context.Context, albumID string) ([]Song, error)

	// GetRecentlyAdded lists the count most recently added albums.
	GetRecentlyAdded(ctx context.Context, count int) ([]Album, error)

	// Download streams the raw (untranscoded) bytes of a song. The
	// caller owns the returned ReadCloser.
	Download(ctx context.Context, songID string) (io.ReadCloser, error)
}

// Client talks to a Subsonic-compatible server over HTTP with salted
// token authentication. Safe for concurrent use; every request carries
// its own salt.
type Client struct {
	baseURL  string
	username string
	password string
	client   *http.Client
	appName  string
}

// NewClient creates a client from server configuration.
func NewClient(cfg *config.ServerConfig) *Client {
	appName := cfg.Client
	if appName == "" {
		appName = "resonance"
	}
	return &Client{
		baseURL:  cfg.URL,
		username: cfg.Username,
		password: cfg.Password,
		appName:  appName,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// authParams returns the per-request authentication query parameters.
// The token is MD5(password + salt) per the Subsonic API.
func (c *Client) authParams() url.Values {
	salt := newSalt()
	sum := md5.Sum([]byte(c.password + salt)) //nolint:gosec // protocol requirement
	v := url.Values{}
	v.Set("u", c.username)
	v.Set("t", hex.EncodeToString(sum[:]))
	v.Set("s", salt)
	v.Set("v", apiVersion)
	v.Set("c", c.appName)
	v.Set("f", "json")
	return v
}

func newSalt() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		// Degenerate fallback; token auth still works, just with a
		// predictable salt for this request.
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// endpoint builds the full request URL for a REST endpoint.
func (c *Client) endpoint(name string, extra url.Values) (string, error) {
	parsed, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	base := parsed.JoinPath("rest", name)
	q := c.authParams()
	for k, vs := range extra {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	base.RawQuery = q.Encode()
	return base.String(), nil
}

// call performs a GET against an endpoint and decodes the envelope.
func (c *Client) call(ctx context.Context, name string, extra url.Values) (*envelope, error) {
	reqURL, err := c.endpoint(name, extra)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", name, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return nil, fmt.Errorf("%s returned HTTP %d: %s", name, resp.StatusCode, body)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", name, err)
	}

	if env.Response.Status != "ok" {
		if env.Response.Error != nil {
			return nil, fmt.Errorf("%s API error %d: %s", name, env.Response.Error.Code, env.Response.Error.Message)
		}
		return nil, fmt.Errorf("%s API status %q", name, env.Response.Status)
	}

	return &env, nil
}

// Ping verifies server liveness.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, "ping", nil)
	return err
}

// StreamURL builds the authenticated streaming URL for a song. With
// transcode set, a capped bitrate is requested so constrained networks
// are not saturated; otherwise the raw format is requested.
func (c *Client) StreamURL(songID string, transcode bool) (*url.URL, error) {
	extra := url.Values{}
	extra.Set("id", songID)
	if transcode {
		extra.Set("maxBitRate", "128")
	} else {
		extra.Set("format", "raw")
	}
	s, err := c.endpoint("stream", extra)
	if err != nil {
		return nil, err
	}
	return url.Parse(s)
}

// GetArtists lists all library artists.
func (c *Client) GetArtists(ctx context.Context) ([]Artist, error) {
	env, err := c.call(ctx, "getArtists", nil)
	if err != nil {
		return nil, err
	}
	return env.Response.Artists, nil
}

// GetAlbums lists albums, optionally restricted to one artist.
func (c *Client) GetAlbums(ctx context.Context, artistID string) ([]Album, error) {
	extra := url.Values{}
	if artistID != "" {
		extra.Set("artistId", artistID)
	}
	env, err := c.call(ctx, "getAlbums", extra)
	if err != nil {
		return nil, err
	}
	return env.Response.Albums, nil
}

// GetSongs lists songs, optionally restricted to one album.
func (c *Client) GetSongs(ctx context.Context, albumID string) ([]Song, error) {
	extra := url.Values{}
	if albumID != "" {
		extra.Set("albumId", albumID)
	}
	env, err := c.call(ctx, "getSongs", extra)
	if err != nil {
		return nil, err
	}
	return env.Response.Songs, nil
}

// GetRecentlyAdded lists the count most recently added albums.
func (c *Client) GetRecentlyAdded(ctx context.Context, count int) ([]Album, error) {
	extra := url.Values{}
	extra.Set("count", fmt.Sprintf("%d", count))
	env, err := c.call(ctx, "getRecentlyAdded", extra)
	if err != nil {
		return nil, err
	}
	return env.Response.RecentlyAdded, nil
}

// Download streams the raw bytes of a song for caching. Unlike call,
// the response body is returned to the caller unconsumed.
func (c *Client) Download(ctx context.Context, songID string) (io.ReadCloser, error) {
	extra := url.Values{}
	extra.Set("id", songID)
	reqURL, err := c.endpoint("download", extra)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		resp.Body.Close() //nolint:errcheck,gosec
		return nil, fmt.Errorf("download returned HTTP %d: %s", resp.StatusCode, body)
	}
	return resp.Body, nil
}
