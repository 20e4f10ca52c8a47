// Resonance - Offline-Resilient Music Streaming Client Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package subsonic

// Artist is a library artist as returned by the server.
type Artist struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	AlbumCount int    `json:"albumCount"`
	CoverArt   string `json:"coverArt,omitempty"`
}

// Album is a library album as returned by the server.
type Album struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ArtistID  string `json:"artistId"`
	Artist    string `json:"artist"`
	SongCount int    `json:"songCount"`
	Duration  int    `json:"duration"`
	CoverArt  string `json:"coverArt,omitempty"`
	Created   string `json:"created,omitempty"`
}

// Song is a playable track as returned by the server.
type Song struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	AlbumID  string `json:"albumId"`
	Album    string `json:"album"`
	ArtistID string `json:"artistId"`
	Artist   string `json:"artist"`
	Track    int    `json:"track"`
	Duration int    `json:"duration"`
	Suffix   string `json:"suffix"`
	BitRate  int    `json:"bitRate"`
	Size     int64  `json:"size"`
	CoverArt string `json:"coverArt,omitempty"`
}

// envelope is the standard wrapper every endpoint responds with.
type envelope struct {
	Response struct {
		Status  string `json:"status"`
		Version string `json:"version"`
		Error   *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error,omitempty"`
		Artists       []Artist `json:"artists,omitempty"`
		Albums        []Album  `json:"albums,omitempty"`
		Songs         []Song   `json:"songs,omitempty"`
		RecentlyAdded []Album  `json:"recentlyAdded,omitempty"`
	} `json:"subsonic-response"`
}
