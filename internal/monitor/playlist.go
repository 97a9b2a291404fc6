package monitor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// errPlaylistOffline marks a 404 on the playlist: the stream is offline, not
// faulted.
var errPlaylistOffline = fmt.Errorf("playlist offline")

// latestSegment fetches the HLS playlist and returns the absolute URL of its
// last media segment. Comment and tag lines (leading '#') are skipped.
func (m *Manager) latestSegment(ctx context.Context, streamID string) (string, error) {
	playlistURL := fmt.Sprintf("%s/live/%s.m3u8", m.cdnBaseURL, streamID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, playlistURL, nil)
	if err != nil {
		return "", fmt.Errorf("monitor: build playlist request: %w", err)
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("monitor: fetch playlist: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", errPlaylistOffline
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("monitor: playlist status %d", resp.StatusCode)
	}

	last := lastSegmentLine(resp.Body)
	if last == "" {
		return "", errPlaylistOffline
	}
	return resolveSegmentURL(playlistURL, last), nil
}

func lastSegmentLine(r io.Reader) string {
	var last string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		last = line
	}
	return last
}

// resolveSegmentURL makes a playlist-relative segment line absolute.
func resolveSegmentURL(playlistURL, segment string) string {
	seg, err := url.Parse(segment)
	if err != nil {
		return segment
	}
	if seg.IsAbs() {
		return segment
	}
	base, err := url.Parse(playlistURL)
	if err != nil {
		return segment
	}
	return base.ResolveReference(seg).String()
}
