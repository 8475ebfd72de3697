package utils

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/himanishpuri/acousticlink/pkg/models"
)

// TrackReference is a validated remote track locator.
type TrackReference struct {
	URL  string
	Kind models.TrackKind
	ID   string
}

var spotifyID = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// ParseTrackURL validates a Spotify track, album or playlist URL.
// Localized paths such as /intl-de/track/{id} are accepted.
func ParseTrackURL(raw string) (TrackReference, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return TrackReference{}, fmt.Errorf("empty URL")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return TrackReference{}, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return TrackReference{}, fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
	if !strings.EqualFold(u.Hostname(), "open.spotify.com") {
		return TrackReference{}, fmt.Errorf("not a Spotify URL: %s", u.Host)
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) > 0 && strings.HasPrefix(segments[0], "intl-") {
		segments = segments[1:]
	}
	if len(segments) != 2 {
		return TrackReference{}, fmt.Errorf("unrecognized Spotify path: %s", u.Path)
	}

	var kind models.TrackKind
	switch segments[0] {
	case "track":
		kind = models.KindTrack
	case "album":
		kind = models.KindAlbum
	case "playlist":
		kind = models.KindPlaylist
	default:
		return TrackReference{}, fmt.Errorf("unsupported Spotify resource %q", segments[0])
	}

	if !spotifyID.MatchString(segments[1]) {
		return TrackReference{}, fmt.Errorf("invalid Spotify ID %q", segments[1])
	}

	return TrackReference{URL: raw, Kind: kind, ID: segments[1]}, nil
}

// YouTubeWatchURL builds a watch link for a matched song's external ID.
func YouTubeWatchURL(id string) string {
	if id == "" {
		return ""
	}
	return "https://www.youtube.com/watch?v=" + url.QueryEscape(id)
}
