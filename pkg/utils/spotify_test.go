package utils

import (
	"testing"

	"github.com/himanishpuri/acousticlink/pkg/models"
)

func TestParseTrackURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		kind    models.TrackKind
		id      string
		wantErr bool
	}{
		{name: "track", url: "https://open.spotify.com/track/abc123", kind: models.KindTrack, id: "abc123"},
		{name: "album with query", url: "https://open.spotify.com/album/4aawyAB9vmqN3uQ7FjRGTy?si=x", kind: models.KindAlbum, id: "4aawyAB9vmqN3uQ7FjRGTy"},
		{name: "playlist", url: "https://open.spotify.com/playlist/37i9dQZF1DXcBWIGoYBM5M", kind: models.KindPlaylist, id: "37i9dQZF1DXcBWIGoYBM5M"},
		{name: "localized", url: "https://open.spotify.com/intl-de/track/abc123", kind: models.KindTrack, id: "abc123"},
		{name: "trailing slash", url: "https://open.spotify.com/track/abc123/", kind: models.KindTrack, id: "abc123"},
		{name: "empty", url: "", wantErr: true},
		{name: "not a url", url: "abc123", wantErr: true},
		{name: "wrong host", url: "https://www.youtube.com/watch?v=abc", wantErr: true},
		{name: "artist page", url: "https://open.spotify.com/artist/abc123", wantErr: true},
		{name: "missing id", url: "https://open.spotify.com/track/", wantErr: true},
		{name: "bad id", url: "https://open.spotify.com/track/abc-123", wantErr: true},
		{name: "ftp", url: "ftp://open.spotify.com/track/abc123", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := ParseTrackURL(tt.url)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q, got %+v", tt.url, ref)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ref.Kind != tt.kind || ref.ID != tt.id {
				t.Errorf("got kind=%s id=%s, want kind=%s id=%s", ref.Kind, ref.ID, tt.kind, tt.id)
			}
		})
	}
}

func TestYouTubeWatchURL(t *testing.T) {
	if got := YouTubeWatchURL(""); got != "" {
		t.Errorf("empty id should give empty URL, got %q", got)
	}
	if got := YouTubeWatchURL("dQw4w9WgXcQ"); got != "https://www.youtube.com/watch?v=dQw4w9WgXcQ" {
		t.Errorf("unexpected URL %q", got)
	}
}
