package models

// MatchResult is one ranked candidate returned by the recognition service.
// Score is the raw similarity score; it is not normalized.
type MatchResult struct {
	ID          uint32  `json:"id"`
	Title       string  `json:"title"`
	Artist      string  `json:"artist"`
	Score       float64 `json:"score"`
	ContentHash string  `json:"contentHash,omitempty"`
	ExternalID  string  `json:"externalId,omitempty"` // YouTube video ID when known
	TimestampMs uint32  `json:"timestampMs"`          // match position in the source track
}

// ProvenanceRecord is a content-hash-indexed attestation of a track's origin.
type ProvenanceRecord struct {
	ContentHash string            `json:"contentHash"`
	Timestamp   string            `json:"timestamp"`
	Owner       string            `json:"owner"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Result is the assembled outcome of one completed request. Similarity
// matches and provenance are orthogonal and may both be present.
type Result struct {
	Matches    []MatchResult     `json:"matches,omitempty"`
	Provenance *ProvenanceRecord `json:"provenance,omitempty"`
}

// NoMatch reports whether the request completed without any result.
func (r Result) NoMatch() bool {
	return len(r.Matches) == 0 && r.Provenance == nil
}

// Clone returns a deep copy safe to hand to readers outside the controller.
func (r Result) Clone() Result {
	out := Result{}
	if r.Matches != nil {
		out.Matches = append([]MatchResult(nil), r.Matches...)
	}
	if r.Provenance != nil {
		p := *r.Provenance
		if r.Provenance.Metadata != nil {
			p.Metadata = make(map[string]string, len(r.Provenance.Metadata))
			for k, v := range r.Provenance.Metadata {
				p.Metadata[k] = v
			}
		}
		out.Provenance = &p
	}
	return out
}

// TrackKind is the resolved kind of a remote track reference.
type TrackKind string

const (
	KindTrack    TrackKind = "track"
	KindAlbum    TrackKind = "album"
	KindPlaylist TrackKind = "playlist"
)

// Level classifies user-visible notifications.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notification is a user-visible message (the presentation layer renders it as a toast).
type Notification struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
}
