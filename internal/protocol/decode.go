package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/himanishpuri/acousticlink/pkg/models"
)

// matchWire accepts both the service's historical field names and the
// lower camel names used by newer deployments.
type matchWire struct {
	SongTitle   string   `json:"SongTitle"`
	SongArtist  string   `json:"SongArtist"`
	Score       *float64 `json:"Score"`
	Blake3Hash  string   `json:"blake3_hash"`
	YouTubeID   string   `json:"YouTubeID"`
	Timestamp   *uint32  `json:"Timestamp"`
	SongID      *uint32  `json:"SongID"`
	Title       string   `json:"title"`
	Artist      string   `json:"artist"`
	ContentHash string   `json:"contentHash"`
	ExternalID  string   `json:"externalId"`
}

type downloadStatusWire struct {
	Type     StatusType `json:"type"`
	Message  string     `json:"message"`
	Filename string     `json:"filename"`
	Code     StatusCode `json:"code"`
}

type cacheStatusWire struct {
	Found    *bool            `json:"found"`
	FilePath string           `json:"filePath"`
	URL      string           `json:"url"`
	Type     models.TrackKind `json:"type"`
}

type provenanceWire struct {
	ContentHash string                     `json:"contentHash"`
	Timestamp   json.RawMessage            `json:"timestamp"`
	Owner       string                     `json:"owner"`
	Metadata    map[string]json.RawMessage `json:"metadata"`
}

// Decode parses the payload of an inbound event into its typed shape.
// Unknown events and payloads that match no known shape fail with ErrProtocolParse.
func Decode(event string, data json.RawMessage) (Event, error) {
	switch event {
	case EventMatches:
		results, err := decodeMatchList(data)
		if err != nil {
			return nil, parseErr(event, err)
		}
		return Matches{Results: results}, nil
	case EventSimilarityResults:
		results, err := decodeMatchList(data)
		if err != nil {
			return nil, parseErr(event, err)
		}
		return SimilarityResults{Results: results}, nil
	case EventDownloadStatus:
		st, err := decodeDownloadStatus(data)
		if err != nil {
			return nil, parseErr(event, err)
		}
		return st, nil
	case EventCacheStatus:
		cs, err := decodeCacheStatus(data)
		if err != nil {
			return nil, parseErr(event, err)
		}
		return cs, nil
	case EventProvenanceMatch:
		pm, err := decodeProvenance(data)
		if err != nil {
			return nil, parseErr(event, err)
		}
		return pm, nil
	default:
		return nil, fmt.Errorf("%w: unknown event %q", ErrProtocolParse, event)
	}
}

func parseErr(event string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrProtocolParse, event, err)
}

// unwrap returns the JSON document carried by data. Some services send the
// document as a JSON string holding JSON; that is unwrapped exactly once.
func unwrap(data json.RawMessage) ([]byte, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '"' {
		return trimmed, nil
	}

	var inner string
	if err := json.Unmarshal(trimmed, &inner); err != nil {
		return nil, err
	}
	doc := bytes.TrimSpace([]byte(inner))
	if len(doc) == 0 {
		return nil, fmt.Errorf("empty string payload")
	}
	switch doc[0] {
	case '{', '[', 'n':
		return doc, nil
	default:
		return nil, fmt.Errorf("string payload is not a JSON document")
	}
}

func isNull(doc []byte) bool {
	return len(doc) == 0 || bytes.Equal(doc, []byte("null"))
}

func decodeMatchList(data json.RawMessage) ([]models.MatchResult, error) {
	doc, err := unwrap(data)
	if err != nil {
		return nil, err
	}
	if isNull(doc) {
		return []models.MatchResult{}, nil
	}
	if doc[0] != '[' {
		return nil, fmt.Errorf("expected an array of matches")
	}

	var wire []matchWire
	if err := json.Unmarshal(doc, &wire); err != nil {
		return nil, err
	}

	out := make([]models.MatchResult, 0, len(wire))
	for i, w := range wire {
		m := models.MatchResult{
			Title:       firstNonEmpty(w.SongTitle, w.Title),
			Artist:      firstNonEmpty(w.SongArtist, w.Artist),
			ContentHash: firstNonEmpty(w.Blake3Hash, w.ContentHash),
			ExternalID:  firstNonEmpty(w.YouTubeID, w.ExternalID),
		}
		if m.Title == "" {
			return nil, fmt.Errorf("match %d has no title", i)
		}
		if w.Score != nil {
			m.Score = *w.Score
		}
		if w.Timestamp != nil {
			m.TimestampMs = *w.Timestamp
		}
		if w.SongID != nil {
			m.ID = *w.SongID
		}
		out = append(out, m)
	}
	return out, nil
}

func decodeDownloadStatus(data json.RawMessage) (DownloadStatus, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return DownloadStatus{}, err
		}
		inner := strings.TrimSpace(s)
		if !strings.HasPrefix(inner, "{") {
			return DownloadStatus{Type: StatusTypeInfo, Message: s, Plain: true}, nil
		}
		trimmed = []byte(inner)
	}
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return DownloadStatus{}, fmt.Errorf("expected a string or an object")
	}

	var w downloadStatusWire
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return DownloadStatus{}, err
	}
	switch w.Type {
	case StatusTypeInfo, StatusTypeSuccess, StatusTypeError:
	default:
		return DownloadStatus{}, fmt.Errorf("unknown status type %q", w.Type)
	}
	return DownloadStatus{
		Type:     w.Type,
		Message:  w.Message,
		Filename: w.Filename,
		Code:     w.Code,
	}, nil
}

func decodeCacheStatus(data json.RawMessage) (CacheStatus, error) {
	doc, err := unwrap(data)
	if err != nil {
		return CacheStatus{}, err
	}
	if isNull(doc) || doc[0] != '{' {
		return CacheStatus{}, fmt.Errorf("expected an object")
	}

	var w cacheStatusWire
	if err := json.Unmarshal(doc, &w); err != nil {
		return CacheStatus{}, err
	}
	if w.Found == nil {
		return CacheStatus{}, fmt.Errorf("missing found flag")
	}
	return CacheStatus{Found: *w.Found, FilePath: w.FilePath, URL: w.URL, Type: w.Type}, nil
}

func decodeProvenance(data json.RawMessage) (ProvenanceMatch, error) {
	doc, err := unwrap(data)
	if err != nil {
		return ProvenanceMatch{}, err
	}
	if isNull(doc) || doc[0] != '{' {
		return ProvenanceMatch{}, fmt.Errorf("expected an object")
	}

	var w provenanceWire
	if err := json.Unmarshal(doc, &w); err != nil {
		return ProvenanceMatch{}, err
	}
	if w.ContentHash == "" {
		return ProvenanceMatch{}, fmt.Errorf("missing contentHash")
	}

	ts, err := scalarString(w.Timestamp)
	if err != nil {
		return ProvenanceMatch{}, fmt.Errorf("timestamp: %w", err)
	}

	rec := models.ProvenanceRecord{ContentHash: w.ContentHash, Timestamp: ts, Owner: w.Owner}
	if len(w.Metadata) > 0 {
		rec.Metadata = make(map[string]string, len(w.Metadata))
		for k, v := range w.Metadata {
			s, err := scalarString(v)
			if err != nil {
				// nested values are kept as their JSON text
				s = string(bytes.TrimSpace(v))
			}
			rec.Metadata[k] = s
		}
	}
	return ProvenanceMatch{Record: rec}, nil
}

// scalarString renders a JSON string, number or bool as text.
func scalarString(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if isNull(raw) {
		return "", nil
	}
	switch raw[0] {
	case '"':
		var s string
		err := json.Unmarshal(raw, &s)
		return s, err
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return "", err
		}
		return strconv.FormatBool(b), nil
	case '{', '[':
		return "", fmt.Errorf("not a scalar")
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", err
		}
		return n.String(), nil
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
