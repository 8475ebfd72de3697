package protocol

import "github.com/himanishpuri/acousticlink/pkg/models"

// Channel event names.
const (
	EventNewRecording      = "newRecording"
	EventMatches           = "matches"
	EventProcessURL        = "processURL"
	EventDownloadStatus    = "downloadStatus"
	EventCacheStatus       = "cacheStatus"
	EventSimilarityResults = "similarityResults"
	EventProvenanceMatch   = "provenanceMatch"
)

// TrackEvents are the inbound events of the track-acquisition path.
var TrackEvents = []string{
	EventCacheStatus,
	EventDownloadStatus,
	EventSimilarityResults,
	EventProvenanceMatch,
}

// CaptureEvents are the inbound events of the live-capture path.
var CaptureEvents = []string{EventMatches}

// Command discriminates processURL requests.
type Command string

const (
	CommandCheckAndProcess Command = "check_and_process"
	CommandDownload        Command = "download"
	CommandFindAndSave     Command = "find_and_save"
)

// AudioQuery is the newRecording payload.
type AudioQuery struct {
	Audio      string  `json:"audio"` // base64 of the WAV bytes
	Duration   float64 `json:"duration"`
	Channels   int     `json:"channels"`
	SampleRate int     `json:"sampleRate"`
	SampleSize int     `json:"sampleSize"`
}

// ProcessURL is the processURL payload.
type ProcessURL struct {
	URL      string           `json:"url,omitempty"`
	Type     models.TrackKind `json:"type,omitempty"`
	Command  Command          `json:"command"`
	FilePath string           `json:"filePath,omitempty"`
}

// Event is an inbound payload decoded into one of the known shapes.
type Event interface {
	EventName() string
	sealed()
}

// Matches answers an AudioQuery. An empty slice means no match.
type Matches struct {
	Results []models.MatchResult
}

// StatusType is the type field of a structured downloadStatus.
type StatusType string

const (
	StatusTypeInfo    StatusType = "info"
	StatusTypeSuccess StatusType = "success"
	StatusTypeError   StatusType = "error"
)

// StatusCode is the structured code a service may attach to downloadStatus.
type StatusCode string

const (
	CodeNone             StatusCode = ""
	CodeConverting       StatusCode = "converting"
	CodeTranscodeWarning StatusCode = "transcode_warning"
	CodeDownloadFailed   StatusCode = "download_failed"
	CodeAnalysisComplete StatusCode = "analysis_complete"
)

// DownloadStatus reports acquisition progress. Plain string payloads
// decode to Type info with Plain set.
type DownloadStatus struct {
	Type     StatusType
	Message  string
	Filename string
	Code     StatusCode
	Plain    bool
}

// CacheStatus answers check_and_process.
type CacheStatus struct {
	Found    bool
	FilePath string
	URL      string
	Type     models.TrackKind
}

// SimilarityResults is the fingerprint similarity outcome of a track request.
type SimilarityResults struct {
	Results []models.MatchResult
}

// ProvenanceMatch is the provenance outcome of a track request.
type ProvenanceMatch struct {
	Record models.ProvenanceRecord
}

func (Matches) EventName() string           { return EventMatches }
func (DownloadStatus) EventName() string    { return EventDownloadStatus }
func (CacheStatus) EventName() string       { return EventCacheStatus }
func (SimilarityResults) EventName() string { return EventSimilarityResults }
func (ProvenanceMatch) EventName() string   { return EventProvenanceMatch }

func (Matches) sealed()           {}
func (DownloadStatus) sealed()    {}
func (CacheStatus) sealed()       {}
func (SimilarityResults) sealed() {}
func (ProvenanceMatch) sealed()   {}
