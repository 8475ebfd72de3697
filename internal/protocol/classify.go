package protocol

import "strings"

// StatusClass is the pipeline meaning of a downloadStatus event.
type StatusClass int

const (
	StatusInfo StatusClass = iota
	StatusConverting
	StatusSuccess
	StatusAnalysisComplete
	// StatusTranscodeWarning is a reported WAV conversion failure after which
	// the service keeps processing. It advances the pipeline instead of failing it.
	StatusTranscodeWarning
	StatusFailure
)

func (c StatusClass) String() string {
	switch c {
	case StatusInfo:
		return "info"
	case StatusConverting:
		return "converting"
	case StatusSuccess:
		return "success"
	case StatusAnalysisComplete:
		return "analysis_complete"
	case StatusTranscodeWarning:
		return "transcode_warning"
	case StatusFailure:
		return "failure"
	default:
		return "unknown"
	}
}

const (
	transcodeWarningText = "failed to convert to wav"
	analysisCompleteText = "analysis complete"
)

// IsTranscodeWarning matches the legacy human-readable transcode warning.
func IsTranscodeWarning(message string) bool {
	return strings.Contains(strings.ToLower(message), transcodeWarningText)
}

// Classify maps a status to its pipeline meaning. A structured code wins;
// services that send no code are classified from the message text.
func Classify(st DownloadStatus) StatusClass {
	switch st.Code {
	case CodeTranscodeWarning:
		return StatusTranscodeWarning
	case CodeConverting:
		return StatusConverting
	case CodeAnalysisComplete:
		return StatusAnalysisComplete
	case CodeDownloadFailed:
		return StatusFailure
	}

	switch st.Type {
	case StatusTypeError:
		if IsTranscodeWarning(st.Message) {
			return StatusTranscodeWarning
		}
		return StatusFailure
	case StatusTypeSuccess:
		if strings.EqualFold(strings.TrimSpace(st.Message), analysisCompleteText) {
			return StatusAnalysisComplete
		}
		return StatusSuccess
	default:
		if IsTranscodeWarning(st.Message) {
			return StatusTranscodeWarning
		}
		return StatusInfo
	}
}
