package protocol

import "errors"

// Error taxonomy shared by every pipeline component. Component errors wrap
// one of these so callers can classify with errors.Is.
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrDeviceUnavailable = errors.New("media device unavailable")
	ErrEncodeFailure     = errors.New("audio encode failure")
	ErrRemote            = errors.New("remote service error")
	ErrProtocolParse     = errors.New("protocol parse error")
	ErrResponseTimeout   = errors.New("timed out waiting for remote response")
)

// ErrorKind returns a short stable label for err, used for metrics and history.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrDeviceUnavailable):
		return "device_unavailable"
	case errors.Is(err, ErrEncodeFailure):
		return "encode_failure"
	case errors.Is(err, ErrRemote):
		return "remote_error"
	case errors.Is(err, ErrProtocolParse):
		return "protocol_parse"
	case errors.Is(err, ErrResponseTimeout):
		return "timeout"
	default:
		return "internal"
	}
}
