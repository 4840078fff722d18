package capture

import (
	"fmt"
	"net/url"
	"strings"
)

const maxURILength = 2048

// inputSchemes are the stream protocols the capture engine is driven with.
var inputSchemes = map[string]bool{
	"rtsp":  true,
	"rtsps": true,
	"rtmp":  true,
	"http":  true,
	"https": true,
	"srt":   true,
}

// ValidateInputURI checks that a camera URI can be handed to the engine:
//   - max length 2048 characters
//   - scheme must be a supported stream protocol
//   - a hostname is required
//
// Cameras normally live on private networks, so addresses are not restricted
// and embedded credentials are allowed.
func ValidateInputURI(raw string) error {
	if raw == "" {
		return fmt.Errorf("URI is required")
	}
	if len(raw) > maxURILength {
		return fmt.Errorf("URI too long (%d chars, max %d)", len(raw), maxURILength)
	}
	if strings.ContainsAny(raw, "\r\n") {
		return fmt.Errorf("URI contains a line break")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URI: %w", err)
	}
	if !inputSchemes[strings.ToLower(u.Scheme)] {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("URI has no hostname")
	}
	return nil
}

// RedactURI hides the password of a URI for logging.
func RedactURI(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}
