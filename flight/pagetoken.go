package flight

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

const pageTokenVersion = "v1"

// PageToken is a cursor for flight enumeration: a versioned, URL-safe base64
// encoding of an RFC3339 instant equal to the submit time of the last row
// returned. An empty page carries the server's current time so repeated
// polling makes forward progress.
type PageToken struct {
	Time time.Time
}

func NewPageToken(t time.Time) PageToken {
	return PageToken{Time: t.UTC()}
}

func (p PageToken) Encode() string {
	raw := p.Time.UTC().Format(time.RFC3339Nano)
	return pageTokenVersion + "." + base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func DecodePageToken(s string) (PageToken, error) {
	version, payload, found := strings.Cut(s, ".")
	if !found || version != pageTokenVersion {
		return PageToken{}, fmt.Errorf("unrecognized page token version in %q", s)
	}
	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return PageToken{}, fmt.Errorf("malformed page token: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, string(raw))
	if err != nil {
		return PageToken{}, fmt.Errorf("malformed page token instant: %w", err)
	}
	return PageToken{Time: t.UTC()}, nil
}
