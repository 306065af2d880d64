package orchestrator

import (
	"net/url"
	"regexp"
	"strings"
)

// videoIDPattern is the platform's 11-character id alphabet.
var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

var watchHosts = map[string]bool{
	"youtube.com":       true,
	"www.youtube.com":   true,
	"m.youtube.com":     true,
	"music.youtube.com": true,
}

// ParseVideoID extracts a video identifier from a watch link. Supported
// shapes are watch?v=ID, youtu.be/ID, /live/ID, /shorts/ID and /embed/ID.
// ok is false when the URL does not belong to the platform at all; platform
// URLs that carry no extractable id return ok true with an empty id.
func ParseVideoID(raw string) (id string, ok bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	host := strings.ToLower(u.Hostname())

	if host == "youtu.be" {
		return cleanID(strings.TrimPrefix(u.Path, "/")), true
	}
	if !watchHosts[host] {
		return "", false
	}

	if u.Path == "/watch" {
		return cleanID(u.Query().Get("v")), true
	}
	for _, prefix := range []string{"/live/", "/shorts/", "/embed/"} {
		if rest, found := strings.CutPrefix(u.Path, prefix); found {
			return cleanID(rest), true
		}
	}
	return "", true
}

func cleanID(s string) string {
	if idx := strings.IndexByte(s, '/'); idx != -1 {
		s = s[:idx]
	}
	if !videoIDPattern.MatchString(s) {
		return ""
	}
	return s
}
