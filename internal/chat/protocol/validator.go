package protocol

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

var routingMarker = regexp.MustCompile(`^<TO id=([0-9a-fA-F-]{36})>`)

// truncate cuts text at the earliest occurrence of any marker. Empty markers are ignored.
func truncate(text string, markers []string) string {
	cut := len(text)
	for _, m := range markers {
		if m == "" {
			continue
		}
		if i := strings.Index(text, m); i >= 0 && i < cut {
			cut = i
		}
	}
	return text[:cut]
}

func checkLength(text string, minChars int) (string, error) {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < minChars {
		return "", ErrResponseTooShort
	}
	return text, nil
}

// parseRouting splits a leading <TO id=...> marker off text.
func parseRouting(text string) (uuid.UUID, string, error) {
	text = strings.TrimLeft(text, " \t\r\n")
	match := routingMarker.FindStringSubmatch(text)
	if match == nil {
		return uuid.Nil, "", ErrMissingRoutingTarget
	}
	id, err := uuid.Parse(match[1])
	if err != nil {
		return uuid.Nil, "", ErrMissingRoutingTarget
	}
	return id, text[len(match[0]):], nil
}

func validatorMarkers() []string {
	return []string{TagUser, TagAssistant, TagSystem, TagStartHeader, TagEndHeader, TagToolCallEnd}
}
