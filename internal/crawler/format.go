package crawler

import (
	"regexp"
	"time"
)

const (
	layout17  = "20060102150405.000"
	layout14  = "20060102150405"
	layoutISO = "2006-01-02T15:04:05.000Z"

	// NoTypeMIME is logged when a resource has no usable content type.
	NoTypeMIME = "no-type"
)

var mimeTruncation = regexp.MustCompile(`^[^\s;,]+`)

// Format17 renders t as a 17-digit UTC timestamp (yyyyMMddHHmmssSSS).
func Format17(t time.Time) string {
	s := t.UTC().Format(layout17)
	return s[:14] + s[15:]
}

// Format14 renders t as a 14-digit UTC timestamp (yyyyMMddHHmmss).
func Format14(t time.Time) string {
	return t.UTC().Format(layout14)
}

// FormatISO renders t the way log line prefixes expect it.
func FormatISO(t time.Time) string {
	return t.UTC().Format(layoutISO)
}

// Parse14 parses a 14-digit timestamp.
func Parse14(s string) (time.Time, error) {
	return time.ParseInLocation(layout14, s, time.UTC)
}

// TruncateMIME reduces a content type to its bare media type, dropping
// parameters, or returns NoTypeMIME.
func TruncateMIME(contentType string) string {
	m := mimeTruncation.FindString(contentType)
	if m == "" {
		return NoTypeMIME
	}
	return m
}
