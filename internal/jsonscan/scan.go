// Package jsonscan extracts media and page URLs from discovery tool output
// with a streaming tokenizer, so arbitrarily large documents are processed in
// constant memory and a truncated document still yields what preceded the cut.
package jsonscan

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-json-experiment/json/jsontext"
)

var (
	// ErrPrematureEOF reports that input ended before the top-level value
	// closed. Values seen before the cut have already been delivered.
	ErrPrematureEOF = errors.New("premature end of json input")
	// ErrUnexpectedToken reports a document that is not an object or array.
	ErrUnexpectedToken = errors.New("unexpected top-level json token")
)

// Field identifies which collection a scanned value belongs to.
type Field int

const (
	// FieldVideoURL is a media URL (`url`).
	FieldVideoURL Field = iota + 1
	// FieldPageURL is a canonical page URL (`webpage_url`).
	FieldPageURL
)

func (f Field) String() string {
	switch f {
	case FieldVideoURL:
		return "video"
	case FieldPageURL:
		return "page"
	default:
		return "unknown"
	}
}

// Scan tokenizes r and calls visit for every string value found at /url,
// /webpage_url, /entries/<n>/url or /entries/<n>/webpage_url. When the
// document is a top-level array its elements are matched like entries.
// Scan stops after the top-level value closes.
func Scan(r io.Reader, visit func(Field, string)) error {
	dec := jsontext.NewDecoder(r,
		jsontext.AllowDuplicateNames(true),
		jsontext.AllowInvalidUTF8(true),
	)

	first, err := dec.ReadToken()
	if err != nil {
		return readErr(err)
	}
	var topArray bool
	switch first.Kind() {
	case '{':
	case '[':
		topArray = true
	default:
		return fmt.Errorf("%w: %s", ErrUnexpectedToken, first.Kind())
	}

	for dec.StackDepth() > 0 {
		tok, err := dec.ReadToken()
		if err != nil {
			return readErr(err)
		}
		if tok.Kind() != '"' {
			continue
		}
		if kind, length := dec.StackIndex(dec.StackDepth()); kind == '{' && length%2 == 1 {
			// object member name, not a value
			continue
		}
		if f := match(string(dec.StackPointer()), topArray); f != 0 {
			visit(f, tok.String())
		}
	}
	return nil
}

func readErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", ErrPrematureEOF, err)
	}
	return fmt.Errorf("read json token: %w", err)
}

// match maps a JSON Pointer to the collection it feeds, or 0.
func match(pointer string, topArray bool) Field {
	segs := strings.Split(strings.TrimPrefix(pointer, "/"), "/")
	var leaf string
	switch {
	case !topArray && len(segs) == 1:
		leaf = segs[0]
	case !topArray && len(segs) == 3 && segs[0] == "entries" && isIndex(segs[1]):
		leaf = segs[2]
	case topArray && len(segs) == 2 && isIndex(segs[0]):
		leaf = segs[1]
	default:
		return 0
	}
	switch leaf {
	case "url":
		return FieldVideoURL
	case "webpage_url":
		return FieldPageURL
	default:
		return 0
	}
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
