// Package sha1 provides the SHA-1 content digests used in crawl logs and
// archive records.
package sha1

import (
	"crypto/sha1" //nolint:gosec // SHA-1 is the archival digest format, not a security boundary.
	"encoding/base32"
	"fmt"
	"io"
)

// Scheme prefixes every digest string produced by Hasher.
const Scheme = "sha1:"

// Hasher implements crawler.Hasher using SHA-1.
type Hasher struct{}

// New returns a SHA-1 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns the "sha1:BASE32" digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha1.Sum(data) //nolint:gosec
	return Format(sum[:]), nil
}

// HashReader consumes r and returns the raw digest and its scheme string.
func (h *Hasher) HashReader(r io.Reader) ([]byte, string, error) {
	d := sha1.New() //nolint:gosec
	if _, err := io.Copy(d, r); err != nil {
		return nil, "", fmt.Errorf("hash stream: %w", err)
	}
	raw := d.Sum(nil)
	return raw, Format(raw), nil
}

// Format renders a raw digest in scheme form.
func Format(raw []byte) string {
	return Scheme + base32.StdEncoding.EncodeToString(raw)
}
