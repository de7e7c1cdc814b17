// Package archive serializes capture records into rotating WARC files and
// ships finished files to a blob store.
package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/JakeFAU/mediacrawler/internal/crawler"
)

// ErrLengthMismatch reports a length-enforced record whose content stream
// yielded a different number of bytes than declared.
var ErrLengthMismatch = errors.New("record content length mismatch")

// RecordType is the WARC-Type of a record.
type RecordType string

// Record types written by this module.
const (
	TypeWarcinfo RecordType = "warcinfo"
	TypeResponse RecordType = "response"
	TypeMetadata RecordType = "metadata"
)

// Header is an additional named record header.
type Header struct {
	Name  string
	Value string
}

// Record is one archive record ready to be written. Content is consumed and
// closed by the writer.
type Record struct {
	Type RecordType
	// ID is the record id in "<urn:uuid:...>" form.
	ID string
	// ConcurrentTo, when set, is the id of the record this one accompanies.
	ConcurrentTo string
	URL          string
	// Date14 is the capture time as a 14-digit timestamp.
	Date14        string
	ContentType   string
	EnforceLength bool
	Length        int64
	Content       io.Reader
	BlockDigest   string
	Headers       []Header

	// Filled in by the writer.
	Filename string
	Offset   int64
}

// RecordBuilder contributes extra records for a resource after its own record
// has been written.
type RecordBuilder interface {
	ShouldBuildRecord(res *crawler.Resource) bool
	BuildRecord(res *crawler.Resource, concurrentTo string) (*Record, error)
	PostWrite(rec *Record, res *crawler.Resource)
}

// ResponseRecord builds the response record for a fetched HTTP resource from
// its status, headers and body.
func ResponseRecord(res *crawler.Resource, id string) *Record {
	var block bytes.Buffer
	fmt.Fprintf(&block, "HTTP/1.1 %d %s\r\n", res.FetchStatus, http.StatusText(res.FetchStatus))
	names := make([]string, 0, len(res.Headers))
	for name := range res.Headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, v := range res.Headers[name] {
			fmt.Fprintf(&block, "%s: %s\r\n", name, strings.ReplaceAll(v, "\r\n", " "))
		}
	}
	block.WriteString("\r\n")
	block.Write(res.Body)

	rec := &Record{
		Type:          TypeResponse,
		ID:            id,
		URL:           res.URL,
		Date14:        crawler.Format14(res.FetchBegin),
		ContentType:   "application/http;msgtype=response",
		EnforceLength: true,
		Length:        int64(block.Len()),
		Content:       &block,
	}
	if res.ContentDigest != "" {
		rec.Headers = append(rec.Headers, Header{Name: "WARC-Payload-Digest", Value: res.ContentDigest})
	}
	return rec
}
