package jsonscan

import "github.com/JakeFAU/mediacrawler/internal/scratch"

// Results holds what one discovery run produced. It is filled while the tool
// output streams and is not modified afterwards.
type Results struct {
	VideoURLs []string
	PageURLs  []string
	// Payload holds the raw tool output. It belongs to the worker that ran
	// the tool and is reset before that worker's next run.
	Payload *scratch.Buffer
}

// Add appends v to the collection named by f. It has the signature Scan
// expects of its visit func.
func (r *Results) Add(f Field, v string) {
	switch f {
	case FieldVideoURL:
		r.VideoURLs = append(r.VideoURLs, v)
	case FieldPageURL:
		r.PageURLs = append(r.PageURLs, v)
	}
}
