package jsonscan

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scan(t *testing.T, doc string) (*Results, error) {
	t.Helper()
	res := &Results{}
	err := Scan(strings.NewReader(doc), res.Add)
	return res, err
}

func TestScanSingleObject(t *testing.T) {
	t.Parallel()

	res, err := scan(t, `{"id":"abc","url":"http://m/v.mp4","webpage_url":"http://x/watch","duration":12.5,"formats":[{"url":"http://m/ignored"}]}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://m/v.mp4"}, res.VideoURLs)
	assert.Equal(t, []string{"http://x/watch"}, res.PageURLs)
}

func TestScanEntriesKeepOrder(t *testing.T) {
	t.Parallel()

	doc := `{"_type":"playlist","webpage_url":"http://x/list","entries":[
		{"url":"http://m/1.mp4","webpage_url":"http://x/1","thumbnails":[{"url":"http://t/1.jpg"}]},
		{"webpage_url":"http://x/2","url":"http://m/2.mp4"},
		{"url":"http://m/3.mp4"}
	]}`
	res, err := scan(t, doc)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://m/1.mp4", "http://m/2.mp4", "http://m/3.mp4"}, res.VideoURLs)
	assert.Equal(t, []string{"http://x/list", "http://x/1", "http://x/2"}, res.PageURLs)
}

func TestScanIgnoresNamesAndNonStringValues(t *testing.T) {
	t.Parallel()

	res, err := scan(t, `{"url":null,"title":"url","webpage_url":42,"nested":{"url":"http://no/"},"entries":[{"url":7}]}`)
	require.NoError(t, err)
	assert.Empty(t, res.VideoURLs)
	assert.Empty(t, res.PageURLs)
}

func TestScanTopLevelArray(t *testing.T) {
	t.Parallel()

	res, err := scan(t, `[{"url":"http://m/a"},{"webpage_url":"http://x/b"},"http://not/this"]`)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://m/a"}, res.VideoURLs)
	assert.Equal(t, []string{"http://x/b"}, res.PageURLs)
}

func TestScanTopLevelObjectIgnoresNumericKeys(t *testing.T) {
	t.Parallel()

	res, err := scan(t, `{"0":{"url":"http://m/a"}}`)
	require.NoError(t, err)
	assert.Empty(t, res.VideoURLs)
}

func TestScanRejectsTopLevelScalar(t *testing.T) {
	t.Parallel()

	for _, doc := range []string{`"http://x/"`, `42`, `null`, `true`} {
		_, err := scan(t, doc)
		assert.ErrorIs(t, err, ErrUnexpectedToken, doc)
	}
}

func TestScanEmptyInputIsPremature(t *testing.T) {
	t.Parallel()

	_, err := scan(t, "")
	assert.ErrorIs(t, err, ErrPrematureEOF)
	_, err = scan(t, "   \n")
	assert.ErrorIs(t, err, ErrPrematureEOF)
}

func TestScanSyntaxErrorIsNotPremature(t *testing.T) {
	t.Parallel()

	_, err := scan(t, `{"url":"http://m/a",,}`)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrPrematureEOF))
	assert.False(t, errors.Is(err, ErrUnexpectedToken))
}

func TestScanTruncationAtEveryByte(t *testing.T) {
	t.Parallel()

	doc := `{"webpage_url":"http://x/list","entries":[{"url":"http://m/1.mp4","webpage_url":"http://x/1"},{"url":"http://m/2.mp4"}]}`
	full, err := scan(t, doc)
	require.NoError(t, err)
	require.Len(t, full.VideoURLs, 2)
	require.Len(t, full.PageURLs, 2)

	// A value is reported once its closing quote has been read.
	complete := func(values []string, cut int) int {
		n := 0
		for _, v := range values {
			if end := strings.Index(doc, `"`+v+`"`) + len(v) + 2; end <= cut {
				n++
			}
		}
		return n
	}

	for cut := 0; cut < len(doc); cut++ {
		t.Run(fmt.Sprintf("cut=%d", cut), func(t *testing.T) {
			res, err := scan(t, doc[:cut])
			require.ErrorIs(t, err, ErrPrematureEOF)

			videos := complete(full.VideoURLs, cut)
			require.Len(t, res.VideoURLs, videos)
			if videos > 0 {
				assert.Equal(t, full.VideoURLs[:videos], res.VideoURLs)
			}
			pages := complete(full.PageURLs, cut)
			require.Len(t, res.PageURLs, pages)
			if pages > 0 {
				assert.Equal(t, full.PageURLs[:pages], res.PageURLs)
			}
		})
	}
}

func TestScanKeepsValuesReadBeforeCut(t *testing.T) {
	t.Parallel()

	doc := `{"entries":[{"url":"http://m/1.mp4"},{"url":"http://m/2.mp4"}]}`
	cut := strings.Index(doc, `"http://m/1.mp4"`) + len(`"http://m/1.mp4"`)

	res, err := scan(t, doc[:cut])
	require.ErrorIs(t, err, ErrPrematureEOF)
	assert.Equal(t, []string{"http://m/1.mp4"}, res.VideoURLs)
	assert.Empty(t, res.PageURLs)
}

func TestScanStopsAfterTopLevelValue(t *testing.T) {
	t.Parallel()

	res, err := scan(t, `{"url":"http://m/a"} {"url":"http://m/b"}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://m/a"}, res.VideoURLs)
}

func TestFieldString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "video", FieldVideoURL.String())
	assert.Equal(t, "page", FieldPageURL.String())
	assert.Equal(t, "unknown", Field(0).String())
}
