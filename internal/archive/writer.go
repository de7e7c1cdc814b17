package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/JakeFAU/mediacrawler/internal/crawler"
)

const (
	warcVersion  = "WARC/1.1"
	warcMIME     = "application/warc"
	defaultLimit = 1 << 30
)

// Config controls file naming, rotation and upload.
type Config struct {
	// Dir is the directory the writer fills on its file system.
	Dir string
	// Prefix starts every file name.
	Prefix string
	// MaxSize rotates the current file once it reaches this many bytes.
	MaxSize int64
	// UploadPrefix is prepended to the object path of uploaded files.
	UploadPrefix string
	// KeepLocal keeps finished files on disk after a successful upload.
	KeepLocal bool
	// Software is reported in each file's warcinfo record.
	Software string
}

// IDSource produces record ids.
type IDSource interface {
	NewRecordID() (string, error)
}

// Writer appends records to the current archive file. It is safe for
// concurrent use.
type Writer struct {
	fs     afero.Fs
	cfg    Config
	store  crawler.BlobStore
	ids    IDSource
	clock  crawler.Clock
	logger *zap.Logger

	mu      sync.Mutex
	file    afero.File
	name    string
	size    int64
	serial  int
	uploads []string
}

// NewWriter builds a Writer. A nil store leaves finished files on fs.
func NewWriter(fs afero.Fs, cfg Config, store crawler.BlobStore, ids IDSource, clock crawler.Clock, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = defaultLimit
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "MEDIACRAWLER"
	}
	if cfg.Software == "" {
		cfg.Software = "mediacrawler"
	}
	return &Writer{
		fs:     fs,
		cfg:    cfg,
		store:  store,
		ids:    ids,
		clock:  clock,
		logger: logger.Named("archive"),
	}
}

// Write appends rec to the current file, filling rec.Filename and rec.Offset.
// On failure the partial record is cut from the file. The content stream is
// closed if it implements io.Closer.
func (w *Writer) Write(ctx context.Context, rec *Record) error {
	if closer, ok := rec.Content.(io.Closer); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				w.logger.Debug("close record content", zap.String("url", rec.URL), zap.Error(err))
			}
		}()
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ensureFile(); err != nil {
		return err
	}
	offset := w.size
	n, err := w.writeRecord(rec)
	if err != nil {
		if cutErr := w.cut(offset); cutErr != nil {
			w.logger.Warn("cut partial record", zap.String("file", w.name), zap.Error(cutErr))
		}
		return fmt.Errorf("write %s record for %s: %w", rec.Type, rec.URL, err)
	}
	w.size += n
	rec.Filename = w.name
	rec.Offset = offset

	if w.size >= w.cfg.MaxSize {
		if err := w.rotate(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close finishes the current file and uploads it.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rotate(ctx)
}

// Uploaded returns the URIs of files shipped to the blob store so far.
func (w *Writer) Uploaded() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.uploads...)
}

func (w *Writer) ensureFile() error {
	if w.file != nil {
		return nil
	}
	if err := w.fs.MkdirAll(w.cfg.Dir, 0o750); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	now := w.clock.Now()
	name := fmt.Sprintf("%s-%s-%05d.warc", w.cfg.Prefix, crawler.Format17(now), w.serial)
	w.serial++
	f, err := w.fs.OpenFile(filepath.Join(w.cfg.Dir, name+".open"), os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o640)
	if err != nil {
		return fmt.Errorf("open archive file: %w", err)
	}
	w.file = f
	w.name = name
	w.size = 0

	info, err := w.warcinfo(now)
	if err != nil {
		return err
	}
	n, err := w.writeRecord(info)
	if err != nil {
		return fmt.Errorf("write warcinfo: %w", err)
	}
	w.size = n
	return nil
}

func (w *Writer) warcinfo(now time.Time) (*Record, error) {
	id, err := w.ids.NewRecordID()
	if err != nil {
		return nil, fmt.Errorf("warcinfo id: %w", err)
	}
	body := fmt.Sprintf("software: %s\r\nformat: WARC File Format 1.1\r\n", w.cfg.Software)
	return &Record{
		Type:          TypeWarcinfo,
		ID:            id,
		Date14:        crawler.Format14(now),
		ContentType:   "application/warc-fields",
		EnforceLength: true,
		Length:        int64(len(body)),
		Content:       bytes.NewBufferString(body),
		Headers:       []Header{{Name: "WARC-Filename", Value: w.name}},
	}, nil
}

func (w *Writer) writeRecord(rec *Record) (int64, error) {
	content := rec.Content
	if content == nil {
		content = bytes.NewReader(nil)
	}
	length := rec.Length
	if !rec.EnforceLength && length < 0 {
		data, err := io.ReadAll(content)
		if err != nil {
			return 0, fmt.Errorf("read content: %w", err)
		}
		content = bytes.NewReader(data)
		length = int64(len(data))
	}
	date, err := crawler.Parse14(rec.Date14)
	if err != nil {
		date = w.clock.Now()
	}

	var head bytes.Buffer
	head.WriteString(warcVersion + "\r\n")
	writeHeader(&head, "WARC-Type", string(rec.Type))
	writeHeader(&head, "WARC-Record-ID", rec.ID)
	writeHeader(&head, "WARC-Date", date.UTC().Format(time.RFC3339))
	if rec.URL != "" {
		writeHeader(&head, "WARC-Target-URI", rec.URL)
	}
	if rec.ConcurrentTo != "" {
		writeHeader(&head, "WARC-Concurrent-To", rec.ConcurrentTo)
	}
	if rec.BlockDigest != "" {
		writeHeader(&head, "WARC-Block-Digest", rec.BlockDigest)
	}
	for _, h := range rec.Headers {
		writeHeader(&head, h.Name, h.Value)
	}
	if rec.ContentType != "" {
		writeHeader(&head, "Content-Type", rec.ContentType)
	}
	writeHeader(&head, "Content-Length", fmt.Sprint(length))
	head.WriteString("\r\n")

	total, err := w.file.Write(head.Bytes())
	if err != nil {
		return 0, fmt.Errorf("write headers: %w", err)
	}
	copied, err := io.Copy(w.file, io.LimitReader(content, length))
	if err != nil {
		return 0, fmt.Errorf("write content: %w", err)
	}
	if copied != length {
		return 0, fmt.Errorf("%w: declared %d, got %d", ErrLengthMismatch, length, copied)
	}
	if rec.EnforceLength {
		if extra, _ := io.Copy(io.Discard, io.LimitReader(content, 1)); extra > 0 {
			return 0, fmt.Errorf("%w: declared %d, stream is longer", ErrLengthMismatch, length)
		}
	}
	tail, err := w.file.Write([]byte("\r\n\r\n"))
	if err != nil {
		return 0, fmt.Errorf("write record end: %w", err)
	}
	return int64(total) + copied + int64(tail), nil
}

func writeHeader(b *bytes.Buffer, name, value string) {
	b.WriteString(name)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteString("\r\n")
}

func (w *Writer) cut(offset int64) error {
	if err := w.file.Truncate(offset); err != nil {
		return fmt.Errorf("truncate: %w", err)
	}
	if _, err := w.file.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("seek: %w", err)
	}
	return nil
}

// rotate closes the current file, renames it to its final name and uploads it.
func (w *Writer) rotate(ctx context.Context) error {
	if w.file == nil {
		return nil
	}
	openPath := w.file.Name()
	finalPath := filepath.Join(w.cfg.Dir, w.name)
	name := w.name
	err := w.file.Close()
	w.file = nil
	w.size = 0
	if err != nil {
		return fmt.Errorf("close archive file: %w", err)
	}
	if err := w.fs.Rename(openPath, finalPath); err != nil {
		return fmt.Errorf("finish archive file: %w", err)
	}
	w.logger.Info("archive file finished", zap.String("file", name))
	if w.store == nil {
		return nil
	}
	return w.upload(ctx, finalPath, name)
}

func (w *Writer) upload(ctx context.Context, localPath, name string) error {
	f, err := w.fs.Open(localPath)
	if err != nil {
		return fmt.Errorf("open finished archive: %w", err)
	}
	uri, err := w.store.PutObject(ctx, path.Join(w.cfg.UploadPrefix, name), warcMIME, f)
	closeErr := f.Close()
	if err != nil {
		return fmt.Errorf("upload archive %s: %w", name, err)
	}
	if closeErr != nil {
		w.logger.Debug("close uploaded archive", zap.Error(closeErr))
	}
	w.uploads = append(w.uploads, uri)
	w.logger.Info("archive file uploaded", zap.String("file", name), zap.String("uri", uri))
	if !w.cfg.KeepLocal {
		if err := w.fs.Remove(localPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove uploaded archive: %w", err)
		}
	}
	return nil
}
