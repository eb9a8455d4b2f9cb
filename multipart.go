package primp

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"

	"github.com/samber/lo"
)

// BodyEncoder is the contract for pluggable request bodies: anything that
// can name its Content-Type and be read incrementally. The encoder's
// Content-Type always wins over a caller-supplied Content-Type header.
type BodyEncoder interface {
	io.Reader
	ContentType() string
}

// LengthReporter is optionally implemented by encoders that know their total
// size up front, letting the request carry a Content-Length.
type LengthReporter interface {
	Len() int64
}

// ProgressReporter is optionally implemented by encoders that track how much
// of the body has been consumed.
type ProgressReporter interface {
	BytesRead() int64
}

// File describes one part of a multipart upload. Either Path or Content must
// be set; Name and MIME are inferred when empty.
type File struct {
	// Field is the form field name.
	Field string
	// Path reads the part's content from disk at stream time.
	Path string
	// Content supplies the part's bytes directly, taking precedence over Path.
	Content []byte
	// Name is the filename sent to the server.
	Name string
	// MIME is the part's Content-Type.
	MIME string
}

func (f File) filename() string {
	if f.Name != "" {
		return f.Name
	}
	if f.Path != "" {
		return filepath.Base(f.Path)
	}
	return f.Field
}

func (f File) contentType() string {
	if f.MIME != "" {
		return f.MIME
	}
	if ct := mime.TypeByExtension(filepath.Ext(f.filename())); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func (f File) size() (int64, error) {
	if f.Content != nil {
		return int64(len(f.Content)), nil
	}
	info, err := os.Stat(f.Path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (f File) open() (io.ReadCloser, error) {
	if f.Content != nil {
		return io.NopCloser(bytes.NewReader(f.Content)), nil
	}
	return os.Open(f.Path)
}

// MultipartEncoder streams a multipart/form-data body without buffering the
// file contents in memory. It implements BodyEncoder, LengthReporter and
// ProgressReporter.
type MultipartEncoder struct {
	contentType string
	boundary    string
	totalLen    int64
	bytesRead   atomic.Int64

	pipe   *io.PipeReader
	writer *io.PipeWriter

	fields map[string]string
	files  []File
	order  []string
}

// NewMultipartEncoder builds an encoder over form fields and files. The
// total length is computed up front so the request carries Content-Length;
// file contents themselves are read lazily during the request.
func NewMultipartEncoder(fields map[string]string, files []File) (*MultipartEncoder, error) {
	for i, f := range files {
		if f.Field == "" {
			return nil, &EncodingError{What: "multipart", Err: fmt.Errorf("file %d has no field name", i)}
		}
		if f.Content == nil && f.Path == "" {
			return nil, &EncodingError{What: "multipart", Err: fmt.Errorf("file field %q has neither path nor content", f.Field)}
		}
	}

	e := &MultipartEncoder{fields: fields, files: files}
	if err := e.measure(); err != nil {
		return nil, &EncodingError{What: "multipart", Err: err}
	}
	e.start()
	return e, nil
}

// measure does a dry run that writes every part header (and the field
// values, which are in memory anyway) through a counting writer with the
// final boundary, then adds the known file sizes. The result is the exact
// encoded length.
func (e *MultipartEncoder) measure() error {
	var count countingWriter
	mw := multipart.NewWriter(&count)
	e.boundary = mw.Boundary()
	e.contentType = mw.FormDataContentType()

	e.order = sortedKeys(e.fields)
	for _, name := range e.order {
		if err := mw.WriteField(name, e.fields[name]); err != nil {
			return err
		}
	}
	var fileBytes int64
	for _, f := range e.files {
		if _, err := createFilePart(mw, f); err != nil {
			return err
		}
		size, err := f.size()
		if err != nil {
			return err
		}
		fileBytes += size
	}
	if err := mw.Close(); err != nil {
		return err
	}
	e.totalLen = count.n + fileBytes
	return nil
}

// start launches the producing goroutine. The pipe writer is closed with any
// encoding error so the consumer sees it from Read.
func (e *MultipartEncoder) start() {
	pr, pw := io.Pipe()
	e.pipe, e.writer = pr, pw

	go func() {
		mw := multipart.NewWriter(pw)
		// The boundary must match the one the dry run advertised.
		if err := mw.SetBoundary(e.boundary); err != nil {
			pw.CloseWithError(err)
			return
		}
		for _, name := range e.order {
			if err := mw.WriteField(name, e.fields[name]); err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		for _, f := range e.files {
			part, err := createFilePart(mw, f)
			if err != nil {
				pw.CloseWithError(err)
				return
			}
			src, err := f.open()
			if err != nil {
				pw.CloseWithError(err)
				return
			}
			_, err = io.Copy(part, src)
			src.Close()
			if err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		pw.CloseWithError(mw.Close())
	}()
}

func createFilePart(mw *multipart.Writer, f File) (io.Writer, error) {
	h := make(textproto.MIMEHeader, 2)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.Field, f.filename()))
	h.Set("Content-Type", f.contentType())
	return mw.CreatePart(h)
}

func (e *MultipartEncoder) Read(p []byte) (int, error) {
	n, err := e.pipe.Read(p)
	e.bytesRead.Add(int64(n))
	return n, err
}

// ContentType returns the multipart content type with its boundary.
func (e *MultipartEncoder) ContentType() string { return e.contentType }

// Len returns the exact encoded body length.
func (e *MultipartEncoder) Len() int64 { return e.totalLen }

// BytesRead returns how many body bytes have been consumed so far.
func (e *MultipartEncoder) BytesRead() int64 { return e.bytesRead.Load() }

// Close aborts the producing goroutine when the body is abandoned early.
func (e *MultipartEncoder) Close() error {
	return e.pipe.Close()
}

// ProgressFunc receives upload progress. total is negative when the encoder
// does not report its length.
type ProgressFunc func(bytesRead, total int64)

// MultipartMonitor wraps a BodyEncoder and reports consumption progress on
// every read. It forwards Len and BytesRead from the wrapped encoder when
// available.
type MultipartMonitor struct {
	inner     BodyEncoder
	onRead    ProgressFunc
	bytesRead atomic.Int64
}

// NewMultipartMonitor wraps enc, invoking onRead after each successful read.
func NewMultipartMonitor(enc BodyEncoder, onRead ProgressFunc) *MultipartMonitor {
	return &MultipartMonitor{inner: enc, onRead: onRead}
}

func (m *MultipartMonitor) Read(p []byte) (int, error) {
	n, err := m.inner.Read(p)
	if n > 0 {
		read := m.bytesRead.Add(int64(n))
		if m.onRead != nil {
			m.onRead(read, m.total())
		}
	}
	return n, err
}

// ContentType forwards the wrapped encoder's content type.
func (m *MultipartMonitor) ContentType() string { return m.inner.ContentType() }

// Len forwards the wrapped encoder's length, or -1 when unknown.
func (m *MultipartMonitor) Len() int64 { return m.total() }

// BytesRead returns how many bytes have passed through the monitor.
func (m *MultipartMonitor) BytesRead() int64 { return m.bytesRead.Load() }

func (m *MultipartMonitor) total() int64 {
	if lr, ok := m.inner.(LengthReporter); ok {
		return lr.Len()
	}
	return -1
}

func sortedKeys(m map[string]string) []string {
	keys := lo.Keys(m)
	sort.Strings(keys)
	return keys
}

type countingWriter struct{ n int64 }

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += int64(len(p))
	return len(p), nil
}
