// Package fetch streams remote resources into a sink.
package fetch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// BufferSize is the window used on both ends of a download.
const BufferSize = 8 << 10

// Error wraps any failure to obtain or read a remote stream.
type Error struct {
	URL string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("fetch %s: %v", e.URL, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// StatusError is returned by HTTPTransport for non-2xx responses.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string { return "unexpected status " + e.Status }

// Transport opens a byte stream for a URL. The caller closes it.
type Transport interface {
	Open(ctx context.Context, url string) (io.ReadCloser, error)
}

// HTTPTransport is a Transport over net/http.
type HTTPTransport struct {
	Client    *http.Client // nil => http.DefaultClient
	UserAgent string
}

func (t *HTTPTransport) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if t.UserAgent != "" {
		req.Header.Set("User-Agent", t.UserAgent)
	}
	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// drain a little so the connection can be reused
		_, _ = io.CopyN(io.Discard, resp.Body, BufferSize)
		_ = resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}
	return resp.Body, nil
}

// Fetcher holds no state between calls.
type Fetcher struct {
	Transport Transport
}

func New(t Transport) *Fetcher {
	if t == nil {
		t = &HTTPTransport{}
	}
	return &Fetcher{Transport: t}
}

// Download copies the resource at url into sink. The stream is closed on
// every path. Failures reading from the transport come back as *Error;
// failures writing to sink are returned wrapped but are not *Error.
func (f *Fetcher) Download(ctx context.Context, url string, sink io.Writer) (err error) {
	rc, err := f.Transport.Open(ctx, url)
	if err != nil {
		return &Error{URL: url, Err: err}
	}
	defer func() {
		if cerr := rc.Close(); cerr != nil && err == nil {
			err = &Error{URL: url, Err: cerr}
		}
	}()

	src := &sourceReader{r: bufio.NewReaderSize(rc, BufferSize)}
	bw := bufio.NewWriterSize(sink, BufferSize)
	if _, err := io.Copy(bw, src); err != nil {
		if src.err != nil {
			return &Error{URL: url, Err: src.err}
		}
		return fmt.Errorf("write sink: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write sink: %w", err)
	}
	return nil
}

// sourceReader remembers the first non-EOF read error so Download can tell
// it apart from a sink failure.
type sourceReader struct {
	r   io.Reader
	err error
}

func (s *sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) && s.err == nil {
		s.err = err
	}
	return n, err
}

// Open returns the resource at url behind an 8 KiB read buffer, for
// decoding straight from the network.
func (f *Fetcher) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	rc, err := f.Transport.Open(ctx, url)
	if err != nil {
		return nil, &Error{URL: url, Err: err}
	}
	return &bufferedStream{Reader: bufio.NewReaderSize(rc, BufferSize), rc: rc, url: url}, nil
}

type bufferedStream struct {
	*bufio.Reader
	rc  io.ReadCloser
	url string
}

func (s *bufferedStream) Read(p []byte) (int, error) {
	n, err := s.Reader.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		err = &Error{URL: s.url, Err: err}
	}
	return n, err
}

func (s *bufferedStream) Close() error { return s.rc.Close() }
