package fetch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type trackingBody struct {
	io.Reader
	closed bool
}

func (b *trackingBody) Close() error { b.closed = true; return nil }

type stubTransport struct {
	body *trackingBody
	err  error
}

func (s *stubTransport) Open(context.Context, string) (io.ReadCloser, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.body, nil
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestDownloadCopiesBody(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 3*BufferSize+17)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	var sink bytes.Buffer
	f := New(&HTTPTransport{Client: srv.Client()})
	require.NoError(t, f.Download(context.Background(), srv.URL+"/a.jpg", &sink))
	assert.Equal(t, payload, sink.Bytes())
}

func TestDownloadNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	err := New(&HTTPTransport{Client: srv.Client()}).Download(context.Background(), srv.URL, io.Discard)
	var fe *Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, srv.URL, fe.URL)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
}

func TestDownloadSinkFailureIsNotTransportError(t *testing.T) {
	body := &trackingBody{Reader: strings.NewReader(strings.Repeat("y", 2*BufferSize))}
	err := New(&stubTransport{body: body}).Download(context.Background(), "stub://x", failingWriter{})
	require.Error(t, err)
	var fe *Error
	assert.False(t, errors.As(err, &fe), "sink failure must not look like a transport failure")
	assert.Contains(t, err.Error(), "disk full")
	assert.True(t, body.closed)
}

type brokenReader struct{ sent bool }

func (r *brokenReader) Read(p []byte) (int, error) {
	if !r.sent {
		r.sent = true
		return copy(p, "partial"), nil
	}
	return 0, errors.New("connection reset")
}

func TestDownloadReadFailureIsTransportError(t *testing.T) {
	body := &trackingBody{Reader: &brokenReader{}}
	var sink bytes.Buffer
	err := New(&stubTransport{body: body}).Download(context.Background(), "stub://x", &sink)
	var fe *Error
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, err.Error(), "connection reset")
	assert.True(t, body.closed)
}

func TestDownloadTransportFailure(t *testing.T) {
	err := New(&stubTransport{err: errors.New("connection refused")}).Download(context.Background(), "stub://x", io.Discard)
	var fe *Error
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestOpenBuffersAndCloses(t *testing.T) {
	body := &trackingBody{Reader: strings.NewReader("hello")}
	rc, err := New(&stubTransport{body: body}).Open(context.Background(), "stub://x")
	require.NoError(t, err)
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))
	require.NoError(t, rc.Close())
	assert.True(t, body.closed)
}
