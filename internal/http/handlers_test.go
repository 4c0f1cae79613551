package http

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/imgcache"
	"github.com/unkn0wn-root/imgcache/decode"
	"github.com/unkn0wn-root/imgcache/fetch"
	"github.com/unkn0wn-root/imgcache/internal/views"
)

const imageURL = "http://origin.test/cat.png"

type pngOrigin struct {
	body  []byte
	opens atomic.Int64
}

func newPNGOrigin(t *testing.T, w, h int) *pngOrigin {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return &pngOrigin{body: buf.Bytes()}
}

func (o *pngOrigin) Open(_ context.Context, url string) (io.ReadCloser, error) {
	o.opens.Add(1)
	if url != imageURL {
		return nil, &fetch.StatusError{Code: 404, Status: "404 Not Found"}
	}
	return io.NopCloser(bytes.NewReader(o.body)), nil
}

func newTestServer(t *testing.T, origin fetch.Transport) (*httptest.Server, *imgcache.Loader[image.Image]) {
	t.Helper()
	loader, err := imgcache.New[image.Image](imgcache.Options[image.Image]{
		Decoder:        decode.Std{},
		SizeOf:         decode.ImageSize,
		MemoryCapacity: 8 << 20,
		FS:             memfs.New(),
		CacheDir:       "/cache",
		DiskCapacity:   8 << 20,
		UsableSpace:    func(string) (int64, error) { return 1 << 40, nil },
		Transport:      origin,
		Workers:        2,
	})
	require.NoError(t, err)

	registry := views.NewRegistry(0, 0)
	srv := httptest.NewServer(New(zap.NewNop(), loader, registry).Routes())
	t.Cleanup(func() {
		srv.Close()
		_ = registry.Close(context.Background())
		_ = loader.Close(context.Background())
	})
	return srv, loader
}

func decodeJPEG(t *testing.T, resp *nethttp.Response) image.Image {
	t.Helper()
	require.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	img, err := jpeg.Decode(resp.Body)
	require.NoError(t, err)
	return img
}

func TestThumbDownsamples(t *testing.T) {
	origin := newPNGOrigin(t, 64, 48)
	srv, loader := newTestServer(t, origin)

	resp, err := nethttp.Get(srv.URL + "/thumb?url=" + imageURL + "&w=16&h=12")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, nethttp.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	img := decodeJPEG(t, resp)
	assert.Equal(t, 16, img.Bounds().Dx())
	assert.Equal(t, 12, img.Bounds().Dy())

	// second request is a memory hit
	resp2, err := nethttp.Get(srv.URL + "/thumb?url=" + imageURL + "&w=16&h=12")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, nethttp.StatusOK, resp2.StatusCode)
	assert.Equal(t, int64(1), origin.opens.Load())
	assert.Equal(t, uint64(1), loader.Stats().MemoryHits)
}

func TestThumbBadRequest(t *testing.T) {
	srv, _ := newTestServer(t, newPNGOrigin(t, 4, 4))

	for _, q := range []string{
		"",
		"?url=ftp://origin.test/x.png",
		"?url=" + imageURL + "&w=-1",
		"?url=" + imageURL + "&h=abc",
	} {
		resp, err := nethttp.Get(srv.URL + "/thumb" + q)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, nethttp.StatusBadRequest, resp.StatusCode, q)
	}
}

func TestThumbOriginFailure(t *testing.T) {
	srv, loader := newTestServer(t, newPNGOrigin(t, 4, 4))

	resp, err := nethttp.Get(srv.URL + "/thumb?url=http://origin.test/missing.png")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, nethttp.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, uint64(1), loader.Stats().Failures)
}

func TestViewLifecycle(t *testing.T) {
	srv, _ := newTestServer(t, newPNGOrigin(t, 32, 32))

	resp, err := nethttp.Post(srv.URL+"/views", "", nil)
	require.NoError(t, err)
	var created map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	require.Equal(t, nethttp.StatusCreated, resp.StatusCode)
	id := created["id"]
	require.NotEmpty(t, id)

	// nothing delivered yet
	resp, err = nethttp.Get(srv.URL + "/views/" + id)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, nethttp.StatusNotFound, resp.StatusCode)

	req, err := nethttp.NewRequest(nethttp.MethodPut, srv.URL+"/views/"+id+"?url="+imageURL+"&w=8&h=8", nil)
	require.NoError(t, err)
	resp, err = nethttp.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, nethttp.StatusAccepted, resp.StatusCode)

	var img image.Image
	require.Eventually(t, func() bool {
		r, err := nethttp.Get(srv.URL + "/views/" + id)
		if err != nil {
			return false
		}
		defer r.Body.Close()
		if r.StatusCode != nethttp.StatusOK {
			return false
		}
		assert.Equal(t, imageURL, r.Header.Get("X-Image-Source"))
		img = decodeJPEG(t, r)
		return true
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 8, img.Bounds().Dx())
}

func TestViewBadID(t *testing.T) {
	srv, _ := newTestServer(t, newPNGOrigin(t, 4, 4))

	resp, err := nethttp.Get(srv.URL + "/views/not-a-uuid")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, nethttp.StatusBadRequest, resp.StatusCode)
}

func TestStatsAndHealth(t *testing.T) {
	srv, _ := newTestServer(t, newPNGOrigin(t, 4, 4))

	resp, err := nethttp.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	resp, err = nethttp.Get(srv.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	var stats map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, true, stats["disk_enabled"])
	assert.Equal(t, float64(0), stats["views"])
	assert.Contains(t, stats, "MemoryHits")
}
