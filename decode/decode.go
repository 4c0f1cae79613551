// Package decode turns fetched bytes into bounded in-memory images.
package decode

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// SampleSize returns the power-of-two downsample factor for a w x h source
// shown in reqW x reqH: starting at 1, it doubles while both halved source
// dimensions divided by the factor still cover the request. Either bound 0
// means no downsampling.
func SampleSize(w, h, reqW, reqH int) int {
	if reqW <= 0 || reqH <= 0 {
		return 1
	}
	factor := 1
	if w > reqW || h > reqH {
		halfW, halfH := w/2, h/2
		for halfW/factor >= reqW && halfH/factor >= reqH {
			factor *= 2
		}
	}
	return factor
}

// ImageSize is the memory footprint of img at 4 bytes per pixel.
func ImageSize(img image.Image) int64 {
	if img == nil {
		return 0
	}
	b := img.Bounds()
	return int64(b.Dx()) * int64(b.Dy()) * 4
}

// Std decodes JPEG, PNG, GIF and WebP with the standard library and
// golang.org/x/image, scaling the result down by SampleSize.
type Std struct {
	// Scaler resamples downscaled images. nil => draw.ApproxBiLinear.
	Scaler draw.Scaler
}

// Decode reads the header first to pick the sample factor, then the full
// image. Non-seekable readers are buffered in memory for the second pass.
func (d Std) Decode(r io.Reader, maxW, maxH int) (image.Image, error) {
	var first, second io.Reader
	if rs, ok := r.(io.ReadSeeker); ok {
		start, err := rs.Seek(0, io.SeekCurrent)
		if err != nil {
			return nil, err
		}
		first = rs
		second = &rewind{rs: rs, off: start}
	} else {
		b, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		first, second = bytes.NewReader(b), bytes.NewReader(b)
	}

	cfg, _, err := image.DecodeConfig(first)
	if err != nil {
		return nil, fmt.Errorf("decode bounds: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("decode bounds: empty image %dx%d", cfg.Width, cfg.Height)
	}
	factor := SampleSize(cfg.Width, cfg.Height, maxW, maxH)

	src, _, err := image.Decode(second)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if factor == 1 {
		return src, nil
	}
	sb := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, max(sb.Dx()/factor, 1), max(sb.Dy()/factor, 1)))
	scaler := d.Scaler
	if scaler == nil {
		scaler = draw.ApproxBiLinear
	}
	scaler.Scale(dst, dst.Bounds(), src, sb, draw.Src, nil)
	return dst, nil
}

// rewind seeks back to off on first Read.
type rewind struct {
	rs     io.ReadSeeker
	off    int64
	seeked bool
}

func (r *rewind) Read(p []byte) (int, error) {
	if !r.seeked {
		if _, err := r.rs.Seek(r.off, io.SeekStart); err != nil {
			return 0, err
		}
		r.seeked = true
	}
	return r.rs.Read(p)
}
