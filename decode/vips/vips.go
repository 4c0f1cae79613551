// Package vips decodes images with libvips. JPEG sources are shrunk while
// loading; other formats are loaded whole and resized. Callers own the libvips
// lifecycle (vips.Startup / vips.Shutdown).
package vips

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"io"

	"github.com/cshum/vipsgen/vips"

	"github.com/unkn0wn-root/imgcache/decode"
)

var jpegMagic = []byte{0xff, 0xd8, 0xff}

// Decoder implements imgcache.Decoder[image.Image].
type Decoder struct {
	// Kernel used by Resize. Zero => lanczos3.
	Kernel vips.Kernel
}

func (d Decoder) Decode(r io.Reader, maxW, maxH int) (image.Image, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("vips: decode bounds: %w", err)
	}
	factor := decode.SampleSize(cfg.Width, cfg.Height, maxW, maxH)

	img, err := d.load(buf, factor)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	// shrink-on-load may stop short of the factor
	if want := cfg.Width / factor; factor > 1 && img.Width() > want && want > 0 {
		opts := vips.DefaultResizeOptions()
		opts.Kernel = d.kernel()
		if err := img.Resize(float64(want)/float64(img.Width()), opts); err != nil {
			return nil, fmt.Errorf("vips: resize: %w", err)
		}
	}

	out, err := img.PngsaveBuffer(vips.DefaultPngsaveBufferOptions())
	if err != nil {
		return nil, fmt.Errorf("vips: export: %w", err)
	}
	return png.Decode(bytes.NewReader(out))
}

func (d Decoder) load(buf []byte, factor int) (*vips.Image, error) {
	if bytes.HasPrefix(buf, jpegMagic) && factor > 1 {
		opts := vips.DefaultJpegloadBufferOptions()
		opts.Shrink = min(factor, 8)
		img, err := vips.NewJpegloadBuffer(buf, opts)
		if err != nil {
			return nil, fmt.Errorf("vips: jpeg load: %w", err)
		}
		return img, nil
	}
	img, err := vips.NewImageFromBuffer(buf, nil)
	if err != nil {
		return nil, fmt.Errorf("vips: load: %w", err)
	}
	return img, nil
}

func (d Decoder) kernel() vips.Kernel {
	if d.Kernel == 0 {
		return vips.KernelLanczos3
	}
	return d.Kernel
}
