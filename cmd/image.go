package cmd

import (
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/achilleasa/rayforge/types"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// Encode img using the format implied by the extension of imgFile.
func writeImage(imgFile string, img image.Image) error {
	var encode func(f *os.File) error
	switch strings.ToLower(filepath.Ext(imgFile)) {
	case ".png":
		encode = func(f *os.File) error { return png.Encode(f, img) }
	case ".tif", ".tiff":
		encode = func(f *os.File) error {
			return tiff.Encode(f, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
		}
	case ".bmp":
		encode = func(f *os.File) error { return bmp.Encode(f, img) }
	default:
		return fmt.Errorf("unsupported image format %q", filepath.Ext(imgFile))
	}

	start := time.Now()
	f, err := os.Create(imgFile)
	if err != nil {
		return err
	}
	if err = encode(f); err != nil {
		f.Close()
		return fmt.Errorf("error encoding %s: %w", imgFile, err)
	}
	if err = f.Close(); err != nil {
		return err
	}

	logger.Noticef("wrote frame to %s in %d ms", imgFile, time.Since(start).Nanoseconds()/1000000)
	return nil
}

// Tonemap a float image with a fixed exposure and a 2.2 gamma curve.
func tonemap(w, h int, texels []types.Vec3, exposure float32) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i, texel := range texels {
		px := img.Pix[4*i : 4*i+4]
		for c := 0; c < 3; c++ {
			v := math.Pow(float64(max(texel[c]*exposure, 0)), 1/2.2)
			px[c] = uint8(min(v, 1) * 255)
		}
		px[3] = 255
	}
	return img
}
