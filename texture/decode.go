// Package texture loads an image from disk and uploads it to a device local
// Vulkan image which the frame loop can blit from.
package texture

import (
	"image"
	"io"
	"io/fs"

	// Used for decoding textures
	_ "image/jpeg"
	_ "image/png"

	_ "github.com/lmittmann/ppm"
	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Load decodes the image name from fsys.
func Load(fsys fs.FS, name string) (*image.RGBA, error) {
	fh, err := fsys.Open(name)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open texture file")
	}
	defer fh.Close()

	img, err := Decode(fh)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %s", name)
	}
	return img, nil
}

// Decode reads a PNG, JPEG, BMP, WebP or binary (P6) PPM image and returns
// it as tightly packed RGBA with its bounds starting at the origin.
func Decode(r io.Reader) (*image.RGBA, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode texture image")
	}

	b := img.Bounds()
	if b.Empty() {
		return nil, errors.Errorf("texture has no pixels: %v", b)
	}

	if rgba, ok := img.(*image.RGBA); ok &&
		rgba.Rect.Min == (image.Point{}) &&
		rgba.Stride == 4*b.Dx() {
		return rgba, nil
	}

	// convert the image to RGBA if it is not already
	rgbaImg := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgbaImg, rgbaImg.Bounds(), img, b.Min, draw.Src)
	return rgbaImg, nil
}
