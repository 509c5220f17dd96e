// Package preview turns downloaded preview images into bounded JPEG thumbnails.
package preview

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"

	// Registered decoders.
	_ "image/gif"
	_ "image/png"

	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Extension is the extension of every stored preview.
const Extension = ".jpg"

// Quality is the JPEG quality used for stored previews.
const Quality = 90

// Normalize decodes an image in any registered format from r, shrinks it so its
// longest edge is at most maxSize pixels and writes it to w as JPEG. Images
// already within bounds are re-encoded at their original size. Transparent areas
// are flattened onto white. It returns the detected source format.
func Normalize(r io.Reader, w io.Writer, maxSize int) (string, error) {
	src, format, err := image.Decode(r)
	if err != nil {
		return "", fmt.Errorf("failed to decode preview image: %w", err)
	}

	b := src.Bounds()
	width, height := Fit(b.Dx(), b.Dy(), maxSize)

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, xdraw.Src)
	if width == b.Dx() && height == b.Dy() {
		xdraw.Draw(dst, dst.Bounds(), src, b.Min, xdraw.Over)
	} else {
		xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, b, xdraw.Over, nil)
	}

	if err := jpeg.Encode(w, dst, &jpeg.Options{Quality: Quality}); err != nil {
		return format, fmt.Errorf("failed to encode preview image: %w", err)
	}
	return format, nil
}

// Fit scales width x height down, keeping the aspect ratio, so that neither edge
// exceeds maxSize. Non-positive maxSize leaves the size unchanged. Edges never
// shrink below one pixel.
func Fit(width, height, maxSize int) (int, int) {
	if maxSize <= 0 || (width <= maxSize && height <= maxSize) {
		return width, height
	}
	if width >= height {
		h := height * maxSize / width
		return maxSize, max(h, 1)
	}
	w := width * maxSize / height
	return max(w, 1), maxSize
}
