package stitch

import (
	"bytes"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"math"

	"golang.org/x/image/draw"
)

const (
	LayoutHorizontal = "horizontal"
	LayoutVertical   = "vertical"

	FilterPolaroid = "polaroid"
	FilterNoir     = "noir"
	FilterWarm     = "warm"

	cellSize     = 900
	dividerWidth = 4
	borderSide   = 24
	borderBottom = 96
	jpegQuality  = 92
)

// Compose fits both frames into equal cells, applies the filter, joins
// them around a white divider and frames the result polaroid-style.
func Compose(imgA, imgB image.Image, layout, filterName string) ([]byte, error) {
	a := applyFilter(fit(imgA), filterName)
	b := applyFilter(fit(imgB), filterName)

	var canvas *image.RGBA
	if layout == LayoutVertical {
		canvas = image.NewRGBA(image.Rect(0, 0, cellSize, cellSize*2+dividerWidth))
		fill(canvas, color.RGBA{255, 255, 255, 255})
		draw.Draw(canvas, image.Rect(0, 0, cellSize, cellSize), a, image.Point{}, draw.Src)
		draw.Draw(canvas, image.Rect(0, cellSize+dividerWidth, cellSize, cellSize*2+dividerWidth), b, image.Point{}, draw.Src)
	} else {
		canvas = image.NewRGBA(image.Rect(0, 0, cellSize*2+dividerWidth, cellSize))
		fill(canvas, color.RGBA{255, 255, 255, 255})
		draw.Draw(canvas, image.Rect(0, 0, cellSize, cellSize), a, image.Point{}, draw.Src)
		draw.Draw(canvas, image.Rect(cellSize+dividerWidth, 0, cellSize*2+dividerWidth, cellSize), b, image.Point{}, draw.Src)
	}

	framed := addBorder(canvas)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, framed, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// fit scales the frame into a square cell, preserving aspect ratio and
// centering on black.
func fit(img image.Image) *image.RGBA {
	canvas := image.NewRGBA(image.Rect(0, 0, cellSize, cellSize))

	srcW := img.Bounds().Dx()
	srcH := img.Bounds().Dy()
	if srcW == 0 || srcH == 0 {
		return canvas
	}
	scale := math.Min(float64(cellSize)/float64(srcW), float64(cellSize)/float64(srcH))
	w := int(float64(srcW) * scale)
	h := int(float64(srcH) * scale)
	ox := (cellSize - w) / 2
	oy := (cellSize - h) / 2

	draw.ApproxBiLinear.Scale(canvas, image.Rect(ox, oy, ox+w, oy+h), img, img.Bounds(), draw.Src, nil)
	return canvas
}

func applyFilter(img *image.RGBA, filterName string) *image.RGBA {
	switch filterName {
	case FilterNoir:
		return noir(img)
	case FilterWarm:
		return warm(img, 20, 10)
	default:
		return polaroid(img)
	}
}

func noir(img *image.RGBA) *image.RGBA {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			i := img.PixOffset(x, y)
			r, g, bb := img.Pix[i], img.Pix[i+1], img.Pix[i+2]
			gray := uint8((299*int(r) + 587*int(g) + 114*int(bb)) / 1000)
			img.Pix[i], img.Pix[i+1], img.Pix[i+2] = gray, gray, gray
		}
	}
	return img
}

func warm(img *image.RGBA, addR, subB int) *image.RGBA {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			i := img.PixOffset(x, y)
			img.Pix[i] = clamp8(int(img.Pix[i]) + addR)
			img.Pix[i+2] = clamp8(int(img.Pix[i+2]) - subB)
		}
	}
	return img
}

// polaroid warms the frame slightly and darkens towards the corners.
func polaroid(img *image.RGBA) *image.RGBA {
	img = warm(img, 15, 8)
	b := img.Bounds()
	cx := float64(b.Dx()) / 2
	cy := float64(b.Dy()) / 2
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dx := (float64(x-b.Min.X) - cx) / cx
			dy := (float64(y-b.Min.Y) - cy) / cy
			dist := math.Sqrt(dx*dx + dy*dy)
			mask := 1 - dist*0.6
			if mask < 0.3 {
				mask = 0.3
			} else if mask > 1 {
				mask = 1
			}
			i := img.PixOffset(x, y)
			img.Pix[i] = uint8(float64(img.Pix[i]) * mask)
			img.Pix[i+1] = uint8(float64(img.Pix[i+1]) * mask)
			img.Pix[i+2] = uint8(float64(img.Pix[i+2]) * mask)
		}
	}
	return img
}

// addBorder wraps the canvas in a near-white frame, wider at the bottom.
func addBorder(canvas *image.RGBA) *image.RGBA {
	w := canvas.Bounds().Dx()
	h := canvas.Bounds().Dy()
	framed := image.NewRGBA(image.Rect(0, 0, w+borderSide*2, h+borderSide+borderBottom))
	fill(framed, color.RGBA{250, 250, 250, 255})
	draw.Draw(framed, image.Rect(borderSide, borderSide, borderSide+w, borderSide+h), canvas, canvas.Bounds().Min, draw.Src)
	return framed
}

func fill(img *image.RGBA, c color.RGBA) {
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
}

func clamp8(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
