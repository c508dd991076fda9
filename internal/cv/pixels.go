package cv

import (
	"image"
	"image/color"
	"image/draw"
)

// columnAverage averages the pixels of column x over rows [y1, y2)
func columnAverage(img image.Image, x, y1, y2 int) (color.RGBA, bool) {
	rows := y2 - y1
	if rows <= 0 {
		return color.RGBA{}, false
	}

	var r, g, b, a int
	switch src := img.(type) {
	case *image.RGBA:
		for y := y1; y < y2; y++ {
			idx := src.PixOffset(x, y)
			r += int(src.Pix[idx])
			g += int(src.Pix[idx+1])
			b += int(src.Pix[idx+2])
			a += int(src.Pix[idx+3])
		}
	case *image.NRGBA:
		for y := y1; y < y2; y++ {
			idx := src.PixOffset(x, y)
			r += int(src.Pix[idx])
			g += int(src.Pix[idx+1])
			b += int(src.Pix[idx+2])
			a += int(src.Pix[idx+3])
		}
	default:
		for y := y1; y < y2; y++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			r += int(c.R)
			g += int(c.G)
			b += int(c.B)
			a += int(c.A)
		}
	}

	return color.RGBA{
		R: uint8(r / rows),
		G: uint8(g / rows),
		B: uint8(b / rows),
		A: uint8(a / rows),
	}, true
}

// ToRGBA returns img as *image.RGBA, copying only when needed
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)
	return rgba
}

// CropRegion extracts a rectangular region from an image
func CropRegion(img *image.RGBA, rect image.Rectangle) *image.RGBA {
	rect = rect.Intersect(img.Bounds())
	cropped := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))

	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			cropped.SetRGBA(x-rect.Min.X, y-rect.Min.Y, img.RGBAAt(x, y))
		}
	}

	return cropped
}

func drawRect(img *image.RGBA, rect image.Rectangle, col color.RGBA) {
	// Top and bottom
	for x := rect.Min.X; x < rect.Max.X; x++ {
		img.SetRGBA(x, rect.Min.Y, col)
		img.SetRGBA(x, rect.Max.Y-1, col)
	}
	// Left and right
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		img.SetRGBA(rect.Min.X, y, col)
		img.SetRGBA(rect.Max.X-1, y, col)
	}
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
