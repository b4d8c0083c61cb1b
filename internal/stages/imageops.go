package stages

import (
	"bytes"
	"image"
	"image/draw"
	"image/jpeg"
	"math"
	"math/rand"
	"sort"
)

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	bounds := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(out, out.Bounds(), img, bounds.Min, draw.Src)
	return out
}

func clampU8(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(math.Round(v))
}

// medianFilter applies a per-channel median over a square window.
// Borders are handled by clamping coordinates into the image.
func medianFilter(img image.Image, window int) *image.RGBA {
	src := toRGBA(img)
	w := src.Bounds().Dx()
	h := src.Bounds().Dy()
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	half := window / 2

	area := window * window
	rs := make([]uint8, 0, area)
	gs := make([]uint8, 0, area)
	bs := make([]uint8, 0, area)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			rs, gs, bs = rs[:0], gs[:0], bs[:0]
			for dy := -half; dy <= half; dy++ {
				sy := clampIndex(y+dy, h)
				for dx := -half; dx <= half; dx++ {
					sx := clampIndex(x+dx, w)
					i := src.PixOffset(sx, sy)
					rs = append(rs, src.Pix[i])
					gs = append(gs, src.Pix[i+1])
					bs = append(bs, src.Pix[i+2])
				}
			}
			i := out.PixOffset(x, y)
			out.Pix[i] = medianU8(rs)
			out.Pix[i+1] = medianU8(gs)
			out.Pix[i+2] = medianU8(bs)
			out.Pix[i+3] = src.Pix[src.PixOffset(x, y)+3]
		}
	}
	return out
}

func clampIndex(v, limit int) int {
	if v < 0 {
		return 0
	}
	if v >= limit {
		return limit - 1
	}
	return v
}

func medianU8(values []uint8) uint8 {
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	return values[len(values)/2]
}

// encodeJPEG re-encodes pixels at the given quality. Encoding is
// deterministic for identical input.
func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// addGaussianNoise perturbs every channel with zero-mean gaussian noise.
// Sigma is in pixel-value units (0..255). Pixels are visited row-major
// so identical rng state gives identical output.
func addGaussianNoise(img image.Image, sigma float64, rng *rand.Rand) *image.RGBA {
	src := toRGBA(img)
	w := src.Bounds().Dx()
	h := src.Bounds().Dy()
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := src.PixOffset(x, y)
			o := out.PixOffset(x, y)
			out.Pix[o] = clampU8(float64(src.Pix[i]) + rng.NormFloat64()*sigma)
			out.Pix[o+1] = clampU8(float64(src.Pix[i+1]) + rng.NormFloat64()*sigma)
			out.Pix[o+2] = clampU8(float64(src.Pix[i+2]) + rng.NormFloat64()*sigma)
			out.Pix[o+3] = src.Pix[i+3]
		}
	}
	return out
}

// randomPatch fills a square patch with seeded uniform noise.
func randomPatch(rng *rand.Rand, side int) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, side, side))
	for i := 0; i < len(out.Pix); i += 4 {
		out.Pix[i] = uint8(rng.Intn(256))
		out.Pix[i+1] = uint8(rng.Intn(256))
		out.Pix[i+2] = uint8(rng.Intn(256))
		out.Pix[i+3] = 255
	}
	return out
}

// resizePatch resizes with nearest-neighbor sampling.
func resizePatch(src *image.RGBA, side int) *image.RGBA {
	if side < 1 {
		side = 1
	}
	sw := src.Bounds().Dx()
	sh := src.Bounds().Dy()
	if sw == side && sh == side {
		return src
	}
	out := image.NewRGBA(image.Rect(0, 0, side, side))
	for y := 0; y < side; y++ {
		sy := y * sh / side
		for x := 0; x < side; x++ {
			sx := x * sw / side
			copy(out.Pix[out.PixOffset(x, y):out.PixOffset(x, y)+4], src.Pix[src.PixOffset(sx, sy):src.PixOffset(sx, sy)+4])
		}
	}
	return out
}

// rotatePatch rotates around the patch center with nearest-neighbor
// inverse mapping. Samples falling outside the source stay transparent,
// so rotated corners do not cover the target image.
func rotatePatch(src *image.RGBA, degrees float64) *image.RGBA {
	if degrees == 0 {
		return src
	}
	side := src.Bounds().Dx()
	out := image.NewRGBA(image.Rect(0, 0, side, side))
	rad := degrees * math.Pi / 180
	sin, cos := math.Sincos(rad)
	center := float64(side-1) / 2
	for y := 0; y < side; y++ {
		for x := 0; x < side; x++ {
			dx := float64(x) - center
			dy := float64(y) - center
			sx := int(math.Round(center + dx*cos + dy*sin))
			sy := int(math.Round(center - dx*sin + dy*cos))
			if sx < 0 || sx >= side || sy < 0 || sy >= side {
				continue
			}
			copy(out.Pix[out.PixOffset(x, y):out.PixOffset(x, y)+4], src.Pix[src.PixOffset(sx, sy):src.PixOffset(sx, sy)+4])
		}
	}
	return out
}

// overlayPatch composites the patch onto dst with its top-left corner
// at (x, y), honoring patch transparency.
func overlayPatch(dst *image.RGBA, patch *image.RGBA, x, y int) {
	rect := patch.Bounds().Add(image.Pt(x, y))
	draw.Draw(dst, rect, patch, patch.Bounds().Min, draw.Over)
}
