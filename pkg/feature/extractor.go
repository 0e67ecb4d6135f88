package feature

import (
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/menta2k/leaf-analyzer/pkg/types"
)

// textureWindows are the window sizes of the local-variance maps. Each window
// contributes a mean and a stddev value to the texture band.
var textureWindows = [3]int{3, 5, 7}

// InvalidImageError reports an input image that cannot be analyzed: nil,
// below the minimum spatial size, or without enough color channels.
type InvalidImageError struct {
	Width  int
	Height int
	Reason string
}

func (e *InvalidImageError) Error() string {
	return fmt.Sprintf("invalid image %dx%d: %s", e.Width, e.Height, e.Reason)
}

// DegenerateFeatureError reports a non-finite extraction result. Degenerate
// vectors are never returned silently.
type DegenerateFeatureError struct {
	Index int
	Value float64
}

func (e *DegenerateFeatureError) Error() string {
	return fmt.Sprintf("degenerate feature at index %d: %v", e.Index, e.Value)
}

// Config holds configuration for feature extraction. The lesion thresholding
// rule is fully exposed here so that extraction stays bit-comparable across
// deployments tuned the same way.
type Config struct {
	// MinSize is the minimum width and height of an input image.
	MinSize int

	// WorkingSize is the longest side the image is resized to before
	// analysis. It bounds per-image cost and pins the output for a given
	// input regardless of source resolution.
	WorkingSize int

	// BaselineHueMin and BaselineHueMax delimit the healthy-tissue hue range
	// in degrees. Pixels with hue outside this range are lesion candidates.
	BaselineHueMin float64
	BaselineHueMax float64

	// LesionSaturationMin gates out washed-out pixels from the lesion mask.
	LesionSaturationMin float64

	// BackgroundValueMin separates leaf tissue from dark background. Pixels
	// below it count neither as leaf area nor as lesion.
	BackgroundValueMin float64

	// MinLesionArea discards connected components smaller than this many
	// pixels (at working size).
	MinLesionArea int
}

// DefaultConfig returns the dataset-calibrated extraction defaults.
func DefaultConfig() Config {
	return Config{
		MinSize:             64,
		WorkingSize:         256,
		BaselineHueMin:      60,
		BaselineHueMax:      180,
		LesionSaturationMin: 0.15,
		BackgroundValueMin:  0.10,
		MinLesionArea:       4,
	}
}

// Extractor converts a decoded leaf image into a fixed 106-value feature
// vector: 96 color values (32-bin HSV histograms), 6 texture values
// (local-variance statistics) and 4 shape values (lesion blob statistics).
type Extractor struct {
	config Config
}

// New creates a new Extractor with default configuration.
func New() *Extractor {
	return &Extractor{config: DefaultConfig()}
}

// NewWithConfig creates a new Extractor with custom configuration.
func NewWithConfig(config Config) *Extractor {
	return &Extractor{config: config}
}

// Extract computes the feature vector for an image. Extraction is
// deterministic: the same image always yields the same vector.
func (e *Extractor) Extract(img image.Image) (types.FeatureVector, error) {
	if err := e.validate(img); err != nil {
		return nil, err
	}

	px := e.preparePixels(img)

	vec := make([]float64, 0, types.VectorDim)
	vec = append(vec, colorHistograms(px)...)
	vec = append(vec, textureStatistics(px)...)
	vec = append(vec, e.shapeStatistics(px)...)

	out := make(types.FeatureVector, types.VectorDim)
	for i, v := range vec {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, &DegenerateFeatureError{Index: i, Value: v}
		}
		out[i] = float32(v)
	}

	return out, nil
}

func (e *Extractor) validate(img image.Image) error {
	if img == nil {
		return &InvalidImageError{Reason: "image is nil"}
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w < e.config.MinSize || h < e.config.MinSize {
		return &InvalidImageError{
			Width:  w,
			Height: h,
			Reason: fmt.Sprintf("smaller than minimum %dx%d", e.config.MinSize, e.config.MinSize),
		}
	}

	switch img.(type) {
	case *image.Gray, *image.Gray16:
		return &InvalidImageError{Width: w, Height: h, Reason: "grayscale input, need at least 3 color channels"}
	}

	return nil
}

// pixelGrid holds the per-pixel values shared by the three bands.
type pixelGrid struct {
	width  int
	height int
	hue    []float64 // degrees, [0,360)
	sat    []float64 // [0,1]
	val    []float64 // [0,1]
	gray   []float64 // luminance, [0,1]
}

// preparePixels downscales the image to the working size and converts every
// pixel to HSV plus grayscale luminance in a single pass.
func (e *Extractor) preparePixels(img image.Image) *pixelGrid {
	bounds := img.Bounds()
	if longest := max(bounds.Dx(), bounds.Dy()); e.config.WorkingSize > 0 && longest > e.config.WorkingSize {
		if bounds.Dx() >= bounds.Dy() {
			img = imaging.Resize(img, e.config.WorkingSize, 0, imaging.Lanczos)
		} else {
			img = imaging.Resize(img, 0, e.config.WorkingSize, imaging.Lanczos)
		}
		bounds = img.Bounds()
	}

	w, h := bounds.Dx(), bounds.Dy()
	px := &pixelGrid{
		width:  w,
		height: h,
		hue:    make([]float64, w*h),
		sat:    make([]float64, w*h),
		val:    make([]float64, w*h),
		gray:   make([]float64, w*h),
	}

	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r16, g16, b16, _ := img.At(x, y).RGBA()
			r := float64(r16) / 65535.0
			g := float64(g16) / 65535.0
			b := float64(b16) / 65535.0

			px.hue[i], px.sat[i], px.val[i] = rgbToHSV(r, g, b)
			px.gray[i] = 0.299*r + 0.587*g + 0.114*b
			i++
		}
	}

	return px
}

// rgbToHSV converts r, g, b in [0,1] to hue in degrees [0,360) and
// saturation/value in [0,1].
func rgbToHSV(r, g, b float64) (h, s, v float64) {
	maxC := math.Max(r, math.Max(g, b))
	minC := math.Min(r, math.Min(g, b))
	delta := maxC - minC

	v = maxC
	if maxC > 0 {
		s = delta / maxC
	}
	if delta == 0 {
		return 0, s, v
	}

	switch maxC {
	case r:
		h = 60 * math.Mod((g-b)/delta, 6)
	case g:
		h = 60 * ((b-r)/delta + 2)
	default:
		h = 60 * ((r-g)/delta + 4)
	}
	if h < 0 {
		h += 360
	}
	return h, s, v
}

// colorHistograms builds a 32-bin histogram per HSV channel and normalizes
// each channel to sum to 1.0.
func colorHistograms(px *pixelGrid) []float64 {
	var hist [3][types.ColorBins]float64

	for i := range px.hue {
		hist[0][binIndex(px.hue[i]/360.0)]++
		hist[1][binIndex(px.sat[i])]++
		hist[2][binIndex(px.val[i])]++
	}

	total := float64(px.width * px.height)
	out := make([]float64, 0, types.ColorDim)
	for ch := 0; ch < 3; ch++ {
		for bin := 0; bin < types.ColorBins; bin++ {
			out = append(out, hist[ch][bin]/total)
		}
	}
	return out
}

// binIndex maps a normalized value in [0,1] to a histogram bin.
func binIndex(v float64) int {
	idx := int(v * types.ColorBins)
	if idx >= types.ColorBins {
		idx = types.ColorBins - 1
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}

// textureStatistics computes a local-variance map over grayscale intensity
// for each configured window size and reduces each map to its mean and
// standard deviation. Integral images keep the cost linear in pixel count.
func textureStatistics(px *pixelGrid) []float64 {
	w, h := px.width, px.height

	// Summed-area tables for gray and gray^2, with a zero row/column.
	sum := make([]float64, (w+1)*(h+1))
	sumSq := make([]float64, (w+1)*(h+1))
	stride := w + 1
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			g := px.gray[y*w+x]
			i := (y+1)*stride + (x + 1)
			sum[i] = g + sum[i-1] + sum[i-stride] - sum[i-stride-1]
			sumSq[i] = g*g + sumSq[i-1] + sumSq[i-stride] - sumSq[i-stride-1]
		}
	}

	windowSum := func(t []float64, x0, y0, x1, y1 int) float64 {
		return t[y1*stride+x1] - t[y0*stride+x1] - t[y1*stride+x0] + t[y0*stride+x0]
	}

	out := make([]float64, 0, types.TextureDim)
	for _, win := range textureWindows {
		if win > w || win > h {
			out = append(out, 0, 0)
			continue
		}

		var total, totalSq float64
		n := 0
		area := float64(win * win)
		for y := 0; y+win <= h; y++ {
			for x := 0; x+win <= w; x++ {
				mean := windowSum(sum, x, y, x+win, y+win) / area
				meanSq := windowSum(sumSq, x, y, x+win, y+win) / area
				variance := meanSq - mean*mean
				if variance < 0 {
					variance = 0 // float rounding
				}
				total += variance
				totalSq += variance * variance
				n++
			}
		}

		mean := total / float64(n)
		variance := totalSq/float64(n) - mean*mean
		if variance < 0 {
			variance = 0
		}
		out = append(out, mean, math.Sqrt(variance))
	}

	return out
}

// shapeStatistics isolates lesion-like regions and summarizes their blobs:
// count, mean area, area stddev and the largest blob's share of the leaf
// area. Zero blobs is a valid degenerate case yielding all zeros.
func (e *Extractor) shapeStatistics(px *pixelGrid) []float64 {
	w, h := px.width, px.height

	lesion := make([]bool, w*h)
	leafArea := 0
	for i := range lesion {
		if px.val[i] < e.config.BackgroundValueMin {
			continue
		}
		leafArea++
		if px.sat[i] < e.config.LesionSaturationMin {
			continue
		}
		if px.hue[i] < e.config.BaselineHueMin || px.hue[i] > e.config.BaselineHueMax {
			lesion[i] = true
		}
	}

	areas := blobAreas(lesion, w, h, e.config.MinLesionArea)
	if len(areas) == 0 {
		return []float64{0, 0, 0, 0}
	}

	var total, largest float64
	for _, a := range areas {
		f := float64(a)
		total += f
		if f > largest {
			largest = f
		}
	}
	mean := total / float64(len(areas))

	var sqDiff float64
	for _, a := range areas {
		d := float64(a) - mean
		sqDiff += d * d
	}
	std := math.Sqrt(sqDiff / float64(len(areas)))

	ratio := 0.0
	if leafArea > 0 {
		ratio = largest / float64(leafArea)
	}

	return []float64{float64(len(areas)), mean, std, ratio}
}

// blobAreas labels 4-connected components in the mask and returns the areas
// of those meeting the minimum size, in scan order.
func blobAreas(mask []bool, w, h, minArea int) []int {
	visited := make([]bool, len(mask))
	var areas []int
	stack := make([]int, 0, 64)

	for start := range mask {
		if !mask[start] || visited[start] {
			continue
		}

		area := 0
		stack = append(stack[:0], start)
		visited[start] = true
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			area++

			x, y := i%w, i/w
			if x > 0 && mask[i-1] && !visited[i-1] {
				visited[i-1] = true
				stack = append(stack, i-1)
			}
			if x < w-1 && mask[i+1] && !visited[i+1] {
				visited[i+1] = true
				stack = append(stack, i+1)
			}
			if y > 0 && mask[i-w] && !visited[i-w] {
				visited[i-w] = true
				stack = append(stack, i-w)
			}
			if y < h-1 && mask[i+w] && !visited[i+w] {
				visited[i+w] = true
				stack = append(stack, i+w)
			}
		}

		if area >= minArea {
			areas = append(areas, area)
		}
	}

	return areas
}
