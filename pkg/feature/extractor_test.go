package feature

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/leaf-analyzer/pkg/types"
)

// createLeafImage creates a solid leaf-green test image.
func createLeafImage(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{30, 200, 40, 255})
		}
	}
	return img
}

// createDiseasedLeafImage creates a green leaf with a brown lesion patch.
func createDiseasedLeafImage(width, height int) *image.RGBA {
	img := createLeafImage(width, height)
	for y := height / 4; y < height/2; y++ {
		for x := width / 4; x < width/2; x++ {
			img.Set(x, y, color.RGBA{139, 69, 19, 255})
		}
	}
	return img
}

func TestNew(t *testing.T) {
	extractor := New()
	require.NotNil(t, extractor)
	assert.Equal(t, DefaultConfig(), extractor.config)
}

func TestNewWithConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSize = 32
	extractor := NewWithConfig(cfg)
	assert.Equal(t, 32, extractor.config.MinSize)
}

func TestExtractVectorLength(t *testing.T) {
	vec, err := New().Extract(createLeafImage(96, 96))
	require.NoError(t, err)
	assert.Len(t, vec, types.VectorDim)
}

func TestExtractDeterministic(t *testing.T) {
	extractor := New()
	img := createDiseasedLeafImage(96, 96)

	first, err := extractor.Extract(img)
	require.NoError(t, err)
	second, err := extractor.Extract(img)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestExtractHistogramsNormalized(t *testing.T) {
	vec, err := New().Extract(createDiseasedLeafImage(96, 96))
	require.NoError(t, err)

	for ch := 0; ch < 3; ch++ {
		var sum float64
		for i := ch * types.ColorBins; i < (ch+1)*types.ColorBins; i++ {
			assert.GreaterOrEqual(t, vec[i], float32(0))
			sum += float64(vec[i])
		}
		assert.InDelta(t, 1.0, sum, 1e-5, "channel %d", ch)
	}
}

func TestExtractPassesValidation(t *testing.T) {
	vec, err := New().Extract(createDiseasedLeafImage(128, 96))
	require.NoError(t, err)
	assert.NoError(t, vec.Validate())
}

func TestExtractNilImage(t *testing.T) {
	_, err := New().Extract(nil)
	var invalidErr *InvalidImageError
	require.ErrorAs(t, err, &invalidErr)
}

func TestExtractTooSmall(t *testing.T) {
	_, err := New().Extract(createLeafImage(32, 32))
	var invalidErr *InvalidImageError
	require.ErrorAs(t, err, &invalidErr)
	assert.Equal(t, 32, invalidErr.Width)
}

func TestExtractGrayscaleRejected(t *testing.T) {
	_, err := New().Extract(image.NewGray(image.Rect(0, 0, 96, 96)))
	var invalidErr *InvalidImageError
	require.ErrorAs(t, err, &invalidErr)
}

func TestExtractHealthyLeafHasNoLesions(t *testing.T) {
	vec, err := New().Extract(createLeafImage(96, 96))
	require.NoError(t, err)

	for i, v := range vec.ShapeBand() {
		assert.Equal(t, float32(0), v, "shape value %d", i)
	}
}

func TestExtractDiseasedLeafHasLesions(t *testing.T) {
	vec, err := New().Extract(createDiseasedLeafImage(96, 96))
	require.NoError(t, err)

	shape := vec.ShapeBand()
	assert.GreaterOrEqual(t, shape[0], float32(1), "blob count")
	assert.Greater(t, shape[1], float32(0), "mean blob area")
	assert.Greater(t, shape[3], float32(0), "largest blob ratio")
	assert.LessOrEqual(t, shape[3], float32(1), "largest blob ratio")
}

func TestExtractLargeImageResized(t *testing.T) {
	vec, err := New().Extract(createDiseasedLeafImage(512, 384))
	require.NoError(t, err)
	assert.NoError(t, vec.Validate())
}

func TestExtractUniformImageHasZeroTexture(t *testing.T) {
	vec, err := New().Extract(createLeafImage(96, 96))
	require.NoError(t, err)

	for i, v := range vec.TextureBand() {
		assert.InDelta(t, 0, v, 1e-6, "texture value %d", i)
	}
}

func TestRGBToHSV(t *testing.T) {
	h, s, v := rgbToHSV(1, 0, 0)
	assert.InDelta(t, 0, h, 1e-9)
	assert.InDelta(t, 1, s, 1e-9)
	assert.InDelta(t, 1, v, 1e-9)

	h, s, v = rgbToHSV(0, 1, 0)
	assert.InDelta(t, 120, h, 1e-9)
	assert.InDelta(t, 1, s, 1e-9)
	assert.InDelta(t, 1, v, 1e-9)

	h, s, v = rgbToHSV(0, 0, 1)
	assert.InDelta(t, 240, h, 1e-9)

	h, s, v = rgbToHSV(0.5, 0.5, 0.5)
	assert.InDelta(t, 0, h, 1e-9)
	assert.InDelta(t, 0, s, 1e-9)
	assert.InDelta(t, 0.5, v, 1e-9)
}

func TestBlobAreasConnectivity(t *testing.T) {
	// Two diagonal pixels are not 4-connected: two blobs below min area.
	mask := []bool{
		true, false,
		false, true,
	}
	assert.Empty(t, blobAreas(mask, 2, 2, 2))

	// A 2x2 square is a single blob of area 4.
	mask = []bool{
		true, true,
		true, true,
	}
	assert.Equal(t, []int{4}, blobAreas(mask, 2, 2, 2))
}

func TestBlobAreasMinAreaFilter(t *testing.T) {
	// One 1-pixel blob and one 3-pixel blob, min area 2.
	mask := []bool{
		true, false, true,
		false, false, true,
		false, false, true,
	}
	assert.Equal(t, []int{3}, blobAreas(mask, 3, 3, 2))
}
