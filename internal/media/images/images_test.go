package images

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexandriaapp/alexandria-server/internal/epub"
	"github.com/alexandriaapp/alexandria-server/internal/epub/epubtest"
	"github.com/alexandriaapp/alexandria-server/internal/logger"
)

// testPNG returns a two-tone portrait image.
func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			c := color.RGBA{R: 20, G: 40, B: 120, A: 255}
			if y > h/2 {
				c = color.RGBA{R: 230, G: 220, B: 200, A: 255}
			}
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestComputeBlurHash(t *testing.T) {
	hash, err := ComputeBlurHash(testPNG(t, 200, 300))
	require.NoError(t, err)
	assert.NotEmpty(t, hash)

	small, err := ComputeBlurHash(testPNG(t, 20, 30))
	require.NoError(t, err)
	assert.Len(t, small, len(hash), "4x3 components give a fixed-length hash")

	_, err = ComputeBlurHash([]byte("not an image"))
	assert.Error(t, err)
}

func TestResizeForBlurHash(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 640, 10))
	out := resizeForBlurHash(img)
	assert.Equal(t, 64, out.Bounds().Dx())
	assert.Equal(t, 1, out.Bounds().Dy())
}

func TestCache(t *testing.T) {
	c, err := NewCache(t.TempDir())
	require.NoError(t, err)
	key := "epubjs:urn:isbn:9780142437247"

	assert.False(t, c.Exists(key))
	_, _, err = c.Get(key)
	assert.ErrorIs(t, err, ErrNotCached)

	data := testPNG(t, 10, 10)
	hash, err := c.Save(key, "image/png", data)
	require.NoError(t, err)
	assert.Len(t, hash, 64)

	got, mediaType, err := c.Get(key)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, "image/png", mediaType)

	_, err = c.Save(key, "image/jpeg", []byte("jpeg bytes"))
	require.NoError(t, err)
	_, mediaType, err = c.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", mediaType, "a new cover replaces the old one")

	require.NoError(t, c.Delete(key))
	require.NoError(t, c.Delete(key))
	assert.False(t, c.Exists(key))

	_, err = c.Save("", "image/png", data)
	assert.Error(t, err)
	_, err = c.Save(key, "image/png", nil)
	assert.Error(t, err)
	_, err = NewCache("")
	assert.Error(t, err)
}

func TestProcessor_Process(t *testing.T) {
	c, err := NewCache(t.TempDir())
	require.NoError(t, err)
	p := NewProcessor(c, logger.Discard())

	withCover := epubtest.MobyDick()
	withCover.Cover = testPNG(t, 120, 180)
	book, err := epub.Open(withCover.Write(t, t.TempDir(), "moby.epub"))
	require.NoError(t, err)
	defer book.Close()

	cover, err := p.Process(book)
	require.NoError(t, err)
	require.NotNil(t, cover)
	assert.Equal(t, "image/png", cover.MediaType)
	assert.NotEmpty(t, cover.BlurHash)
	assert.Len(t, cover.Hash, 64)
	assert.True(t, c.Exists(book.Key()))

	plain, err := epub.Open(epubtest.MobyDick().Write(t, t.TempDir(), "plain.epub"))
	require.NoError(t, err)
	defer plain.Close()
	cover, err = p.Process(plain)
	require.NoError(t, err)
	assert.Nil(t, cover)
	assert.False(t, c.Exists(plain.Key()), "a book that lost its cover drops the cached one")
}
