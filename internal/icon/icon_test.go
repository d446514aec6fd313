package icon_test

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/mameuix/mameuix/internal/icon"
	"github.com/mameuix/mameuix/internal/job"
	"github.com/stretchr/testify/require"
)

var red = color.RGBA{R: 0xff, A: 0xff}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, red)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// ico wraps payloads into an icon directory, sizes are the directory w/h bytes.
func ico(entries ...icoEntry) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, [3]uint16{0, 1, uint16(len(entries))})
	offset := 6 + 16*len(entries)
	for _, e := range entries {
		buf.WriteByte(e.w)
		buf.WriteByte(e.h)
		buf.Write([]byte{0, 0})
		_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
		_ = binary.Write(&buf, binary.LittleEndian, e.bpp)
		_ = binary.Write(&buf, binary.LittleEndian, uint32(len(e.data)))
		_ = binary.Write(&buf, binary.LittleEndian, uint32(offset))
		offset += len(e.data)
	}
	for _, e := range entries {
		buf.Write(e.data)
	}
	return buf.Bytes()
}

type icoEntry struct {
	w, h byte
	bpp  uint16
	data []byte
}

// dib32 is a w x h 32bpp icon bitmap filled with a single BGRA pixel value,
// followed by an all-zero AND mask.
func dib32(w, h int, px [4]byte) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, uint32(40))
	_ = binary.Write(&buf, binary.LittleEndian, int32(w))
	_ = binary.Write(&buf, binary.LittleEndian, int32(2*h))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(32))
	buf.Write(make([]byte, 24))
	for range w * h {
		buf.Write(px[:])
	}
	maskRow := ((w + 31) / 32) * 4
	buf.Write(make([]byte, maskRow*h))
	return buf.Bytes()
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestLoadPNG(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "pacman.png", pngBytes(t, 16, 16))

	out := icon.LoadFile(path, 0)
	require.Equal(t, job.StatusDecoded, out.Status, out.String())
	require.Equal(t, 16, out.Decoded.Width)
	require.Equal(t, 16, out.Decoded.Height)
	require.Equal(t, red, out.Decoded.Image.RGBAAt(3, 3))

	out = icon.LoadFile(path, 32)
	require.Equal(t, job.StatusDecoded, out.Status)
	require.Equal(t, 32, out.Decoded.Width)
	require.Equal(t, 32, out.Decoded.Height)
	require.Equal(t, red, out.Decoded.Image.RGBAAt(16, 16))
}

func TestLoadFailures(t *testing.T) {
	t.Parallel()

	out := icon.LoadFile(filepath.Join(t.TempDir(), "missing.ico"), 32)
	require.Equal(t, job.StatusNotFound, out.Status)

	out = icon.LoadFile(writeFile(t, "garbage.png", []byte("not an image")), 32)
	require.Equal(t, job.StatusDecodeError, out.Status)
	require.NotEmpty(t, out.Reason)

	out = icon.LoadFile(writeFile(t, "garbage.ico", []byte{0, 0, 1, 0, 0, 0}), 32)
	require.Equal(t, job.StatusDecodeError, out.Status)

	out = icon.Load(t.Context(), job.Job{Key: "x", Kind: job.KindIconLoad, Payload: 42})
	require.Equal(t, job.StatusError, out.Status)
}

func TestDecodeICOPicksLargestPNG(t *testing.T) {
	t.Parallel()
	data := ico(
		icoEntry{w: 16, h: 16, bpp: 32, data: pngBytes(t, 16, 16)},
		icoEntry{w: 48, h: 48, bpp: 32, data: pngBytes(t, 48, 48)},
		icoEntry{w: 32, h: 32, bpp: 32, data: pngBytes(t, 32, 32)},
	)
	img, err := icon.DecodeICO(data)
	require.NoError(t, err)
	require.Equal(t, 48, img.Bounds().Dx())
}

func TestDecodeICOBitmap(t *testing.T) {
	t.Parallel()
	// blue in BGRA order
	data := ico(icoEntry{w: 4, h: 4, bpp: 32, data: dib32(4, 4, [4]byte{0xff, 0, 0, 0})})
	img, err := icon.DecodeICO(data)
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 4, 4), img.Bounds())
	r, g, b, a := img.At(1, 1).RGBA()
	require.Zero(t, r)
	require.Zero(t, g)
	require.Equal(t, uint32(0xffff), b)
	require.Equal(t, uint32(0xffff), a)

	path := writeFile(t, "dkong.ico", data)
	out := icon.Load(t.Context(), job.Job{Key: "dkong", Kind: job.KindIconLoad, Payload: job.IconPayload{Path: path, Size: 8}})
	require.Equal(t, job.StatusDecoded, out.Status, out.String())
	require.Equal(t, 8, out.Decoded.Width)
}

func TestDecodeICORejectsBrokenDirectory(t *testing.T) {
	t.Parallel()
	_, err := icon.DecodeICO([]byte{0, 0, 1})
	require.ErrorIs(t, err, icon.ErrICO)

	// entry points past the end of the file
	data := ico(icoEntry{w: 16, h: 16, bpp: 32, data: pngBytes(t, 16, 16)})
	_, err = icon.DecodeICO(data[:40])
	require.ErrorIs(t, err, icon.ErrICO)
}
