// Package icon loads game icons for the icon cache: read the file, decode it,
// scale it to the configured size and hand back RGBA pixels.
package icon

import (
	"bytes"
	"context"
	"errors"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"

	"github.com/mameuix/mameuix/internal/job"
)

// Extensions lists the file types Load understands.
var Extensions = []string{".ico", ".png", ".jpg", ".jpeg", ".gif", ".bmp"}

// Load is the job.KindIconLoad executor.
func Load(_ context.Context, j job.Job) job.Outcome {
	p, ok := j.Payload.(job.IconPayload)
	if !ok {
		return job.Fail(job.StatusError, "unexpected payload %T", j.Payload)
	}
	return LoadFile(p.Path, p.Size)
}

// LoadFile decodes the icon at path and scales it to size x size, size <= 0
// keeps the source dimensions.
func LoadFile(path string, size int) job.Outcome {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return job.Plain(job.StatusNotFound)
	}
	if err != nil {
		return job.Fail(job.StatusError, "read: %v", err)
	}

	img, err := decode(path, data)
	if err != nil {
		return job.Fail(job.StatusDecodeError, "%v", err)
	}
	return job.Decode(Scale(img, size))
}

func decode(path string, data []byte) (image.Image, error) {
	if strings.EqualFold(filepath.Ext(path), ".ico") {
		return DecodeICO(data)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	return img, err
}

// Scale converts img to RGBA, resampling to size x size when the source
// differs.
func Scale(img image.Image, size int) *image.RGBA {
	src := img.Bounds()
	if size <= 0 || (src.Dx() == size && src.Dy() == size) {
		if rgba, ok := img.(*image.RGBA); ok && src.Min == (image.Point{}) {
			return rgba
		}
		dst := image.NewRGBA(image.Rect(0, 0, src.Dx(), src.Dy()))
		draw.Draw(dst, dst.Bounds(), img, src.Min, draw.Src)
		return dst
	}
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, src, draw.Src, nil)
	return dst
}
