package icon

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/png"

	"golang.org/x/image/bmp"
)

var ErrICO = errors.New("ico: invalid format")

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

type icoEntry struct {
	width  int
	height int
	bpp    int
	size   int
	offset int
}

// DecodeICO decodes the largest image of a Windows icon container. Entries may
// hold a PNG stream or a DIB (BITMAPINFOHEADER + XOR bitmap + AND mask).
func DecodeICO(data []byte) (image.Image, error) {
	if len(data) < 6 {
		return nil, fmt.Errorf("%w: short header", ErrICO)
	}
	reserved := binary.LittleEndian.Uint16(data[0:2])
	typ := binary.LittleEndian.Uint16(data[2:4])
	count := int(binary.LittleEndian.Uint16(data[4:6]))
	if reserved != 0 || (typ != 1 && typ != 2) || count == 0 {
		return nil, fmt.Errorf("%w: bad directory header", ErrICO)
	}
	if len(data) < 6+16*count {
		return nil, fmt.Errorf("%w: short directory", ErrICO)
	}

	var best icoEntry
	for i := range count {
		e := data[6+16*i : 6+16*(i+1)]
		entry := icoEntry{
			width:  dim(e[0]),
			height: dim(e[1]),
			bpp:    int(binary.LittleEndian.Uint16(e[6:8])),
			size:   int(binary.LittleEndian.Uint32(e[8:12])),
			offset: int(binary.LittleEndian.Uint32(e[12:16])),
		}
		if entry.offset < 0 || entry.size <= 0 || entry.offset+entry.size > len(data) {
			continue
		}
		if better(entry, best) {
			best = entry
		}
	}
	if best.size == 0 {
		return nil, fmt.Errorf("%w: no usable entry", ErrICO)
	}

	payload := data[best.offset : best.offset+best.size]
	if bytes.HasPrefix(payload, pngMagic) {
		return png.Decode(bytes.NewReader(payload))
	}
	return decodeDIB(payload)
}

// a zero byte in the directory means 256 pixels
func dim(b byte) int {
	if b == 0 {
		return 256
	}
	return int(b)
}

func better(a, b icoEntry) bool {
	if a.width*a.height != b.width*b.height {
		return a.width*a.height > b.width*b.height
	}
	return a.bpp > b.bpp
}

const (
	fileHeaderLen = 14
	infoHeaderLen = 40
)

// decodeDIB prefixes the DIB with a BMP file header and halves the height,
// which in icons covers both the XOR bitmap and the AND mask.
func decodeDIB(dib []byte) (image.Image, error) {
	if len(dib) < infoHeaderLen {
		return nil, fmt.Errorf("%w: short bitmap header", ErrICO)
	}
	infoLen := int(binary.LittleEndian.Uint32(dib[0:4]))
	if infoLen < infoHeaderLen || infoLen > len(dib) {
		return nil, fmt.Errorf("%w: bitmap header size %d", ErrICO, infoLen)
	}
	bpp := int(binary.LittleEndian.Uint16(dib[14:16]))
	colors := 0
	if bpp <= 8 {
		colors = int(binary.LittleEndian.Uint32(dib[32:36]))
		if colors == 0 {
			colors = 1 << bpp
		}
	}

	buf := make([]byte, fileHeaderLen+len(dib))
	copy(buf[fileHeaderLen:], dib)
	copy(buf[0:2], "BM")
	binary.LittleEndian.PutUint32(buf[2:6], uint32(len(buf)))
	binary.LittleEndian.PutUint32(buf[10:14], uint32(fileHeaderLen+infoLen+4*colors))

	info := buf[fileHeaderLen:]
	height := int32(binary.LittleEndian.Uint32(info[8:12]))
	binary.LittleEndian.PutUint32(info[8:12], uint32(height/2))

	img, err := bmp.Decode(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrICO, err)
	}
	return img, nil
}
