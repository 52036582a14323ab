package images

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
)

// thumbnails carry 96 dpi in JFIF header, some viewers refuse JPEGs without it
const thumbnailDPI = 96

// EnsureJFIF inserts JFIF APP0 segment (density in pixels per inch) when it
// is missing. Reports whether data was changed.
func EnsureJFIF(data []byte, dpi int16) ([]byte, bool, error) {
	if len(data) < 4 {
		return nil, false, errors.New("jpeg too small")
	}
	if data[0] != 0xFF || data[1] != 0xD8 {
		return nil, false, errors.New("not a jpeg")
	}
	if data[2] == 0xFF && data[3] == 0xE0 {
		return data, false, nil
	}

	buf := bytes.NewBuffer(make([]byte, 0, len(data)+18))
	buf.Write(data[:2])
	buf.Write([]byte{0xFF, 0xE0})
	_ = binary.Write(buf, binary.BigEndian, uint16(0x10))
	buf.Write([]byte{'J', 'F', 'I', 'F', 0x00, 0x01, 0x02})
	buf.WriteByte(1) // pixels per inch
	_ = binary.Write(buf, binary.BigEndian, uint16(dpi))
	_ = binary.Write(buf, binary.BigEndian, uint16(dpi))
	_ = binary.Write(buf, binary.BigEndian, uint16(0)) // no embedded thumbnail
	buf.Write(data[2:])
	return buf.Bytes(), true, nil
}

// IsGrayscale reports whether every pixel of img has R==G==B.
func IsGrayscale(img image.Image) bool {
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		return true
	}
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			if c.R != c.G || c.G != c.B {
				return false
			}
		}
	}
	return true
}

// EncodeJPEG encodes img with quality, grayscale images are stored with
// single channel.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if _, gray := img.(*image.Gray); !gray && IsGrayscale(img) {
		g := image.NewGray(img.Bounds())
		draw.Draw(g, g.Bounds(), img, img.Bounds().Min, draw.Src)
		img = g
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	out, _, err := EnsureJFIF(buf.Bytes(), thumbnailDPI)
	return out, err
}
