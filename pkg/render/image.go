package render

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/image/webp"
)

type decode func(io.Reader) (image.Image, error)

func getDecoder(file string) (decode, error) {
	inputExt := filepath.Ext(file)
	var d decode
	switch inputExt {
	case ".png":
		d = png.Decode
	case ".jpg", ".jpeg":
		d = jpeg.Decode
	case ".webp":
		d = webp.Decode
	default:
		return nil, fmt.Errorf("render: unsupported extension: %s", inputExt)
	}
	return d, nil
}

// LoadImage decodes a png, jpeg or webp file.
func LoadImage(file string) (image.Image, error) {
	d, err := getDecoder(file)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAsset, err)
	}
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("%w: couldn't open %s: %v", ErrAsset, file, err)
	}
	defer f.Close()
	img, err := d(f)
	if err != nil {
		return nil, fmt.Errorf("%w: couldn't decode %s: %v", ErrAsset, file, err)
	}
	return img, nil
}
