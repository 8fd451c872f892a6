package imaging

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "image/gif"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DefaultJPEGQuality matches the quality used for panorama artifacts.
const DefaultJPEGQuality = 92

var rawExts = map[string]struct{}{
	".dng": {},
	".nef": {},
	".cr2": {},
	".cr3": {},
	".arw": {},
	".rw2": {},
	".orf": {},
	".raf": {},
}

// IsRAW reports whether path carries a camera RAW extension.
func IsRAW(path string) bool {
	_, ok := rawExts[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Decode reads any registered image format and returns it with the format name.
func Decode(r io.Reader) (*Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	return FromStd(img), format, nil
}

// DecodeConfig reads only the header of any registered image format.
func DecodeConfig(r io.Reader) (image.Config, string, error) {
	cfg, format, err := image.DecodeConfig(r)
	if err != nil {
		return image.Config{}, "", fmt.Errorf("decode image header: %w", err)
	}
	return cfg, format, nil
}

// Load decodes the file at path. RAW files go through decodeRAW, which needs
// the imagick build tag.
func Load(path string) (*Image, error) {
	if IsRAW(path) {
		return decodeRAW(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// Encode writes m as "jpeg" or "png".
func Encode(w io.Writer, m *Image, format string, quality int) error {
	switch strings.ToLower(format) {
	case "jpg", "jpeg":
		if quality <= 0 || quality > 100 {
			quality = DefaultJPEGQuality
		}
		return jpeg.Encode(w, m.ToStd(), &jpeg.Options{Quality: quality})
	case "png":
		return png.Encode(w, m.ToStd())
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

// Save encodes m to path, choosing the format from the extension. Parent
// directories are created.
func Save(path string, m *Image, quality int) error {
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if format == "" {
		return fmt.Errorf("output path %s has no extension", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %v", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Encode(f, m, format, quality); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}
