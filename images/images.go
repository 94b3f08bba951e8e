// Package images - Loading of classifier input images from files and directories.
package images

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/chai2010/webp"
	"github.com/pkg/errors"
)

// ErrUnsupportedFormat is returned for files that are not JPEG, PNG or WebP.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// ImageFormat represents supported image formats.
type ImageFormat string

const (
	FormatJPEG ImageFormat = "jpeg"
	FormatWebP ImageFormat = "webp"
	FormatPNG  ImageFormat = "png"
)

// FormatOf returns the format implied by the extension of path.
func FormatOf(path string) (ImageFormat, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return FormatJPEG, nil
	case ".png":
		return FormatPNG, nil
	case ".webp":
		return FormatWebP, nil
	default:
		return "", errors.Wrap(ErrUnsupportedFormat, path)
	}
}

// Decode decodes b as an image of format f.
func Decode(b []byte, f ImageFormat) (image.Image, error) {
	r := bytes.NewReader(b)
	switch f {
	case FormatJPEG:
		return jpeg.Decode(r)
	case FormatPNG:
		return png.Decode(r)
	case FormatWebP:
		return webp.Decode(r)
	default:
		return nil, errors.Wrapf(ErrUnsupportedFormat, "%q", f)
	}
}

// Load reads and decodes the image at path.
func Load(path string) (image.Image, error) {
	f, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read image")
	}
	img, err := Decode(b, f)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	return img, nil
}

// Expand replaces every directory in paths by the image files it contains,
// sorted by name. Files are kept as given, whatever their extension.
//
// Arguments:
//   - paths: Image files and directories.
//
// Returns:
//   - []string: Image file paths.
//   - error: Error if a path cannot be read.
func Expand(paths []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, p)
			continue
		}

		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, err
		}
		var files []string
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if _, err := FormatOf(e.Name()); err == nil {
				files = append(files, filepath.Join(p, e.Name()))
			}
		}
		sort.Strings(files)
		out = append(out, files...)
	}
	return out, nil
}
