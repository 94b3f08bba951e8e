package inference

import (
	"image"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// ImageNet channel means (RGB) subtracted from every pixel, on a 0..255 scale.
var channelMeans = [3]float32{123.68, 116.779, 103.939}

// Preprocess converts img into a (1, C, H, W) input tensor for a VGG network.
//
// The image is resized to H x W using Lanczos3 and the ImageNet channel means
// are subtracted. A single channel shape averages the RGB channels.
//
// Arguments:
//   - img: The image to prepare.
//   - shape: The (C, H, W) network input shape. C must be 1 or 3.
//
// Returns:
//   - *tensor.Dense: The input tensor.
//   - error: An error if the shape is unsupported.
func Preprocess(img image.Image, shape []int) (*tensor.Dense, error) {
	if len(shape) != 3 {
		return nil, errors.Errorf("input shape must be (C, H, W), got %v", shape)
	}
	c, h, w := shape[0], shape[1], shape[2]
	if c != 1 && c != 3 {
		return nil, errors.Errorf("unsupported channel count %d", c)
	}
	if h <= 0 || w <= 0 {
		return nil, errors.Errorf("invalid input size %dx%d", h, w)
	}

	img = resize.Resize(uint(w), uint(h), img, resize.Lanczos3)
	bounds := img.Bounds()

	plane := h * w
	data := make([]float32, c*plane)
	i := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			rgb := [3]float32{
				float32(r>>8) - channelMeans[0],
				float32(g>>8) - channelMeans[1],
				float32(b>>8) - channelMeans[2],
			}
			if c == 1 {
				data[i] = (rgb[0] + rgb[1] + rgb[2]) / 3
			} else {
				data[i] = rgb[0]
				data[plane+i] = rgb[1]
				data[2*plane+i] = rgb[2]
			}
			i++
		}
	}
	return tensor.New(tensor.WithShape(1, c, h, w), tensor.WithBacking(data)), nil
}
