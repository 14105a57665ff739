package classifier

import (
	"bytes"

	"github.com/visionai/drscreen/internal/platform/imaging"
)

// Tensor is a single HxWxC image in row-major order with channel values
// scaled to [0, 1].
type Tensor struct {
	Height   int
	Width    int
	Channels int
	Data     []float32
}

// Nested returns the tensor as [H][W][C], the shape the model server expects
// for one instance.
func (t Tensor) Nested() [][][]float32 {
	out := make([][][]float32, t.Height)
	for y := 0; y < t.Height; y++ {
		row := make([][]float32, t.Width)
		for x := 0; x < t.Width; x++ {
			off := (y*t.Width + x) * t.Channels
			row[x] = t.Data[off : off+t.Channels]
		}
		out[y] = row
	}
	return out
}

// Preprocess decodes raw image bytes, resizes to size x size and scales RGB
// channels to [0, 1].
func Preprocess(raw []byte, size int) (Tensor, error) {
	img, _, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return Tensor{}, err
	}
	rgba := imaging.Resize(img, size, size)

	t := Tensor{Height: size, Width: size, Channels: 3, Data: make([]float32, size*size*3)}
	i := 0
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			p := rgba.PixOffset(x, y)
			t.Data[i] = float32(rgba.Pix[p]) / 255
			t.Data[i+1] = float32(rgba.Pix[p+1]) / 255
			t.Data[i+2] = float32(rgba.Pix[p+2]) / 255
			i += 3
		}
	}
	return t, nil
}
