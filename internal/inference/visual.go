package inference

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/samcharles93/loom/internal/model"
	"github.com/samcharles93/loom/internal/tensor"
)

const maxImageBytes = 32 << 20

// fetchImage loads ref over http(s) or from the local filesystem.
func fetchImage(ctx context.Context, client *http.Client, ref string) (image.Image, error) {
	var r io.Reader
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrImageFetch, err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrImageFetch, err)
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: GET %s: %s", ErrImageFetch, ref, resp.Status)
		}
		r = resp.Body
	} else {
		f, err := os.Open(ref)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrImageFetch, err)
		}
		defer func() { _ = f.Close() }()
		r = f
	}
	img, _, err := image.Decode(io.LimitReader(r, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", ErrImageFetch, ref, err)
	}
	return img, nil
}

// preprocess resizes img to the configured square and normalises each RGB
// channel as (v - mean) * scale, returning a [1, 3, S, S] tensor.
func preprocess(img image.Image, cfg *model.VisualConfig) *tensor.Tensor {
	size := cfg.ImageSize
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	plane := size * size
	out := make([]float32, 3*plane)
	for y := range size {
		for x := range size {
			o := dst.PixOffset(x, y)
			for c := range 3 {
				v := float32(dst.Pix[o+c])
				out[c*plane+y*size+x] = (v - cfg.Mean[c]) * cfg.Scale[c]
			}
		}
	}
	return tensor.Float32s([]int{1, 3, size, size}, out)
}

// imageRows runs the vision encoder for one reference and returns
// [PadLen, 1, hidden] rows ready to replace the pad embeddings.
func (s *Session) imageRows(ctx context.Context, ref string) (*tensor.Tensor, error) {
	cfg := s.variant.Visual
	img, err := fetchImage(ctx, s.opts.HTTPClient, ref)
	if err != nil {
		return nil, err
	}
	out, err := safeForward(ctx, s.visual, 1, preprocess(img, cfg))
	if err != nil {
		return nil, fmt.Errorf("visual: %w", err)
	}
	emb := out[0]
	if emb.Rank() != 3 || emb.Dim(0) != 1 || emb.Dim(1) != cfg.PadLen || emb.Dim(2) != s.variant.HiddenSize {
		return nil, fmt.Errorf("%w: visual output %v, want [1 %d %d]", ErrForward, emb, cfg.PadLen, s.variant.HiddenSize)
	}
	if emb, err = emb.Transpose01(); err != nil {
		return nil, err
	}
	return emb.Convert(tensor.DTypeF32)
}

// spliceImages overwrites the pad rows following each image's start token.
func (s *Session) spliceImages(ctx context.Context, hidden *tensor.Tensor, images []model.Image) (*tensor.Tensor, error) {
	if len(images) == 0 {
		return hidden, nil
	}
	if s.visual == nil {
		return nil, fmt.Errorf("%w: prompt contains images but %s has no visual module", ErrMalformedModel, s.variant.Name)
	}
	pad := s.variant.Visual.PadLen
	parts := make([]*tensor.Tensor, 0, 2*len(images)+1)
	next := 0
	for _, im := range images {
		start := im.Offset + 1
		if start < next || start+pad > hidden.Dim(0) {
			return nil, fmt.Errorf("%w: image placeholder at %d does not fit %d tokens", ErrForward, im.Offset, hidden.Dim(0))
		}
		s.log.Debug("encoding image", "ref", im.Ref, "offset", im.Offset)
		rows, err := s.imageRows(ctx, im.Ref)
		if err != nil {
			return nil, err
		}
		text, err := hidden.Rows(next, start)
		if err != nil {
			return nil, err
		}
		parts = append(parts, text, rows)
		next = start + pad
	}
	tail, err := hidden.Rows(next, hidden.Dim(0))
	if err != nil {
		return nil, err
	}
	return tensor.Concat(append(parts, tail)...)
}
