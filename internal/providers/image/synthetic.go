package image

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	stdimage "image"
	"image/color"
	"image/draw"
	"image/png"
	"strconv"
)

// SyntheticEnhancer renders deterministic placeholder images locally. It only
// runs when INFERENCE_PROVIDER=synthetic.
type SyntheticEnhancer struct {
	Width  int
	Height int
}

// NewSyntheticEnhancer returns a renderer producing 512x512 outputs.
func NewSyntheticEnhancer() *SyntheticEnhancer {
	return &SyntheticEnhancer{Width: 512, Height: 512}
}

func (s *SyntheticEnhancer) Enhance(ctx context.Context, req EnhanceRequest) ([]Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	quantity := req.Settings.Quantity
	if quantity <= 0 {
		quantity = 1
	}
	width, height := aspectSize(req.Settings.AspectRatio, s.Width, s.Height)
	outputs := make([]Output, 0, quantity)
	for i := 0; i < quantity; i++ {
		seed := deterministicSeed(req.JobID, req.InputURL, req.JobType, i)
		data, err := renderSyntheticImage(width, height, seed)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, Output{Data: data, MIME: "image/png"})
	}
	return outputs, nil
}

func (s *SyntheticEnhancer) String() string { return "synthetic" }

func aspectSize(aspect string, width, height int) (int, int) {
	if width <= 0 {
		width = 512
	}
	if height <= 0 {
		height = width
	}
	switch aspect {
	case "16:9":
		return width, width * 9 / 16
	case "9:16":
		return height * 9 / 16, height
	case "4:3":
		return width, width * 3 / 4
	case "3:4":
		return height * 3 / 4, height
	case "1:1":
		return width, width
	}
	return width, height
}

func renderSyntheticImage(width, height int, seed string) ([]byte, error) {
	img := stdimage.NewRGBA(stdimage.Rect(0, 0, width, height))
	base := colorFromSeed(seed, 0)
	accent := colorFromSeed(seed, 1)
	draw.Draw(img, img.Bounds(), &stdimage.Uniform{C: base}, stdimage.Point{}, draw.Src)

	stripe := max(16, height/12)
	for y := 0; y < height; y += stripe * 2 {
		band := stdimage.Rect(0, y, width, min(height, y+stripe))
		draw.Draw(img, band, &stdimage.Uniform{C: accent}, stdimage.Point{}, draw.Over)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("synthetic: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func colorFromSeed(seed string, shift int) color.RGBA {
	if len(seed) < 6 {
		seed = "000000"
	}
	doubled := seed + seed
	start := (shift * 6) % len(seed)
	segment := doubled[start : start+6]
	return color.RGBA{R: hexByte(segment[0:2]), G: hexByte(segment[2:4]), B: hexByte(segment[4:6]), A: 255}
}

func hexByte(s string) uint8 {
	v, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0
	}
	return uint8(v)
}

func deterministicSeed(parts ...any) string {
	hasher := sha256.New()
	for _, part := range parts {
		fmt.Fprintf(hasher, "%v|", part)
	}
	return hex.EncodeToString(hasher.Sum(nil))[:16]
}

var _ Enhancer = (*SyntheticEnhancer)(nil)
