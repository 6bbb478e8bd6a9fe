package pose

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // frames may arrive PNG-encoded
	"strings"
)

// jpegQuality is the fixed encoding quality for result frames.
const jpegQuality = 85

// DecodeFrame decodes a base64 frame payload into an image. The payload may
// carry a data-URI prefix ("data:image/jpeg;base64,....") or be raw base64.
func DecodeFrame(payload string) (image.Image, error) {
	// Everything before the last comma is the data-URI header, if any
	if idx := strings.LastIndex(payload, ","); idx >= 0 {
		payload = payload[idx+1:]
	}
	if payload == "" {
		return nil, fmt.Errorf("empty image payload")
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 image data: %w", err)
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid image format: %w", err)
	}

	return img, nil
}

// EncodeFrame encodes an image as JPEG at the given quality and returns it
// as a data URI, the format the pose_response image field carries.
func EncodeFrame(img image.Image, quality int) (string, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return "", fmt.Errorf("failed to encode jpeg: %w", err)
	}

	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Mirror returns the horizontal mirror of an image. Inbound camera frames
// are normalized to the selfie orientation the client sees before the
// transform runs.
func Mirror(img image.Image) image.Image {
	b := img.Bounds()
	out := image.NewRGBA(b)

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.Set(x, y, img.At(b.Max.X-1-(x-b.Min.X), y))
		}
	}

	return out
}
