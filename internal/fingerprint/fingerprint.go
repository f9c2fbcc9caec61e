// Package fingerprint computes content fingerprints for deduplication.
package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"os"

	"github.com/corona10/goimagehash"
	"github.com/rotisserie/eris"
	_ "golang.org/x/image/webp" // register decoder
)

// Exact returns the lowercase hex SHA-256 of data.
func Exact(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Perceptual returns the 64-bit average hash of an encoded image.
func Perceptual(data []byte) (uint64, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return 0, eris.Wrap(err, "fingerprint: decode image")
	}
	return hashImage(img)
}

// PerceptualFile hashes an encoded image on disk, typically an extracted
// video frame.
func PerceptualFile(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, eris.Wrap(err, "fingerprint: read frame")
	}
	return Perceptual(data)
}

func hashImage(img image.Image) (uint64, error) {
	h, err := goimagehash.AverageHash(img)
	if err != nil {
		return 0, eris.Wrap(err, "fingerprint: average hash")
	}
	return h.GetHash(), nil
}

// Distance is the Hamming distance between two average hashes.
func Distance(a, b uint64) int {
	d, err := goimagehash.NewImageHash(a, goimagehash.AHash).Distance(goimagehash.NewImageHash(b, goimagehash.AHash))
	if err != nil {
		return 64
	}
	return d
}
