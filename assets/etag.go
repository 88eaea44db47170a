package assets

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// computeETag hashes the file content with BLAKE3 and formats a strong
// validator. The first 16 bytes of the digest are enough to make
// collisions implausible for a document root.
func computeETag(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	sum := h.Sum(nil)
	return fmt.Sprintf("%q", hex.EncodeToString(sum[:16])), nil
}
