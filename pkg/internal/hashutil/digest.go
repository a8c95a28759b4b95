package hashutil

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"
)

// Algorithm names accepted in digest strings.
const (
	SHA1   = "sha1"
	SHA256 = "sha256"
	SHA512 = "sha512"
)

// Digest is a parsed "algo:hex" content digest.
type Digest struct {
	Algorithm string
	Hex       string
}

func (d Digest) String() string {
	return d.Algorithm + ":" + d.Hex
}

// ParseDigest parses "sha256:abcd..." style strings. A bare hex string is
// accepted when its length identifies the algorithm unambiguously.
func ParseDigest(s string) (Digest, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	algo, hexPart, found := strings.Cut(s, ":")
	if !found {
		hexPart = s
		switch len(s) {
		case sha1.Size * 2:
			algo = SHA1
		case sha256.Size * 2:
			algo = SHA256
		case sha512.Size * 2:
			algo = SHA512
		default:
			return Digest{}, fmt.Errorf("cannot infer digest algorithm from %d hex characters", len(s))
		}
	}
	h, err := NewHash(algo)
	if err != nil {
		return Digest{}, err
	}
	if _, err := hex.DecodeString(hexPart); err != nil {
		return Digest{}, fmt.Errorf("digest %q is not hex: %w", s, err)
	}
	if len(hexPart) != h.Size()*2 {
		return Digest{}, fmt.Errorf("%s digest must be %d hex characters, got %d", algo, h.Size()*2, len(hexPart))
	}
	return Digest{Algorithm: algo, Hex: hexPart}, nil
}

// NewHash returns a hash.Hash for one of the supported algorithms.
func NewHash(algo string) (hash.Hash, error) {
	switch algo {
	case SHA1:
		return sha1.New(), nil
	case SHA256:
		return sha256.New(), nil
	case SHA512:
		return sha512.New(), nil
	}
	return nil, fmt.Errorf("unsupported digest algorithm %q", algo)
}

// Sum hashes r with the given algorithm.
func Sum(algo string, r io.Reader) (Digest, error) {
	h, err := NewHash(algo)
	if err != nil {
		return Digest{}, err
	}
	if _, err := io.Copy(h, r); err != nil {
		return Digest{}, err
	}
	return Digest{Algorithm: algo, Hex: hex.EncodeToString(h.Sum(nil))}, nil
}

// SumFile hashes the file at path.
func SumFile(algo, path string) (Digest, error) {
	file, err := os.Open(path)
	if err != nil {
		return Digest{}, err
	}
	defer func() {
		_ = file.Close()
	}()
	return Sum(algo, file)
}

// CalculateFileChecksum returns the sha256 digest of a file in "sha256:hex"
// form. Manifests use it to record staged files.
func CalculateFileChecksum(path string) (string, error) {
	d, err := SumFile(SHA256, path)
	if err != nil {
		return "", err
	}
	return d.String(), nil
}

// Verify hashes the file at path with expected's algorithm and reports
// whether it matches, along with the actual digest.
func Verify(path string, expected Digest) (bool, Digest, error) {
	actual, err := SumFile(expected.Algorithm, path)
	if err != nil {
		return false, Digest{}, err
	}
	return actual.Hex == expected.Hex, actual, nil
}
