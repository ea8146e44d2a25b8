package bagit

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"slices"
)

var hashers = map[string]func() hash.Hash{
	"md5":    md5.New,
	"sha1":   sha1.New,
	"sha256": sha256.New,
	"sha512": sha512.New,
}

// Supported reports whether alg is a checksum algorithm this package can compute.
func Supported(alg string) bool {
	_, ok := hashers[alg]
	return ok
}

// hashFile streams path through every algorithm in algs at once and returns
// hex digests keyed by algorithm along with the byte count.
func hashFile(ctx context.Context, path string, algs []string) (map[string]string, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	hs := make(map[string]hash.Hash, len(algs))
	writers := make([]io.Writer, 0, len(algs))
	for _, alg := range algs {
		newHash, ok := hashers[alg]
		if !ok {
			return nil, 0, fmt.Errorf("unsupported checksum algorithm %q", alg)
		}
		h := newHash()
		hs[alg] = h
		writers = append(writers, h)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = f.Close() }()

	n, err := io.Copy(io.MultiWriter(writers...), f)
	if err != nil {
		return nil, 0, fmt.Errorf("hashing %s: %w", path, err)
	}

	digests := make(map[string]string, len(hs))
	for alg, h := range hs {
		digests[alg] = hex.EncodeToString(h.Sum(nil))
	}
	return digests, n, nil
}

func sortedAlgorithms(algs []string) []string {
	out := slices.Clone(algs)
	slices.Sort(out)
	return slices.Compact(out)
}
