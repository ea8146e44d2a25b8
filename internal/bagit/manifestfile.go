package bagit

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const (
	payloadManifestPrefix = "manifest-"
	tagManifestPrefix     = "tagmanifest-"
	manifestSuffix        = ".txt"
)

var (
	pathEncoder = strings.NewReplacer("%", "%25", "\r", "%0D", "\n", "%0A")
	pathDecoder = strings.NewReplacer("%0D", "\r", "%0d", "\r", "%0A", "\n", "%0a", "\n", "%25", "%")
)

// manifestAlgorithms finds "<prefix><alg>.txt" files in dir and returns their algorithms.
func manifestAlgorithms(dir, prefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var algs []string
	for _, de := range entries {
		name := de.Name()
		if de.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, manifestSuffix) {
			continue
		}
		algs = append(algs, strings.TrimSuffix(strings.TrimPrefix(name, prefix), manifestSuffix))
	}
	slices.Sort(algs)
	return algs, nil
}

// readManifest parses "<digest> <path>" lines into path → digest.
func readManifest(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	out := make(map[string]string)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		idx := strings.IndexAny(line, " \t")
		if idx <= 0 {
			return nil, fmt.Errorf("%s:%d: malformed manifest line %q", path, lineNo, line)
		}
		digest := strings.ToLower(line[:idx])
		entryPath := strings.TrimLeft(line[idx:], " \t")
		entryPath = strings.TrimPrefix(entryPath, "*")
		if entryPath == "" {
			return nil, fmt.Errorf("%s:%d: missing path", path, lineNo)
		}
		out[pathDecoder.Replace(entryPath)] = digest
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return out, nil
}

// writeManifest writes digests sorted by path.
func writeManifest(path string, digests map[string]string) error {
	paths := make([]string, 0, len(digests))
	for p := range digests {
		paths = append(paths, p)
	}
	slices.Sort(paths)

	var b strings.Builder
	for _, p := range paths {
		fmt.Fprintf(&b, "%s  %s\n", digests[p], pathEncoder.Replace(p))
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func manifestName(prefix, alg string) string {
	return prefix + alg + manifestSuffix
}

// localPath maps a manifest path to a file under root, rejecting paths that
// would leave the bag.
func localPath(root, manifestPath string) (string, bool) {
	rel := filepath.FromSlash(manifestPath)
	if !filepath.IsLocal(rel) {
		return "", false
	}
	return filepath.Join(root, rel), true
}
