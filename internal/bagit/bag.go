// Package bagit reads, validates and creates BagIt bags on the local
// filesystem and exposes them to splitset through Adapter.
package bagit

import (
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/hpungsan/bagsplit/internal/manifest"
)

const (
	// PayloadDir is the directory holding a bag's payload.
	PayloadDir = "data"

	declarationFile = "bagit.txt"
	infoFile        = "bag-info.txt"

	version  = "1.0"
	encoding = "UTF-8"

	// SoftwareAgent is written to Bag-Software-Agent when a bag is created.
	SoftwareAgent = "bagsplit"
)

// Well-known bag-info.txt fields maintained by Make.
const (
	FieldPayloadOxum   = "Payload-Oxum"
	FieldBaggingDate   = "Bagging-Date"
	FieldSoftwareAgent = "Bag-Software-Agent"
)

// DefaultAlgorithms are used by Make when none are requested.
var DefaultAlgorithms = []string{"sha256"}

// Bag is a bag as declared by its tag files. Open never reads payload content.
type Bag struct {
	Path     string
	Version  string
	Encoding string
	// Info holds bag-info.txt fields in file order per label.
	Info map[string][]string
	// Manifests maps algorithm → manifest path → digest.
	Manifests    map[string]map[string]string
	TagManifests map[string]map[string]string
}

// ValidationError lists every problem found by Validate.
type ValidationError struct {
	Path     string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("bag %s is invalid: %s", e.Path, strings.Join(e.Problems, "; "))
}

// Open loads the bag declaration, bag-info and manifests at path.
func Open(path string) (*Bag, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	decl, err := readTagFile(filepath.Join(abs, declarationFile))
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s is not a bag: missing %s", abs, declarationFile)
		}
		return nil, err
	}
	b := &Bag{
		Path:         abs,
		Info:         map[string][]string{},
		Manifests:    map[string]map[string]string{},
		TagManifests: map[string]map[string]string{},
	}
	for _, f := range decl {
		switch f.Label {
		case "BagIt-Version":
			b.Version = f.Value
		case "Tag-File-Character-Encoding":
			b.Encoding = f.Value
		}
	}

	info, err := readTagFile(filepath.Join(abs, infoFile))
	switch {
	case err == nil:
		b.Info = fieldsToInfo(info)
	case !stderrors.Is(err, fs.ErrNotExist):
		return nil, err
	}

	if err := b.loadManifests(payloadManifestPrefix, b.Manifests); err != nil {
		return nil, err
	}
	if err := b.loadManifests(tagManifestPrefix, b.TagManifests); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Bag) loadManifests(prefix string, into map[string]map[string]string) error {
	algs, err := manifestAlgorithms(b.Path, prefix)
	if err != nil {
		return err
	}
	for _, alg := range algs {
		m, err := readManifest(filepath.Join(b.Path, manifestName(prefix, alg)))
		if err != nil {
			return err
		}
		into[alg] = m
	}
	return nil
}

// Algorithms returns the payload manifest algorithms, sorted.
func (b *Bag) Algorithms() []string {
	algs := make([]string, 0, len(b.Manifests))
	for alg := range b.Manifests {
		algs = append(algs, alg)
	}
	slices.Sort(algs)
	return algs
}

// Entries merges payload and tag manifests into one entry per path. Sizes come
// from the files on disk when present.
func (b *Bag) Entries() manifest.EntrySet {
	set := make(manifest.EntrySet)
	add := func(manifests map[string]map[string]string) {
		for alg, m := range manifests {
			for path, digest := range m {
				e, ok := set[path]
				if !ok {
					e = manifest.Entry{Path: path, Checksums: map[string]string{}, Size: manifest.UnknownSize}
					if local, ok := localPath(b.Path, path); ok {
						if info, err := os.Stat(local); err == nil && info.Mode().IsRegular() {
							e.Size = info.Size()
						}
					}
				}
				e.Checksums[alg] = digest
				set[path] = e
			}
		}
	}
	add(b.Manifests)
	add(b.TagManifests)
	return set
}

// Validate checks the bag declaration, every manifest entry against the file
// it names, payload completeness and Payload-Oxum.
func (b *Bag) Validate(ctx context.Context) error {
	var problems []string
	report := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if b.Version == "" {
		report("%s has no BagIt-Version", declarationFile)
	}
	if len(b.Manifests) == 0 {
		report("no payload manifest")
	}
	for _, alg := range b.Algorithms() {
		if !Supported(alg) {
			report("unsupported manifest algorithm %q", alg)
		}
	}

	if err := b.checkManifests(ctx, b.Manifests, true, report); err != nil {
		return err
	}
	if err := b.checkManifests(ctx, b.TagManifests, false, report); err != nil {
		return err
	}

	onDisk, bytes, err := b.payloadFiles()
	if err != nil {
		return err
	}
	for alg, m := range b.Manifests {
		for _, path := range onDisk {
			if _, ok := m[path]; !ok {
				report("%s is not listed in %s", path, manifestName(payloadManifestPrefix, alg))
			}
		}
	}

	if oxums := b.Info[FieldPayloadOxum]; len(oxums) > 0 {
		wantBytes, wantCount, ok := parseOxum(oxums[0])
		switch {
		case !ok:
			report("malformed %s %q", FieldPayloadOxum, oxums[0])
		case wantBytes != bytes || wantCount != int64(len(onDisk)):
			report("%s %s does not match payload %d.%d", FieldPayloadOxum, oxums[0], bytes, len(onDisk))
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Path: b.Path, Problems: problems}
	}
	return nil
}

// checkManifests hashes each listed file once with every algorithm naming it.
func (b *Bag) checkManifests(ctx context.Context, manifests map[string]map[string]string, payload bool, report func(string, ...any)) error {
	byPath := make(map[string]map[string]string)
	for alg, m := range manifests {
		if !Supported(alg) {
			continue
		}
		for path, digest := range m {
			if byPath[path] == nil {
				byPath[path] = map[string]string{}
			}
			byPath[path][alg] = digest
		}
	}

	paths := make([]string, 0, len(byPath))
	for p := range byPath {
		paths = append(paths, p)
	}
	slices.Sort(paths)

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		if payload && !strings.HasPrefix(path, PayloadDir+"/") {
			report("payload manifest entry %s is outside %s/", path, PayloadDir)
			continue
		}
		local, ok := localPath(b.Path, path)
		if !ok {
			report("manifest entry %s escapes the bag", path)
			continue
		}
		want := byPath[path]
		algs := make([]string, 0, len(want))
		for alg := range want {
			algs = append(algs, alg)
		}
		got, _, err := hashFile(ctx, local, algs)
		if err != nil {
			if stderrors.Is(err, fs.ErrNotExist) {
				report("%s is listed but missing", path)
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			report("%s: %v", path, err)
			continue
		}
		for _, alg := range sortedAlgorithms(algs) {
			if got[alg] != want[alg] {
				report("%s %s checksum mismatch: expected %s, found %s", path, alg, want[alg], got[alg])
			}
		}
	}
	return nil
}

// payloadFiles lists payload files as slash paths relative to the bag, with
// their total size.
func (b *Bag) payloadFiles() ([]string, int64, error) {
	root := filepath.Join(b.Path, PayloadDir)
	var files []string
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root && stderrors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(b.Path, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		total += info.Size()
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	slices.Sort(files)
	return files, total, nil
}

func parseOxum(s string) (bytes, count int64, ok bool) {
	a, c, found := strings.Cut(strings.TrimSpace(s), ".")
	if !found {
		return 0, 0, false
	}
	bytes, errA := strconv.ParseInt(a, 10, 64)
	count, errC := strconv.ParseInt(c, 10, 64)
	return bytes, count, errA == nil && errC == nil
}

// Make turns dir into a bag in place: everything already in dir becomes the
// payload under data/, then the declaration, bag-info and manifests are
// written. info fields are copied; Payload-Oxum is always recomputed and
// Bagging-Date and Bag-Software-Agent are filled in when absent.
func Make(ctx context.Context, dir string, info map[string][]string, algorithms []string) (*Bag, error) {
	if len(algorithms) == 0 {
		algorithms = DefaultAlgorithms
	}
	algorithms = sortedAlgorithms(algorithms)
	for _, alg := range algorithms {
		if !Supported(alg) {
			return nil, fmt.Errorf("unsupported checksum algorithm %q", alg)
		}
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := movePayload(abs); err != nil {
		return nil, err
	}

	digests := make(map[string]map[string]string, len(algorithms))
	for _, alg := range algorithms {
		digests[alg] = map[string]string{}
	}
	var totalBytes, count int64
	payloadRoot := filepath.Join(abs, PayloadDir)
	err = filepath.WalkDir(payloadRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			info, err := os.Stat(path)
			if err != nil || !info.Mode().IsRegular() {
				return nil
			}
		}
		sums, n, err := hashFile(ctx, path, algorithms)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(abs, path)
		if err != nil {
			return err
		}
		for alg, sum := range sums {
			digests[alg][filepath.ToSlash(rel)] = sum
		}
		totalBytes += n
		count++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("hash payload of %s: %w", abs, err)
	}

	if err := writeTagFile(filepath.Join(abs, declarationFile), []field{
		{Label: "BagIt-Version", Value: version},
		{Label: "Tag-File-Character-Encoding", Value: encoding},
	}); err != nil {
		return nil, err
	}

	fields := make(map[string][]string, len(info)+3)
	for k, v := range info {
		fields[k] = slices.Clone(v)
	}
	if len(fields[FieldBaggingDate]) == 0 {
		fields[FieldBaggingDate] = []string{time.Now().Format(time.DateOnly)}
	}
	if len(fields[FieldSoftwareAgent]) == 0 {
		fields[FieldSoftwareAgent] = []string{SoftwareAgent}
	}
	fields[FieldPayloadOxum] = []string{fmt.Sprintf("%d.%d", totalBytes, count)}
	if err := writeTagFile(filepath.Join(abs, infoFile), infoToFields(fields)); err != nil {
		return nil, err
	}

	for _, alg := range algorithms {
		if err := writeManifest(filepath.Join(abs, manifestName(payloadManifestPrefix, alg)), digests[alg]); err != nil {
			return nil, err
		}
	}
	if err := writeTagManifests(ctx, abs, algorithms); err != nil {
		return nil, err
	}
	return Open(abs)
}

// movePayload moves every entry of dir into a fresh data/ directory.
func movePayload(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	tmp, err := os.MkdirTemp(dir, ".bagsplit-payload-")
	if err != nil {
		return err
	}
	tmpName := filepath.Base(tmp)
	for _, de := range entries {
		if de.Name() == tmpName {
			continue
		}
		if err := os.Rename(filepath.Join(dir, de.Name()), filepath.Join(tmp, de.Name())); err != nil {
			return fmt.Errorf("move %s into payload: %w", de.Name(), err)
		}
	}
	if err := os.Chmod(tmp, 0o755); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, PayloadDir))
}

// writeTagManifests hashes every file outside data/ except the tag manifests.
func writeTagManifests(ctx context.Context, dir string, algorithms []string) error {
	digests := make(map[string]map[string]string, len(algorithms))
	for _, alg := range algorithms {
		digests[alg] = map[string]string{}
	}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if d.IsDir() {
			if rel == PayloadDir {
				return fs.SkipDir
			}
			return nil
		}
		if rel == d.Name() && strings.HasPrefix(rel, tagManifestPrefix) {
			return nil
		}
		sums, _, err := hashFile(ctx, path, algorithms)
		if err != nil {
			return err
		}
		for alg, sum := range sums {
			digests[alg][filepath.ToSlash(rel)] = sum
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("hash tag files of %s: %w", dir, err)
	}
	for _, alg := range algorithms {
		if err := writeManifest(filepath.Join(dir, manifestName(tagManifestPrefix, alg)), digests[alg]); err != nil {
			return err
		}
	}
	return nil
}
