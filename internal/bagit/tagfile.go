package bagit

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
)

// field is one "Label: value" line of bagit.txt or bag-info.txt.
type field struct {
	Label string
	Value string
}

// readTagFile parses a tag file. Lines starting with whitespace continue the
// previous value.
func readTagFile(path string) ([]field, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return parseTagFile(f, path)
}

func parseTagFile(r io.Reader, name string) ([]field, error) {
	var fields []field
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if lineNo == 1 {
			line = strings.TrimPrefix(line, "\ufeff")
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			if len(fields) == 0 {
				return nil, fmt.Errorf("%s:%d: continuation line without a field", name, lineNo)
			}
			last := &fields[len(fields)-1]
			last.Value += " " + strings.TrimSpace(line)
			continue
		}
		label, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("%s:%d: malformed line %q", name, lineNo, line)
		}
		fields = append(fields, field{Label: strings.TrimSpace(label), Value: strings.TrimSpace(value)})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return fields, nil
}

// writeTagFile writes fields in the given order.
func writeTagFile(path string, fields []field) error {
	var b strings.Builder
	for _, f := range fields {
		fmt.Fprintf(&b, "%s: %s\n", f.Label, f.Value)
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// fieldsToInfo groups fields by label, keeping repeated values in file order.
func fieldsToInfo(fields []field) map[string][]string {
	info := make(map[string][]string)
	for _, f := range fields {
		info[f.Label] = append(info[f.Label], f.Value)
	}
	return info
}

// infoToFields flattens info with labels sorted.
func infoToFields(info map[string][]string) []field {
	labels := make([]string, 0, len(info))
	for label := range info {
		labels = append(labels, label)
	}
	slices.Sort(labels)
	var fields []field
	for _, label := range labels {
		for _, v := range info[label] {
			fields = append(fields, field{Label: label, Value: v})
		}
	}
	return fields
}
