// Package hosts reads the target list: one host per line, blank lines
// ignored.
package hosts

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Parse returns the non-blank, trimmed lines of r in order. Lines starting
// with '#' are comments.
func Parse(r io.Reader) ([]string, error) {
	var out []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Load reads and parses a host list file.
func Load(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open host list %q: %w", path, err)
	}
	defer f.Close()
	list, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("read host list %q: %w", path, err)
	}
	return list, nil
}

// File re-reads the host list on every call.
type File string

func (f File) Hosts() ([]string, error) {
	return Load(string(f))
}
