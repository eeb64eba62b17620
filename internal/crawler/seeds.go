package crawler

import (
	"bufio"
	"io"
	"strings"
)

// ReadSeeds reads one URL per line, ignoring blank lines and # comments.
func ReadSeeds(r io.Reader) ([]string, error) {
	var seeds []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		seeds = append(seeds, line)
	}
	return seeds, sc.Err()
}
