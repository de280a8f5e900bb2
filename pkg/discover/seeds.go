package discover

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Seed is a page to start discovery from.
type Seed struct {
	URL   string
	Owner string
}

// ParseSeeds reads one "url [owner]" per line. Blank lines and lines
// starting with # are skipped.
func ParseSeeds(r io.Reader) ([]Seed, error) {
	var seeds []Seed
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		seed := Seed{URL: fields[0]}
		if len(fields) > 1 {
			seed.Owner = fields[1]
		}
		seeds = append(seeds, seed)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read seeds: %w", err)
	}
	return seeds, nil
}

func LoadSeeds(path string) ([]Seed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open seeds file: %w", err)
	}
	defer f.Close()
	return ParseSeeds(f)
}
