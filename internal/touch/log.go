package touch

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// ReadLog decodes a JSONL touch capture, one Sample per line. Blank lines are
// skipped. The stream ordering invariant is enforced after decoding so a
// corrupt capture is rejected as a whole rather than mis-segmented.
func ReadLog(r io.Reader) ([]Sample, error) {
	var samples []Sample
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var s Sample
		if err := json.Unmarshal([]byte(text), &s); err != nil {
			return nil, fmt.Errorf("touch: line %d: decode sample: %w", line, err)
		}
		s.Normalize()
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("touch: line %d: %w", line, err)
		}
		samples = append(samples, s)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("touch: read log: %w", err)
	}
	if err := ValidateOrdering(samples); err != nil {
		return nil, err
	}
	return samples, nil
}

// ReadLogFile opens and decodes a JSONL touch capture from disk.
func ReadLogFile(path string) ([]Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("touch: open %s: %w", path, err)
	}
	defer f.Close()
	samples, err := ReadLog(f)
	if err != nil {
		return nil, fmt.Errorf("touch: %s: %w", path, err)
	}
	return samples, nil
}

// WriteLog encodes samples as JSONL in capture order.
func WriteLog(w io.Writer, samples []Sample) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for i, s := range samples {
		if err := enc.Encode(s); err != nil {
			return fmt.Errorf("touch: encode sample %d: %w", i, err)
		}
	}
	return bw.Flush()
}
