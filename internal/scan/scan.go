// Package scan searches captured log text for known fatal-error signatures.
package scan

import (
	"os"
	"strings"
	"time"
)

// flushDelay gives the log streamer a moment to drain buffered output
// before the artifact is read.
const flushDelay = 500 * time.Millisecond

// Match identifies the first configured pattern found in a log artifact.
type Match struct {
	Pattern string
	Found   bool
}

// Scanner checks log artifacts against an ordered pattern list.
type Scanner struct {
	delay time.Duration
}

func New() *Scanner {
	return &Scanner{delay: flushDelay}
}

// NewWithDelay is used by tests to skip the flush wait.
func NewWithDelay(delay time.Duration) *Scanner {
	return &Scanner{delay: delay}
}

// ScanFile reads the log artifact and scans it. A missing artifact is a
// clean pass: no captured text means no detectable signature.
func (s *Scanner) ScanFile(path string, patterns []string) (Match, error) {
	if len(patterns) == 0 {
		return Match{}, nil
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Match{}, nil
		}
		return Match{}, err
	}
	return Scan(string(data), patterns), nil
}

// Scan returns the first pattern, in configured order, present in text.
// First match wins for reporting; any match fails the iteration.
func Scan(text string, patterns []string) Match {
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		if strings.Contains(text, pattern) {
			return Match{Pattern: pattern, Found: true}
		}
	}
	return Match{}
}
