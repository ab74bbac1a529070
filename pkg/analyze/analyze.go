// Package analyze summarizes the chunk files produced by a scrape: record
// counts per file, status and region breakdowns, implementing offices,
// funding sources and total cost.
package analyze

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/Sternrassler/dime-scraper/pkg/output"
)

var (
	// ErrNoDirectory is returned when the data directory does not exist.
	ErrNoDirectory = errors.New("data directory not found")

	// ErrNoFiles is returned when the directory holds no JSON files.
	ErrNoFiles = errors.New("no JSON files found")
)

// unknown labels records missing a field.
const unknown = "Unknown"

// FileStats describes one analyzed chunk file.
type FileStats struct {
	Path       string
	Projects   int
	FileNumber int
	TotalFiles int
}

// FileError records a file that could not be analyzed.
type FileError struct {
	Path string
	Err  error
}

// Count is one entry of a ranked breakdown.
type Count struct {
	Name  string
	Count int
}

// Summary aggregates every readable chunk file under a directory.
type Summary struct {
	Dir           string
	Files         []FileStats
	FileErrors    []FileError
	TotalProjects int
	TotalCost     float64

	statuses map[string]int
	regions  map[string]int
	offices  map[string]int
	funds    map[string]int
}

type named struct {
	Name *string `json:"name"`
}

// record holds the fields the summary reads; everything else is ignored.
type record struct {
	Status              *string         `json:"status"`
	Region              *string         `json:"region"`
	Cost                json.RawMessage `json:"cost"`
	ImplementingOffices []named         `json:"implementingOffices"`
	SourceOfFunds       []named         `json:"sourceOfFunds"`
}

// Analyze walks dir recursively and summarizes every *.json file in name
// order. Files that fail to decode are recorded in FileErrors and skipped.
func Analyze(dir string) (*Summary, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNoDirectory, dir)
	}

	paths, err := jsonFiles(dir)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoFiles, dir)
	}

	s := &Summary{
		Dir:      dir,
		statuses: make(map[string]int),
		regions:  make(map[string]int),
		offices:  make(map[string]int),
		funds:    make(map[string]int),
	}

	for _, path := range paths {
		if err := s.addFile(path); err != nil {
			s.FileErrors = append(s.FileErrors, FileError{Path: path, Err: err})
		}
	}

	return s, nil
}

func jsonFiles(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".json") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	sort.Slice(paths, func(i, j int) bool {
		return filepath.Base(paths[i]) < filepath.Base(paths[j])
	})
	return paths, nil
}

// addFile decodes the whole file before counting so a bad record leaves the
// totals untouched.
func (s *Summary) addFile(path string) error {
	file, err := output.ReadFile(path)
	if err != nil {
		return err
	}

	records := make([]record, len(file.Projects))
	for i, raw := range file.Projects {
		if err := json.Unmarshal(raw, &records[i]); err != nil {
			return fmt.Errorf("decode project %d: %w", i+1, err)
		}
	}

	for _, r := range records {
		s.TotalProjects++
		s.statuses[valueOr(r.Status)]++
		s.regions[valueOr(r.Region)]++
		for _, o := range r.ImplementingOffices {
			s.offices[valueOr(o.Name)]++
		}
		for _, f := range r.SourceOfFunds {
			s.funds[valueOr(f.Name)]++
		}
		s.TotalCost += parseCost(r.Cost)
	}

	s.Files = append(s.Files, FileStats{
		Path:       path,
		Projects:   len(records),
		FileNumber: file.Metadata.FileNumber,
		TotalFiles: file.Metadata.TotalFiles,
	})
	return nil
}

func valueOr(v *string) string {
	if v == nil || *v == "" {
		return unknown
	}
	return *v
}

// parseCost accepts a JSON number or a numeric string; anything else counts
// as zero.
func parseCost(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		if n, err := strconv.ParseFloat(strings.ReplaceAll(str, ",", ""), 64); err == nil {
			return n
		}
	}
	return 0
}

// Statuses returns all statuses, most common first.
func (s *Summary) Statuses() []Count { return ranked(s.statuses, 0) }

// Regions returns the n most common regions (all when n <= 0).
func (s *Summary) Regions(n int) []Count { return ranked(s.regions, n) }

// Offices returns the n most common implementing offices.
func (s *Summary) Offices(n int) []Count { return ranked(s.offices, n) }

// Funds returns the n most common sources of funds.
func (s *Summary) Funds(n int) []Count { return ranked(s.funds, n) }

// Share returns count as a percentage of all projects.
func (s *Summary) Share(count int) float64 {
	if s.TotalProjects == 0 {
		return 0
	}
	return float64(count) / float64(s.TotalProjects) * 100
}

// ranked sorts by count descending, then name.
func ranked(m map[string]int, n int) []Count {
	out := make([]Count, 0, len(m))
	for name, c := range m {
		out = append(out, Count{Name: name, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
