// Package output writes accumulated project records to numbered JSON chunk
// files, each carrying a metadata header describing its place in the run.
package output

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Sternrassler/dime-scraper/pkg/client"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	dimeFilesWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dime_files_written_total",
		Help: "Total number of chunk files written",
	})

	dimeRecordsWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dime_records_written_total",
		Help: "Total number of project records written to chunk files",
	})
)

// TimestampLayout is the layout of the per-run timestamp used in file
// names and in metadata.scraped_at.
const TimestampLayout = "20060102_150405"

// DefaultSource names the upstream in file metadata.
const DefaultSource = "DIME Philippines Dashboard"

// Config holds writer configuration.
type Config struct {
	// OutputDir receives the chunk files; created if missing.
	OutputDir string

	// RecordsPerFile is the chunk size.
	RecordsPerFile int

	// Source and SourceURL are copied into every file's metadata.
	Source    string
	SourceURL string

	// RunID is copied into metadata when set.
	RunID string
}

// DefaultConfig returns a default writer configuration.
func DefaultConfig(sourceURL string) Config {
	return Config{
		OutputDir:      "scraped_data",
		RecordsPerFile: 1000,
		Source:         DefaultSource,
		SourceURL:      sourceURL,
	}
}

// Metadata is the header of one chunk file.
type Metadata struct {
	TotalProjectsInFile int    `json:"total_projects_in_file"`
	FileNumber          int    `json:"file_number"`
	TotalFiles          int    `json:"total_files"`
	RecordsRange        string `json:"records_range"`
	TotalProjects       int    `json:"total_projects"`
	ScrapedAt           string `json:"scraped_at"`
	Source              string `json:"source"`
	URL                 string `json:"url"`
	RunID               string `json:"run_id,omitempty"`
}

// File is the full content of one chunk file.
type File struct {
	Metadata Metadata         `json:"metadata"`
	Projects []client.Project `json:"projects"`
}

// WriteError reports a filesystem failure while writing chunks. It is never
// retried.
type WriteError struct {
	Op   string
	Path string
	Err  error
}

// Error implements the error interface.
func (e *WriteError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *WriteError) Unwrap() error {
	return e.Err
}

// Writer splits record sequences into chunk files.
type Writer struct {
	config Config
	logger zerolog.Logger
	now    func() time.Time
}

// NewWriter creates a new chunk writer.
func NewWriter(cfg Config, logger zerolog.Logger) (*Writer, error) {
	if cfg.RecordsPerFile <= 0 {
		return nil, fmt.Errorf("records_per_file must be > 0 (got %d)", cfg.RecordsPerFile)
	}
	if cfg.OutputDir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if cfg.Source == "" {
		cfg.Source = DefaultSource
	}

	return &Writer{
		config: cfg,
		logger: logger.With().Str("component", "writer").Logger(),
		now:    time.Now,
	}, nil
}

// SetClock overrides the time source (for testing).
func (w *Writer) SetClock(now func() time.Time) {
	w.now = now
}

// FileCount returns ceil(records / chunkSize).
func FileCount(records, chunkSize int) int {
	if records <= 0 || chunkSize <= 0 {
		return 0
	}
	return (records + chunkSize - 1) / chunkSize
}

// FileName builds the chunk file name for one part of a run.
func FileName(prefix, timestamp string, part, total int) string {
	return fmt.Sprintf("%s_%s_part_%03d_of_%03d.json", prefix, timestamp, part, total)
}

// PrefixForStatus returns the file name prefix used for a status filter.
func PrefixForStatus(status string) string {
	if status == "" {
		return "dime_projects_all"
	}
	return "dime_projects_" + strings.ToLower(status)
}

// Write stores records in ceil(len/RecordsPerFile) files and returns their
// paths in part order. An empty slice writes nothing. Existing files with
// the same name are overwritten.
func (w *Writer) Write(records []client.Project, prefix string) ([]string, error) {
	total := len(records)
	chunkSize := w.config.RecordsPerFile
	numFiles := FileCount(total, chunkSize)
	if numFiles == 0 {
		w.logger.Info().Str("prefix", prefix).Msg("No projects to save")
		return nil, nil
	}

	w.logger.Info().
		Int("total", total).
		Int("files", numFiles).
		Str("output_dir", w.config.OutputDir).
		Msg("Saving projects to JSON files")

	if err := os.MkdirAll(w.config.OutputDir, 0o755); err != nil {
		return nil, &WriteError{Op: "mkdir", Path: w.config.OutputDir, Err: err}
	}

	timestamp := w.now().Format(TimestampLayout)
	paths := make([]string, 0, numFiles)

	for i := 0; i < numFiles; i++ {
		startIdx := i * chunkSize
		endIdx := min(startIdx+chunkSize, total)
		chunk := records[startIdx:endIdx]

		file := File{
			Metadata: Metadata{
				TotalProjectsInFile: len(chunk),
				FileNumber:          i + 1,
				TotalFiles:          numFiles,
				RecordsRange:        fmt.Sprintf("%d-%d", startIdx+1, endIdx),
				TotalProjects:       total,
				ScrapedAt:           timestamp,
				Source:              w.config.Source,
				URL:                 w.config.SourceURL,
				RunID:               w.config.RunID,
			},
			Projects: chunk,
		}

		path := filepath.Join(w.config.OutputDir, FileName(prefix, timestamp, i+1, numFiles))
		if err := writeFile(path, &file); err != nil {
			return paths, err
		}
		paths = append(paths, path)

		dimeFilesWrittenTotal.Inc()
		dimeRecordsWrittenTotal.Add(float64(len(chunk)))

		w.logger.Info().
			Int("records", len(chunk)).
			Str("file", filepath.Base(path)).
			Msg("Saved projects")
	}

	return paths, nil
}

func writeFile(path string, file *File) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return &WriteError{Op: "create", Path: path, Err: err}
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = &WriteError{Op: "close", Path: path, Err: cerr}
		}
	}()

	buf := bufio.NewWriter(f)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(file); err != nil {
		return &WriteError{Op: "encode", Path: path, Err: err}
	}
	if err := buf.Flush(); err != nil {
		return &WriteError{Op: "write", Path: path, Err: err}
	}
	return nil
}

// ReadFile decodes one chunk file.
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file File
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &file, nil
}

// IsWriteError reports whether err came from a chunk write.
func IsWriteError(err error) bool {
	var we *WriteError
	return errors.As(err, &we)
}
