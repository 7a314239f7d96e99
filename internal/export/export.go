// Package export writes trajectory results as text files: a stage parameter
// block followed by CSV samples.
package export

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/star/stageflight/internal/trajectory"
)

// Header is the column row of the sample table.
var Header = []string{"TIME", "HEIGHT", "VELOCITY", "MASS", "THRUST", "DRAG", "GAMMA", "RANGE"}

// Write renders the stage parameters of v and every sample of res to w.
func Write(w io.Writer, v trajectory.Vehicle, res *trajectory.Result) error {
	bw := bufio.NewWriter(w)

	for i, s := range v.Stages {
		fmt.Fprintf(bw, "STAGE %d Parameters:\n", i+1)
		fmt.Fprintf(bw, "Fuel mass (kg): %g\n", s.FuelMass)
		fmt.Fprintf(bw, "Dry mass (kg): %g\n", s.DryMass)
		fmt.Fprintf(bw, "Fuel fract: %g\n", s.FuelFraction())
		fmt.Fprintf(bw, "Isp: %g\n", s.Isp)
		fmt.Fprintf(bw, "Burn time (sec): %g\n", s.BurnTime())
		fmt.Fprintf(bw, "Thrust (N): %g\n", s.Thrust)
		fmt.Fprintf(bw, "dM/dt: %g\n", s.MassFlowRate())
	}
	bw.WriteString("\n")

	cw := csv.NewWriter(bw)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	row := make([]string, len(Header))
	for _, s := range res.States {
		for i, x := range []float64{s.Time, s.Altitude, s.Velocity, s.Mass, s.Thrust, s.Drag, s.Gamma, s.Range()} {
			row[i] = strconv.FormatFloat(x, 'f', 3, 64)
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing sample: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("writing samples: %w", err)
	}

	return bw.Flush()
}

// Writer manages result files on disk.
type Writer struct {
	dir      string
	maxFiles int
}

// NewWriter creates a Writer that stores files in dir and keeps at most
// maxFiles.
func NewWriter(dir string, maxFiles int) *Writer {
	if maxFiles <= 0 {
		maxFiles = 20
	}
	return &Writer{
		dir:      dir,
		maxFiles: maxFiles,
	}
}

// Dir returns the export directory.
func (w *Writer) Dir() string {
	return w.dir
}

// Save writes a result to a timestamped file, prunes old files beyond
// maxFiles and returns the file name.
func (w *Writer) Save(v trajectory.Vehicle, res *trajectory.Result, ts time.Time) (string, error) {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return "", fmt.Errorf("creating export dir: %w", err)
	}

	name := fmt.Sprintf("run_%d.csv", ts.UnixNano())
	f, err := os.Create(filepath.Join(w.dir, name))
	if err != nil {
		return "", fmt.Errorf("creating export file: %w", err)
	}
	if err := Write(f, v, res); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing export file: %w", err)
	}

	return name, w.prune()
}

// File is a stored result file.
type File struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// List returns stored files, oldest first.
func (w *Writer) List() ([]File, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing export dir: %w", err)
	}

	var files []File
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, "run_") || !strings.HasSuffix(name, ".csv") {
			continue
		}
		nanos, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(name, "run_"), ".csv"), 10, 64)
		if err != nil {
			continue
		}
		files = append(files, File{Name: name, CreatedAt: time.Unix(0, nanos)})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].CreatedAt.Before(files[j].CreatedAt)
	})

	return files, nil
}

// Open opens a stored file by name.
func (w *Writer) Open(name string) (*os.File, error) {
	if name != filepath.Base(name) || !strings.HasPrefix(name, "run_") || !strings.HasSuffix(name, ".csv") {
		return nil, fmt.Errorf("invalid export file name %q", name)
	}
	return os.Open(filepath.Join(w.dir, name))
}

func (w *Writer) prune() error {
	files, err := w.List()
	if err != nil {
		return err
	}
	if len(files) <= w.maxFiles {
		return nil
	}

	// Remove oldest files.
	for _, f := range files[:len(files)-w.maxFiles] {
		if err := os.Remove(filepath.Join(w.dir, f.Name)); err != nil {
			return fmt.Errorf("pruning export file %s: %w", f.Name, err)
		}
	}
	return nil
}
