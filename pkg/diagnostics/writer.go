package diagnostics

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"braggflood/pkg/integration"
)

// AttemptRecord is the YAML form of one pixel attempt
type AttemptRecord struct {
	Row       int     `yaml:"row"`
	Col       int     `yaml:"col"`
	Round     int     `yaml:"round"`
	Verdict   string  `yaml:"verdict"`
	Intensity float64 `yaml:"intensity"`
	Sigma     float64 `yaml:"sigma"`
}

// PeakReport is the YAML summary written next to the images of a peak
type PeakReport struct {
	Peak      string          `yaml:"peak"`
	Status    string          `yaml:"status"`
	Intensity float64         `yaml:"intensity"`
	Sigma     float64         `yaml:"sigma"`
	Error     string          `yaml:"error,omitempty"`
	SeedRow   int             `yaml:"seedRow"`
	SeedCol   int             `yaml:"seedCol"`
	Pixels    int             `yaml:"pixels"`
	Attempts  []AttemptRecord `yaml:"attempts"`
}

// Writer saves per-peak diagnostics under Dir
type Writer struct {
	Dir string
	// CellSize is the edge in image pixels of one detector pixel
	CellSize int
}

// NewWriter creates dir if needed
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create diagnostics directory: %w", err)
	}
	return &Writer{Dir: dir, CellSize: 24}, nil
}

// BaseName is the file prefix used for one peak
func BaseName(out integration.PeakOutput) string {
	p := out.Peak
	return fmt.Sprintf("peak_%d_%d_%d_det%d", p.H, p.K, p.L, p.DetectorID)
}

// Report builds the YAML summary of one peak
func Report(out integration.PeakOutput) PeakReport {
	rep := PeakReport{
		Peak:      out.Peak.String(),
		Status:    out.Status.String(),
		Intensity: out.Intensity,
		Sigma:     out.Sigma,
	}
	if out.Err != nil {
		rep.Error = out.Err.Error()
	}
	if d := out.Detail; d != nil {
		rep.SeedRow, rep.SeedCol = d.Seed.Row, d.Seed.Col
		rep.Pixels = d.State.Sum.N
		for _, a := range d.State.Attempts {
			rep.Attempts = append(rep.Attempts, AttemptRecord{
				Row:       a.Pixel.Row,
				Col:       a.Pixel.Col,
				Round:     a.Round,
				Verdict:   a.Verdict.String(),
				Intensity: a.Intensity,
				Sigma:     a.Sigma,
			})
		}
	}
	return rep
}

// WritePeak writes the report, the window image and, when any pixel was
// accepted, the focused spectrum of one peak. It returns the written paths.
func (w *Writer) WritePeak(out integration.PeakOutput) ([]string, error) {
	base := filepath.Join(w.Dir, BaseName(out))
	var written []string

	data, err := yaml.Marshal(Report(out))
	if err != nil {
		return written, fmt.Errorf("error marshaling report: %w", err)
	}
	if err := os.WriteFile(base+".yaml", data, 0644); err != nil {
		return written, fmt.Errorf("error writing report: %w", err)
	}
	written = append(written, base+".yaml")

	if out.Window == nil || out.Detail == nil {
		return written, nil
	}

	img, err := WindowImage(out.Window, out.Detail.State, out.Detail.Seed, w.CellSize)
	if err != nil {
		return written, err
	}
	if err := SaveImage(img, base+"_window.png"); err != nil {
		return written, err
	}
	written = append(written, base+"_window.png")

	st := out.Detail.State
	if st.Sum.N == 0 {
		return written, nil
	}
	err = PlotSpectrum(Spectrum{
		Title: fmt.Sprintf("%s  %s  %d pixels", out.Peak, out.Status, st.Sum.N),
		TOF:   out.Window.TOF,
		Data:  st.YFocused,
		Fit:   st.YFitFocused,
	}, base+"_spectrum.png")
	if err != nil {
		return written, err
	}
	written = append(written, base+"_spectrum.png")
	return written, nil
}
