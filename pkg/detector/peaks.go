package detector

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"braggflood/internal/models"
)

type peakFile struct {
	Peaks []models.PeakCandidate `yaml:"peaks"`
}

// LoadPeaks reads a YAML list of peak candidates
func LoadPeaks(path string) ([]models.PeakCandidate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading peaks file: %w", err)
	}
	var pf peakFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("error parsing peaks file: %w", err)
	}
	for i, p := range pf.Peaks {
		if p.TOF <= 0 || p.DSpacing <= 0 {
			return nil, fmt.Errorf("peak %d %v: tof and dSpacing must be positive", i, p)
		}
	}
	return pf.Peaks, nil
}

// SavePeaks writes peak candidates as YAML
func SavePeaks(path string, peaks []models.PeakCandidate) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating peaks directory: %w", err)
	}
	data, err := yaml.Marshal(peakFile{Peaks: peaks})
	if err != nil {
		return fmt.Errorf("error marshaling peaks: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing peaks file: %w", err)
	}
	return nil
}
