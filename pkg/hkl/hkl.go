// Package hkl reads and writes integrated reflections in the fixed-column
// SHELX HKLF 4 format.
package hkl

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"braggflood/internal/models"
)

// ErrFieldOverflow is returned when a scaled intensity does not fit the
// eight character field
var ErrFieldOverflow = errors.New("hkl: value does not fit the F8.2 field")

// maxField is the largest magnitude an F8.2 field can hold
const maxField = 99999.99

// Reflection is one record of an HKL file. Batch carries the integration
// status: 1 valid, 2 on edge, 3 no peak.
type Reflection struct {
	H, K, L   int
	Intensity float64
	Sigma     float64
	Batch     int
}

// BatchFor maps an integration status onto the batch column
func BatchFor(s models.Status) int {
	switch s {
	case models.Valid:
		return 1
	case models.OnEdge:
		return 2
	}
	return 3
}

// FromResults converts peak results to reflections, skipping NoPeak
// results unless includeNoPeak is set
func FromResults(results []models.PeakResult, includeNoPeak bool) []Reflection {
	var out []Reflection
	for _, r := range results {
		if r.Status == models.NoPeak && !includeNoPeak {
			continue
		}
		out = append(out, Reflection{
			H:         r.Peak.H,
			K:         r.Peak.K,
			L:         r.Peak.L,
			Intensity: r.Intensity,
			Sigma:     r.Sigma,
			Batch:     BatchFor(r.Status),
		})
	}
	return out
}

// AutoScale returns the power of ten that keeps every intensity and sigma
// inside the F8.2 field
func AutoScale(refls []Reflection) float64 {
	largest := 0.0
	for _, r := range refls {
		largest = math.Max(largest, math.Max(math.Abs(r.Intensity), math.Abs(r.Sigma)))
	}
	scale := 1.0
	for largest*scale > maxField {
		scale /= 10
	}
	return scale
}

// Write writes refls with intensities and sigmas multiplied by scale,
// followed by the all-zero terminating record
func Write(w io.Writer, refls []Reflection, scale float64) error {
	bw := bufio.NewWriter(w)
	for _, r := range refls {
		i, s := r.Intensity*scale, r.Sigma*scale
		if math.Abs(i) > maxField || math.Abs(s) > maxField {
			return fmt.Errorf("%w: (%d %d %d) I=%g sigma=%g", ErrFieldOverflow, r.H, r.K, r.L, i, s)
		}
		if _, err := fmt.Fprintf(bw, "%4d%4d%4d%8.2f%8.2f%4d\n", r.H, r.K, r.L, i, s, r.Batch); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(bw, "%4d%4d%4d%8.2f%8.2f%4d\n", 0, 0, 0, 0.0, 0.0, 0); err != nil {
		return err
	}
	return bw.Flush()
}

// field cuts columns [from, to) of line, tolerating short lines
func field(line string, from, to int) string {
	if from >= len(line) {
		return ""
	}
	return strings.TrimSpace(line[from:min(to, len(line))])
}

// Read parses records until the terminating 0 0 0 record or end of input
func Read(r io.Reader) ([]Reflection, error) {
	var out []Reflection
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		var ints [4]int
		for k, span := range [][2]int{{0, 4}, {4, 8}, {8, 12}, {28, 32}} {
			f := field(line, span[0], span[1])
			if f == "" {
				continue
			}
			v, err := strconv.Atoi(f)
			if err != nil {
				return nil, fmt.Errorf("hkl: line %d: %w", lineNo, err)
			}
			ints[k] = v
		}
		if ints[0] == 0 && ints[1] == 0 && ints[2] == 0 {
			return out, nil
		}

		var floats [2]float64
		for k, span := range [][2]int{{12, 20}, {20, 28}} {
			v, err := strconv.ParseFloat(field(line, span[0], span[1]), 64)
			if err != nil {
				return nil, fmt.Errorf("hkl: line %d: %w", lineNo, err)
			}
			floats[k] = v
		}
		out = append(out, Reflection{
			H: ints[0], K: ints[1], L: ints[2],
			Intensity: floats[0], Sigma: floats[1],
			Batch: ints[3],
		})
	}
	return out, sc.Err()
}

// SaveFile writes refls to path
func SaveFile(path string, refls []Reflection, scale float64) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create HKL file: %w", err)
	}
	defer file.Close()

	if err := Write(file, refls, scale); err != nil {
		return err
	}
	return file.Close()
}

// LoadFile reads the reflections in path
func LoadFile(path string) ([]Reflection, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open HKL file: %w", err)
	}
	defer file.Close()
	return Read(file)
}
