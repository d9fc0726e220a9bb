// Package detector holds time-of-flight detector banks in memory and cuts
// the pixel windows the integrator works on.
package detector

import (
	"errors"
	"fmt"
	"sort"

	"braggflood/internal/models"
)

var (
	// ErrUnknownDetector indicates a detector ID or bank name that no
	// loaded bank contains
	ErrUnknownDetector = errors.New("detector: unknown detector")
	// ErrEmptyWindow indicates a TOF crop with fewer than three bins
	ErrEmptyWindow = errors.New("detector: TOF window has fewer than three bins")
	// ErrMalformedBank indicates inconsistent bank dimensions
	ErrMalformedBank = errors.New("detector: malformed bank")
)

// Bank is one rectangular detector panel. Per-pixel slices are row-major;
// Counts and Variance hold Bins() values per pixel.
type Bank struct {
	Name string
	Rows int
	Cols int

	// TOF is the bin-centre time-of-flight axis in microseconds, shared by
	// every pixel of the bank
	TOF []float64

	DetectorIDs []int
	Constants   []models.DiffConstants

	Counts   []float64
	Variance []float64
}

// NewBank allocates an empty bank with consecutive detector IDs starting
// at firstID and the same constants on every pixel
func NewBank(name string, rows, cols int, tof []float64, firstID int, constants models.DiffConstants) *Bank {
	n := rows * cols
	b := &Bank{
		Name:        name,
		Rows:        rows,
		Cols:        cols,
		TOF:         append([]float64(nil), tof...),
		DetectorIDs: make([]int, n),
		Constants:   make([]models.DiffConstants, n),
		Counts:      make([]float64, n*len(tof)),
		Variance:    make([]float64, n*len(tof)),
	}
	for i := range b.DetectorIDs {
		b.DetectorIDs[i] = firstID + i
		b.Constants[i] = constants
	}
	return b
}

// Bins is the length of the TOF axis
func (b *Bank) Bins() int { return len(b.TOF) }

// Pixel is the row-major index of (row, col)
func (b *Bank) Pixel(row, col int) int { return row*b.Cols + col }

// Trace returns the counts and variance of one pixel. The slices alias the
// bank's storage.
func (b *Bank) Trace(row, col int) (counts, variance []float64) {
	n := b.Bins()
	off := b.Pixel(row, col) * n
	return b.Counts[off : off+n], b.Variance[off : off+n]
}

// Validate checks that every per-pixel slice matches the bank dimensions
func (b *Bank) Validate() error {
	n := b.Rows * b.Cols
	switch {
	case b.Rows < 1 || b.Cols < 1:
		return fmt.Errorf("%w: bank %q has %dx%d pixels", ErrMalformedBank, b.Name, b.Rows, b.Cols)
	case b.Bins() < 3:
		return fmt.Errorf("%w: bank %q has %d TOF bins", ErrMalformedBank, b.Name, b.Bins())
	case len(b.DetectorIDs) != n || len(b.Constants) != n:
		return fmt.Errorf("%w: bank %q pixel tables do not match %dx%d", ErrMalformedBank, b.Name, b.Rows, b.Cols)
	case len(b.Counts) != n*b.Bins() || len(b.Variance) != n*b.Bins():
		return fmt.Errorf("%w: bank %q data does not match %dx%dx%d", ErrMalformedBank, b.Name, b.Rows, b.Cols, b.Bins())
	}
	for i := 1; i < len(b.TOF); i++ {
		if b.TOF[i] <= b.TOF[i-1] {
			return fmt.Errorf("%w: bank %q TOF axis is not increasing at bin %d", ErrMalformedBank, b.Name, i)
		}
	}
	return nil
}

// CropSpec controls how much of the TOF axis a window keeps
type CropSpec struct {
	// NBins keeps a fixed number of bins centred on the nominal TOF
	NBins int
	// NFWHM keeps NFWHM expected FWHMs around the nominal TOF, the
	// expected FWHM being FWHMFraction*TOF. Takes precedence over NBins.
	NFWHM        float64
	FWHMFraction float64
}

type pixelRef struct {
	bank, row, col int
}

// Instrument is a set of banks addressed by detector ID. Spectrum IDs
// number the pixels of all banks consecutively in bank order.
type Instrument struct {
	Crop CropSpec

	banks   []*Bank
	offsets []int
	byID    map[int]pixelRef
	byName  map[string]int
}

// NewInstrument indexes the banks. Bank names and detector IDs must be
// unique across the instrument.
func NewInstrument(crop CropSpec, banks ...*Bank) (*Instrument, error) {
	in := &Instrument{
		Crop:   crop,
		byID:   make(map[int]pixelRef),
		byName: make(map[string]int),
	}
	offset := 0
	for bi, b := range banks {
		if err := b.Validate(); err != nil {
			return nil, err
		}
		if _, dup := in.byName[b.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate bank name %q", ErrMalformedBank, b.Name)
		}
		in.byName[b.Name] = bi
		for r := 0; r < b.Rows; r++ {
			for c := 0; c < b.Cols; c++ {
				id := b.DetectorIDs[b.Pixel(r, c)]
				if prev, dup := in.byID[id]; dup {
					return nil, fmt.Errorf("%w: detector %d appears in banks %q and %q", ErrMalformedBank, id, banks[prev.bank].Name, b.Name)
				}
				in.byID[id] = pixelRef{bank: bi, row: r, col: c}
			}
		}
		in.banks = append(in.banks, b)
		in.offsets = append(in.offsets, offset)
		offset += b.Rows * b.Cols
	}
	return in, nil
}

// Banks returns the banks in spectrum order
func (in *Instrument) Banks() []*Bank { return in.banks }

// Bank looks a bank up by name
func (in *Instrument) Bank(name string) (*Bank, bool) {
	i, ok := in.byName[name]
	if !ok {
		return nil, false
	}
	return in.banks[i], true
}

// Locate returns the bank and pixel of a detector ID
func (in *Instrument) Locate(detectorID int) (*Bank, int, int, bool) {
	ref, ok := in.byID[detectorID]
	if !ok {
		return nil, 0, 0, false
	}
	return in.banks[ref.bank], ref.row, ref.col, true
}

// Constants implements models.ConstantsLookup
func (in *Instrument) Constants(spectrumID int) (models.DiffConstants, bool) {
	if spectrumID < 0 || len(in.banks) == 0 {
		return models.DiffConstants{}, false
	}
	bi := sort.Search(len(in.offsets), func(i int) bool { return in.offsets[i] > spectrumID }) - 1
	b := in.banks[bi]
	local := spectrumID - in.offsets[bi]
	if local >= b.Rows*b.Cols {
		return models.DiffConstants{}, false
	}
	return b.Constants[local], true
}
