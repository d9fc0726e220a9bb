package detector

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"braggflood/internal/models"
)

// Bank files are little-endian:
//
//	magic "BFBK", uint16 version, uint32 bank count, then per bank:
//	uint16 name length, name, uint32 rows, cols, bins,
//	float64 TOF[bins],
//	per pixel: int32 detector ID, float64 DIFC, DIFA, TZERO,
//	float64 counts[pixels*bins], float64 variance[pixels*bins]
var bankMagic = [4]byte{'B', 'F', 'B', 'K'}

const bankVersion uint16 = 1

// ErrBadBankFile indicates a file that is not a bank file of a known version
var ErrBadBankFile = errors.New("detector: not a bank file")

type bankHeader struct {
	Rows, Cols, Bins uint32
}

type pixelRecord struct {
	DetectorID int32
	DIFC       float64
	DIFA       float64
	TZERO      float64
}

// WriteBanks encodes banks to w
func WriteBanks(w io.Writer, banks []*Bank) error {
	bw := bufio.NewWriter(w)
	le := binary.LittleEndian

	if err := binary.Write(bw, le, bankMagic); err != nil {
		return err
	}
	if err := binary.Write(bw, le, bankVersion); err != nil {
		return err
	}
	if err := binary.Write(bw, le, uint32(len(banks))); err != nil {
		return err
	}

	for _, b := range banks {
		if err := b.Validate(); err != nil {
			return err
		}
		if len(b.Name) > 0xffff {
			return fmt.Errorf("detector: bank name too long (%d bytes)", len(b.Name))
		}
		if err := binary.Write(bw, le, uint16(len(b.Name))); err != nil {
			return err
		}
		if _, err := bw.WriteString(b.Name); err != nil {
			return err
		}
		h := bankHeader{Rows: uint32(b.Rows), Cols: uint32(b.Cols), Bins: uint32(b.Bins())}
		if err := binary.Write(bw, le, h); err != nil {
			return err
		}
		if err := binary.Write(bw, le, b.TOF); err != nil {
			return err
		}
		for i, id := range b.DetectorIDs {
			c := b.Constants[i]
			rec := pixelRecord{DetectorID: int32(id), DIFC: c.DIFC, DIFA: c.DIFA, TZERO: c.TZERO}
			if err := binary.Write(bw, le, rec); err != nil {
				return err
			}
		}
		if err := binary.Write(bw, le, b.Counts); err != nil {
			return err
		}
		if err := binary.Write(bw, le, b.Variance); err != nil {
			return err
		}
	}

	return bw.Flush()
}

// ReadBanks decodes the banks written by WriteBanks
func ReadBanks(r io.Reader) ([]*Bank, error) {
	br := bufio.NewReader(r)
	le := binary.LittleEndian

	var magic [4]byte
	if err := binary.Read(br, le, &magic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadBankFile, err)
	}
	if magic != bankMagic {
		return nil, fmt.Errorf("%w: magic %q", ErrBadBankFile, magic[:])
	}
	var version uint16
	if err := binary.Read(br, le, &version); err != nil {
		return nil, err
	}
	if version != bankVersion {
		return nil, fmt.Errorf("%w: version %d", ErrBadBankFile, version)
	}
	var count uint32
	if err := binary.Read(br, le, &count); err != nil {
		return nil, err
	}

	banks := make([]*Bank, 0, count)
	for i := uint32(0); i < count; i++ {
		var nameLen uint16
		if err := binary.Read(br, le, &nameLen); err != nil {
			return nil, fmt.Errorf("reading bank %d: %w", i, err)
		}
		name := make([]byte, nameLen)
		if _, err := io.ReadFull(br, name); err != nil {
			return nil, fmt.Errorf("reading bank %d name: %w", i, err)
		}
		var h bankHeader
		if err := binary.Read(br, le, &h); err != nil {
			return nil, fmt.Errorf("reading bank %q header: %w", name, err)
		}
		pixels := int(h.Rows) * int(h.Cols)

		b := &Bank{
			Name:        string(name),
			Rows:        int(h.Rows),
			Cols:        int(h.Cols),
			TOF:         make([]float64, h.Bins),
			DetectorIDs: make([]int, pixels),
			Constants:   make([]models.DiffConstants, pixels),
			Counts:      make([]float64, pixels*int(h.Bins)),
			Variance:    make([]float64, pixels*int(h.Bins)),
		}
		if err := binary.Read(br, le, b.TOF); err != nil {
			return nil, fmt.Errorf("reading bank %q TOF axis: %w", b.Name, err)
		}
		for p := 0; p < pixels; p++ {
			var rec pixelRecord
			if err := binary.Read(br, le, &rec); err != nil {
				return nil, fmt.Errorf("reading bank %q pixel %d: %w", b.Name, p, err)
			}
			b.DetectorIDs[p] = int(rec.DetectorID)
			b.Constants[p] = models.DiffConstants{DIFC: rec.DIFC, DIFA: rec.DIFA, TZERO: rec.TZERO}
		}
		if err := binary.Read(br, le, b.Counts); err != nil {
			return nil, fmt.Errorf("reading bank %q counts: %w", b.Name, err)
		}
		if err := binary.Read(br, le, b.Variance); err != nil {
			return nil, fmt.Errorf("reading bank %q variance: %w", b.Name, err)
		}
		if err := b.Validate(); err != nil {
			return nil, err
		}
		banks = append(banks, b)
	}
	return banks, nil
}

// SaveBanks writes banks to a file
func SaveBanks(filename string, banks []*Bank) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create bank file: %w", err)
	}
	defer file.Close()

	if err := WriteBanks(file, banks); err != nil {
		return fmt.Errorf("failed to write banks: %w", err)
	}
	return file.Close()
}

// LoadBanks reads every bank in a file
func LoadBanks(filename string) ([]*Bank, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open bank file: %w", err)
	}
	defer file.Close()

	return ReadBanks(file)
}
