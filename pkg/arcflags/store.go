package arcflags

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/azybler/ch_router/pkg/search"
)

const magicBytes = "CHARCFLG"

type fileHeader struct {
	Magic     [8]byte
	Direction uint32
	NumNodes  uint32
	NumCells  uint32
}

// WriteFile stores the flags as a zstd stream of the cell array followed by
// one length-prefixed roaring bitmap per cell.
func WriteFile(path string, f *Flags) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		file.Close()
		os.Remove(tmpPath)
	}()

	enc, err := zstd.NewWriter(file)
	if err != nil {
		return fmt.Errorf("create encoder: %w", err)
	}
	w := bufio.NewWriter(enc)

	hdr := fileHeader{
		Direction: uint32(f.dir),
		NumNodes:  uint32(len(f.cells)),
		NumCells:  uint32(len(f.byCell)),
	}
	copy(hdr.Magic[:], magicBytes)
	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		enc.Close()
		return fmt.Errorf("write header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, f.cells); err != nil {
		enc.Close()
		return fmt.Errorf("write cells: %w", err)
	}
	for c, bm := range f.byCell {
		data, err := bm.ToBytes()
		if err != nil {
			enc.Close()
			return fmt.Errorf("encode cell %d: %w", c, err)
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(data))); err != nil {
			enc.Close()
			return fmt.Errorf("write cell %d: %w", c, err)
		}
		if _, err := w.Write(data); err != nil {
			enc.Close()
			return fmt.Errorf("write cell %d: %w", c, err)
		}
	}
	if err := w.Flush(); err != nil {
		enc.Close()
		return fmt.Errorf("flush: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close encoder: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// ReadFile loads flags written by WriteFile.
func ReadFile(path string) (*Flags, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer file.Close()

	dec, err := zstd.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("create decoder: %w", err)
	}
	defer dec.Close()
	r := bufio.NewReader(dec)

	var hdr fileHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if string(hdr.Magic[:]) != magicBytes {
		return nil, fmt.Errorf("invalid magic bytes: %q", hdr.Magic)
	}

	f := &Flags{
		dir:    search.Direction(hdr.Direction),
		cells:  make([]uint32, hdr.NumNodes),
		byCell: make([]*roaring.Bitmap, hdr.NumCells),
	}
	if err := binary.Read(r, binary.LittleEndian, f.cells); err != nil {
		return nil, fmt.Errorf("read cells: %w", err)
	}
	for _, c := range f.cells {
		if c >= hdr.NumCells {
			return nil, fmt.Errorf("cell id %d out of range", c)
		}
	}
	for c := range f.byCell {
		var size uint32
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return nil, fmt.Errorf("read cell %d: %w", c, err)
		}
		data := make([]byte, size)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, fmt.Errorf("read cell %d: %w", c, err)
		}
		bm := roaring.New()
		if err := bm.UnmarshalBinary(data); err != nil {
			return nil, fmt.Errorf("decode cell %d: %w", c, err)
		}
		f.byCell[c] = bm
	}
	return f, nil
}
