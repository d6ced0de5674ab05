package labels

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/azybler/ch_router/pkg/graph"
)

const (
	magicBytes = "CHLABELS"
	version    = uint32(1)
)

type fileHeader struct {
	Magic    [8]byte
	Version  uint32
	NumNodes uint32
	NumEdges uint32
	HasCells uint32
	Apex     uint32
}

type edgeRecord struct {
	IDLo, IDHi     int32
	RankLo, RankHi int32
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

// WriteFile stores the set next to its hierarchy file. The payload is zstd
// compressed and ends with a CRC32 of the uncompressed bytes. First-move
// bitsets are not stored.
func WriteFile(path string, s *Set) error {
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		f.Close()
		os.Remove(tmpPath)
	}()

	hdr := fileHeader{
		Version:  version,
		NumNodes: uint32(len(s.dfsID)),
		NumEdges: uint32(len(s.edges)),
		Apex:     s.apex,
	}
	if s.cells != nil {
		hdr.HasCells = 1
	}
	copy(hdr.Magic[:], magicBytes)
	if err := binary.Write(f, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("create encoder: %w", err)
	}
	crc := crc32.NewIEEE()
	bw := bufio.NewWriter(io.MultiWriter(enc, crc))

	if err := writePayload(bw, s); err != nil {
		enc.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return fmt.Errorf("flush payload: %w", err)
	}
	if err := binary.Write(enc, binary.LittleEndian, crc.Sum32()); err != nil {
		enc.Close()
		return fmt.Errorf("write CRC32: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close encoder: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func writePayload(w io.Writer, s *Set) error {
	if err := binary.Write(w, binary.LittleEndian, s.dfsID); err != nil {
		return fmt.Errorf("write postorder ids: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, s.upApex); err != nil {
		return fmt.Errorf("write up-apex: %w", err)
	}
	if s.cells != nil {
		if err := binary.Write(w, binary.LittleEndian, s.cells); err != nil {
			return fmt.Errorf("write cells: %w", err)
		}
	}
	for e := range s.edges {
		l := &s.edges[e]
		rec := edgeRecord{
			IDLo:   l.IDs.Lo,
			IDHi:   l.IDs.Hi,
			RankLo: l.Ranks.Lo,
			RankHi: l.Ranks.Hi,
			MinLat: l.Box.MinLat,
			MaxLat: l.Box.MaxLat,
			MinLon: l.Box.MinLon,
			MaxLon: l.Box.MaxLon,
		}
		if err := binary.Write(w, binary.LittleEndian, &rec); err != nil {
			return fmt.Errorf("write edge %d: %w", e, err)
		}
		var cells []byte
		if l.Cells != nil {
			var err error
			if cells, err = l.Cells.ToBytes(); err != nil {
				return fmt.Errorf("encode cells of edge %d: %w", e, err)
			}
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(cells))); err != nil {
			return fmt.Errorf("write edge %d: %w", e, err)
		}
		if _, err := w.Write(cells); err != nil {
			return fmt.Errorf("write edge %d: %w", e, err)
		}
	}
	return nil
}

// ReadFile loads a set written by WriteFile for hierarchy h.
func ReadFile(path string, h *graph.Hierarchy) (*Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	var hdr fileHeader
	if err := binary.Read(f, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if string(hdr.Magic[:]) != magicBytes {
		return nil, fmt.Errorf("invalid magic bytes: %q", hdr.Magic)
	}
	if hdr.Version != version {
		return nil, fmt.Errorf("unsupported version: %d", hdr.Version)
	}
	if hdr.NumNodes != h.NumNodes() || hdr.NumEdges != h.G.NumEdges {
		return nil, fmt.Errorf("label file has %d nodes and %d edges, hierarchy has %d and %d",
			hdr.NumNodes, hdr.NumEdges, h.NumNodes(), h.G.NumEdges)
	}
	if hdr.NumNodes > 0 && hdr.Apex >= hdr.NumNodes {
		return nil, fmt.Errorf("apex %d out of range", hdr.Apex)
	}

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("create decoder: %w", err)
	}
	defer dec.Close()
	br := bufio.NewReader(dec)
	crc := crc32.NewIEEE()
	r := io.TeeReader(br, crc)

	n, m := int(hdr.NumNodes), int(hdr.NumEdges)
	s := &Set{
		h:      h,
		edges:  make([]Label, m),
		dfsID:  make([]int32, n),
		upApex: make([]uint32, n),
		apex:   hdr.Apex,
	}
	if err := binary.Read(r, binary.LittleEndian, s.dfsID); err != nil {
		return nil, fmt.Errorf("read postorder ids: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, s.upApex); err != nil {
		return nil, fmt.Errorf("read up-apex: %w", err)
	}
	if hdr.HasCells == 1 {
		s.cells = make([]uint32, n)
		if err := binary.Read(r, binary.LittleEndian, s.cells); err != nil {
			return nil, fmt.Errorf("read cells: %w", err)
		}
	}

	var buf []byte
	for e := 0; e < m; e++ {
		var rec edgeRecord
		if err := binary.Read(r, binary.LittleEndian, &rec); err != nil {
			return nil, fmt.Errorf("read edge %d: %w", e, err)
		}
		s.edges[e] = Label{
			IDs:   Interval{Lo: rec.IDLo, Hi: rec.IDHi},
			Ranks: Interval{Lo: rec.RankLo, Hi: rec.RankHi},
			Box:   BBox{MinLat: rec.MinLat, MaxLat: rec.MaxLat, MinLon: rec.MinLon, MaxLon: rec.MaxLon},
		}
		var size uint32
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return nil, fmt.Errorf("read edge %d: %w", e, err)
		}
		if size == 0 {
			continue
		}
		if cap(buf) < int(size) {
			buf = make([]byte, size)
		}
		buf = buf[:size]
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("read cells of edge %d: %w", e, err)
		}
		bm := roaring.New()
		if err := bm.UnmarshalBinary(buf); err != nil {
			return nil, fmt.Errorf("decode cells of edge %d: %w", e, err)
		}
		s.edges[e].Cells = bm
	}

	expected := crc.Sum32()
	var stored uint32
	if err := binary.Read(br, binary.LittleEndian, &stored); err != nil {
		return nil, fmt.Errorf("read CRC32: %w", err)
	}
	if stored != expected {
		return nil, fmt.Errorf("CRC32 mismatch: stored=%08x computed=%08x", stored, expected)
	}
	return s, nil
}
