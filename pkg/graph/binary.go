package graph

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"unsafe"
)

const (
	magicBytes     = "CHROUTER"
	version        = uint32(2)
	maxNodes       = 10_000_000
	maxEdges       = 80_000_000
	maxShapePoints = 200_000_000
)

// fileHeader opens every hierarchy file. The body is a fixed sequence of
// little-endian arrays followed by a CRC32 (IEEE) of header and body.
type fileHeader struct {
	Magic        [8]byte
	Version      uint32
	NumNodes     uint32
	NumEdges     uint32
	NumShortcuts uint32
	HasExtID     uint32
}

// element is any fixed-size value stored as a raw array.
type element interface {
	~uint32 | ~int32 | ~int64 | ~float64
}

// WriteBinary serializes a Hierarchy to path. The file is written to a
// temporary sibling first and renamed into place.
func WriteBinary(path string, h *Hierarchy) (err error) {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	g := h.G
	hdr := fileHeader{
		Version:  version,
		NumNodes: g.NumNodes,
		NumEdges: g.NumEdges,
	}
	copy(hdr.Magic[:], magicBytes)
	for _, m := range g.Middle {
		if m >= 0 {
			hdr.NumShortcuts++
		}
	}
	if g.ExtID != nil {
		hdr.HasExtID = 1
	}
	middle := g.Middle
	if middle == nil {
		middle = make([]int32, g.NumEdges)
		for i := range middle {
			middle[i] = -1
		}
	}

	bw := bufio.NewWriterSize(f, 1<<20)
	crc := crc32.NewIEEE()
	enc := &encoder{w: io.MultiWriter(bw, crc)}
	if err := binary.Write(enc.w, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	put(enc, "NodeLat", g.NodeLat)
	put(enc, "NodeLon", g.NodeLon)
	put(enc, "Rank", h.Rank)
	put(enc, "DownStart", h.DownStart)
	if hdr.HasExtID == 1 {
		put(enc, "ExtID", g.ExtID)
	}
	put(enc, "FirstOut", g.FirstOut)
	put(enc, "Head", g.Head)
	put(enc, "Weight", g.Weight)
	put(enc, "Middle", middle)
	putSized(enc, "GeoFirstOut", g.GeoFirstOut)
	putSized(enc, "GeoShapeLat", g.GeoShapeLat)
	putSized(enc, "GeoShapeLon", g.GeoShapeLon)
	if enc.err != nil {
		return enc.err
	}

	if err := binary.Write(bw, binary.LittleEndian, crc.Sum32()); err != nil {
		return fmt.Errorf("write CRC32: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// ReadBinary loads a Hierarchy written by WriteBinary. The incoming
// adjacency and external id index are rebuilt on load.
func ReadBinary(path string) (*Hierarchy, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	br := bufio.NewReaderSize(f, 1<<20)
	crc := crc32.NewIEEE()
	dec := &decoder{r: io.TeeReader(br, crc)}

	var hdr fileHeader
	if err := binary.Read(dec.r, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	switch {
	case string(hdr.Magic[:]) != magicBytes:
		return nil, fmt.Errorf("invalid magic bytes: %q", hdr.Magic)
	case hdr.Version != version:
		return nil, fmt.Errorf("unsupported version: %d", hdr.Version)
	case hdr.NumNodes > maxNodes:
		return nil, fmt.Errorf("NumNodes %d exceeds limit %d", hdr.NumNodes, maxNodes)
	case hdr.NumEdges > maxEdges:
		return nil, fmt.Errorf("NumEdges %d exceeds limit %d", hdr.NumEdges, maxEdges)
	}

	n, m := int(hdr.NumNodes), int(hdr.NumEdges)
	g := &Graph{NumNodes: hdr.NumNodes, NumEdges: hdr.NumEdges}
	h := &Hierarchy{G: g}

	g.NodeLat = take[float64](dec, "NodeLat", n)
	g.NodeLon = take[float64](dec, "NodeLon", n)
	h.Rank = take[uint32](dec, "Rank", n)
	h.DownStart = take[uint32](dec, "DownStart", n)
	if hdr.HasExtID == 1 {
		g.ExtID = take[int64](dec, "ExtID", n)
	}
	g.FirstOut = take[uint32](dec, "FirstOut", n+1)
	g.Head = take[uint32](dec, "Head", m)
	g.Weight = take[uint32](dec, "Weight", m)
	g.Middle = take[int32](dec, "Middle", m)
	g.GeoFirstOut = takeSized[uint32](dec, "GeoFirstOut", m+1)
	g.GeoShapeLat = takeSized[float64](dec, "GeoShapeLat", maxShapePoints)
	g.GeoShapeLon = takeSized[float64](dec, "GeoShapeLon", maxShapePoints)
	if dec.err != nil {
		return nil, dec.err
	}

	want := crc.Sum32()
	var stored uint32
	if err := binary.Read(br, binary.LittleEndian, &stored); err != nil {
		return nil, fmt.Errorf("read CRC32: %w", err)
	}
	if stored != want {
		return nil, fmt.Errorf("CRC32 mismatch: stored=%08x computed=%08x", stored, want)
	}

	if err := validateCSR(g.FirstOut, g.Head, hdr.NumNodes); err != nil {
		return nil, fmt.Errorf("CSR invalid: %w", err)
	}
	if err := validateGeometry(g); err != nil {
		return nil, fmt.Errorf("geometry invalid: %w", err)
	}
	for u := uint32(0); u < hdr.NumNodes; u++ {
		if h.DownStart[u] < g.FirstOut[u] || h.DownStart[u] > g.FirstOut[u+1] {
			return nil, fmt.Errorf("DownStart[%d]=%d outside edge range", u, h.DownStart[u])
		}
	}

	g.Freeze()
	return h, nil
}

// validateCSR checks CSR invariants.
func validateCSR(firstOut, head []uint32, numNodes uint32) error {
	if uint32(len(firstOut)) != numNodes+1 {
		return fmt.Errorf("FirstOut length %d != NumNodes+1 %d", len(firstOut), numNodes+1)
	}
	if numEdges := firstOut[numNodes]; uint32(len(head)) != numEdges {
		return fmt.Errorf("Head length %d != FirstOut[NumNodes] %d", len(head), numEdges)
	}
	for i := uint32(1); i <= numNodes; i++ {
		if firstOut[i] < firstOut[i-1] {
			return fmt.Errorf("FirstOut not monotonic at %d: %d < %d", i, firstOut[i], firstOut[i-1])
		}
	}
	for i, v := range head {
		if v >= numNodes {
			return fmt.Errorf("Head[%d]=%d >= NumNodes=%d", i, v, numNodes)
		}
	}
	return nil
}

// validateGeometry checks that the shape index, when present, covers every
// edge and ends exactly at the shape arrays' length.
func validateGeometry(g *Graph) error {
	if len(g.GeoShapeLat) != len(g.GeoShapeLon) {
		return fmt.Errorf("shape lat/lon lengths differ: %d != %d", len(g.GeoShapeLat), len(g.GeoShapeLon))
	}
	if g.GeoFirstOut == nil {
		if len(g.GeoShapeLat) > 0 {
			return fmt.Errorf("%d shape points without an index", len(g.GeoShapeLat))
		}
		return nil
	}
	if uint32(len(g.GeoFirstOut)) != g.NumEdges+1 {
		return fmt.Errorf("GeoFirstOut length %d != NumEdges+1 %d", len(g.GeoFirstOut), g.NumEdges+1)
	}
	for e := uint32(1); e <= g.NumEdges; e++ {
		if g.GeoFirstOut[e] < g.GeoFirstOut[e-1] {
			return fmt.Errorf("GeoFirstOut not monotonic at %d", e)
		}
	}
	if last := g.GeoFirstOut[g.NumEdges]; int(last) != len(g.GeoShapeLat) {
		return fmt.Errorf("GeoFirstOut ends at %d, have %d shape points", last, len(g.GeoShapeLat))
	}
	return nil
}

// encoder writes raw arrays and keeps the first error.
type encoder struct {
	w   io.Writer
	err error
}

func put[T element](e *encoder, name string, s []T) {
	if e.err != nil || len(s) == 0 {
		return
	}
	b := unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*int(unsafe.Sizeof(s[0])))
	if _, err := e.w.Write(b); err != nil {
		e.err = fmt.Errorf("write %s: %w", name, err)
	}
}

// putSized writes a uint32 element count before the array.
func putSized[T element](e *encoder, name string, s []T) {
	if e.err != nil {
		return
	}
	if err := binary.Write(e.w, binary.LittleEndian, uint32(len(s))); err != nil {
		e.err = fmt.Errorf("write %s length: %w", name, err)
		return
	}
	put(e, name, s)
}

// decoder reads raw arrays and keeps the first error.
type decoder struct {
	r   io.Reader
	err error
}

func take[T element](d *decoder, name string, n int) []T {
	if d.err != nil || n == 0 {
		return nil
	}
	s := make([]T, n)
	b := unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), n*int(unsafe.Sizeof(s[0])))
	if _, err := io.ReadFull(d.r, b); err != nil {
		d.err = fmt.Errorf("read %s: %w", name, err)
		return nil
	}
	return s
}

// takeSized reads an array written by putSized, refusing counts above limit.
func takeSized[T element](d *decoder, name string, limit int) []T {
	if d.err != nil {
		return nil
	}
	var n uint32
	if err := binary.Read(d.r, binary.LittleEndian, &n); err != nil {
		d.err = fmt.Errorf("read %s length: %w", name, err)
		return nil
	}
	if int(n) > limit {
		d.err = fmt.Errorf("%s length %d exceeds limit %d", name, n, limit)
		return nil
	}
	return take[T](d, name, int(n))
}
