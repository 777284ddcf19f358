package graph

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"

	"github.com/attack-surface/asm/internal/call"
)

// FormatVersion is bumped whenever the serialized layout changes. Payloads
// written by another version are rejected with ErrIncompatibleCache.
const FormatVersion = 4

var magic = [4]byte{'A', 'S', 'M', 'G'}

// ErrIncompatibleCache is returned when a serialized graph was written by a
// different format version or is corrupt.
var ErrIncompatibleCache = errors.New("incompatible graph cache")

// snapshot is the serialized form of a Graph.
type snapshot struct {
	Granularity   call.Granularity
	Nodes         []Node
	Present       []uint8
	Edges         []Edge
	Entry         []int
	Exit          []int
	NumFragments  int
	Monolithicity float64
}

// Save writes g to w: a 4-byte magic, a 2-byte format version, a CRC32 of
// the payload and the gob-encoded payload.
func (g *Graph) Save(w io.Writer) error {
	var buf bytes.Buffer
	snap := snapshot{
		Granularity:   g.granularity,
		Nodes:         g.nodes,
		Present:       make([]uint8, len(g.nodes)),
		Edges:         g.edges,
		Entry:         g.entry,
		Exit:          g.exit,
		NumFragments:  g.NumFragments,
		Monolithicity: g.Monolithicity,
	}
	for i := range g.nodes {
		snap.Present[i] = presence(&g.nodes[i].Attrs)
	}
	if err := gob.NewEncoder(&buf).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}

	header := make([]byte, 10)
	copy(header[:4], magic[:])
	binary.BigEndian.PutUint16(header[4:6], FormatVersion)
	binary.BigEndian.PutUint32(header[6:10], crc32.ChecksumIEEE(buf.Bytes()))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

// Load reads a graph written by Save.
func Load(r io.Reader) (*Graph, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read graph: %w", err)
	}
	return Decode(data)
}

// Encode returns the serialized form of g.
func (g *Graph) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := g.Save(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses the serialized form written by Save.
func Decode(data []byte) (*Graph, error) {
	if len(data) < 10 || !bytes.Equal(data[:4], magic[:]) {
		return nil, fmt.Errorf("%w: bad header", ErrIncompatibleCache)
	}
	if v := binary.BigEndian.Uint16(data[4:6]); v != FormatVersion {
		return nil, fmt.Errorf("%w: format version %d, want %d", ErrIncompatibleCache, v, FormatVersion)
	}
	payload := data[10:]
	if stored, computed := binary.BigEndian.Uint32(data[6:10]), crc32.ChecksumIEEE(payload); stored != computed {
		return nil, fmt.Errorf("%w: checksum stored=%08x computed=%08x", ErrIncompatibleCache, stored, computed)
	}

	var snap snapshot
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIncompatibleCache, err)
	}
	return fromSnapshot(&snap)
}

// Bits of snapshot.Present. gob drops zero values even behind a pointer,
// so a set-but-zero attribute is only recoverable from its bit.
const (
	hasSLOC uint8 = 1 << iota
	hasProximityToEntry
	hasProximityToExit
	hasProximityToDefense
	hasProximityToDangerous
	hasCouplingWithEntry
	hasCouplingWithExit
)

func presence(a *Attrs) uint8 {
	var bits uint8
	set := func(ok bool, bit uint8) {
		if ok {
			bits |= bit
		}
	}
	set(a.SLOC != nil, hasSLOC)
	set(a.ProximityToEntry != nil, hasProximityToEntry)
	set(a.ProximityToExit != nil, hasProximityToExit)
	set(a.ProximityToDefense != nil, hasProximityToDefense)
	set(a.ProximityToDangerous != nil, hasProximityToDangerous)
	set(a.SurfaceCouplingWithEntry != nil, hasCouplingWithEntry)
	set(a.SurfaceCouplingWithExit != nil, hasCouplingWithExit)
	return bits
}

// restore rebuilds the nullable attributes from bits: a set bit with no
// decoded value is a zero, a clear bit is nil.
func restore(a *Attrs, bits uint8) {
	floats := []struct {
		p   **float64
		bit uint8
	}{
		{&a.ProximityToEntry, hasProximityToEntry},
		{&a.ProximityToExit, hasProximityToExit},
		{&a.ProximityToDefense, hasProximityToDefense},
		{&a.ProximityToDangerous, hasProximityToDangerous},
	}
	for _, f := range floats {
		switch {
		case bits&f.bit == 0:
			*f.p = nil
		case *f.p == nil:
			*f.p = new(float64)
		}
	}
	ints := []struct {
		p   **int
		bit uint8
	}{
		{&a.SLOC, hasSLOC},
		{&a.SurfaceCouplingWithEntry, hasCouplingWithEntry},
		{&a.SurfaceCouplingWithExit, hasCouplingWithExit},
	}
	for _, f := range ints {
		switch {
		case bits&f.bit == 0:
			*f.p = nil
		case *f.p == nil:
			*f.p = new(int)
		}
	}
}

func fromSnapshot(snap *snapshot) (*Graph, error) {
	if len(snap.Present) != len(snap.Nodes) {
		return nil, fmt.Errorf("%w: presence bits for %d of %d nodes", ErrIncompatibleCache, len(snap.Present), len(snap.Nodes))
	}
	g := New(snap.Granularity)
	for i, n := range snap.Nodes {
		if j := g.AddNode(n.Call, n.Source); j != i {
			return nil, fmt.Errorf("%w: duplicate node %s", ErrIncompatibleCache, n.Call)
		}
		g.nodes[i].Attrs = n.Attrs
		restore(&g.nodes[i].Attrs, snap.Present[i])
	}
	for _, e := range snap.Edges {
		if e.From < 0 || e.From >= len(g.nodes) || e.To < 0 || e.To >= len(g.nodes) {
			return nil, fmt.Errorf("%w: edge references missing node", ErrIncompatibleCache)
		}
		g.addWeightedEdge(e.From, e.To, e.Source, e.StaticWeight, e.DynamicWeight)
		last := &g.edges[len(g.edges)-1]
		last.Weight = e.Weight
		last.ReturnWeight = e.ReturnWeight
	}
	g.entry = append([]int(nil), snap.Entry...)
	g.exit = append([]int(nil), snap.Exit...)
	g.NumFragments = snap.NumFragments
	g.Monolithicity = snap.Monolithicity
	return g, nil
}

// SaveFile writes g to path atomically.
func (g *Graph) SaveFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".graph-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := g.Save(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// LoadFile reads a graph saved with SaveFile.
func LoadFile(path string) (*Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open graph: %w", err)
	}
	defer f.Close()
	return Load(f)
}
