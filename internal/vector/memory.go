package vector

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hyperjump/text2sql/pkg/utils"
)

var _ Index = (*MemoryIndex)(nil)

// snapshotMagic prefixes every vector snapshot written by Save.
var snapshotMagic = []byte("T2SVEC01")

// ErrBadSnapshot is returned by Load for files Save did not write.
var ErrBadSnapshot = errors.New("not a vector snapshot")

// MemoryIndex keeps unit-length vectors in one flat slice, row i at
// data[i*dim:(i+1)*dim], so cosine distance is one minus a dot product.
type MemoryIndex struct {
	mu   sync.RWMutex
	dim  int
	ids  []string
	rows map[string]int
	data []float32
}

// NewMemoryIndex creates an empty index for dim-sized vectors.
func NewMemoryIndex(dim int) (*MemoryIndex, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive, got %d", dim)
	}
	return &MemoryIndex{dim: dim, rows: make(map[string]int)}, nil
}

// Dimensions returns the vector size.
func (m *MemoryIndex) Dimensions() int {
	return m.dim
}

func (m *MemoryIndex) row(i int) []float32 {
	return m.data[i*m.dim : (i+1)*m.dim]
}

// Add inserts vectors under ids. Re-adding an id replaces its vector and
// keeps its rank position for ties.
func (m *MemoryIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("got %d ids for %d vectors", len(ids), len(vectors))
	}
	for i, v := range vectors {
		if len(v) != m.dim {
			return fmt.Errorf("vector %q has dimension %d, index expects %d", ids[i], len(v), m.dim)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, id := range ids {
		if r, ok := m.rows[id]; ok {
			copy(m.row(r), vectors[i])
			utils.NormalizeL2(m.row(r))
			continue
		}
		m.rows[id] = len(m.ids)
		m.ids = append(m.ids, id)
		m.data = append(m.data, vectors[i]...)
		utils.NormalizeL2(m.row(len(m.ids) - 1))
	}
	return nil
}

// Search returns up to k ids nearest to query, nearest first. keep, when
// set, filters candidates. Equal distances rank in insertion order.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int, keep func(id string) bool) ([]Hit, error) {
	if len(query) != m.dim {
		return nil, fmt.Errorf("query has dimension %d, index expects %d", len(query), m.dim)
	}
	if k <= 0 {
		return nil, nil
	}
	q := append([]float32(nil), query...)
	utils.NormalizeL2(q)

	m.mu.RLock()
	defer m.mu.RUnlock()
	hits := make([]Hit, 0, len(m.ids))
	for i, id := range m.ids {
		if keep != nil && !keep(id) {
			continue
		}
		hits = append(hits, Hit{ID: id, Distance: unitDistance(q, m.row(i))})
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].Distance < hits[b].Distance })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// unitDistance is the cosine distance of two unit vectors, clamped to [0, 2].
// A zero vector is at distance 1 from everything.
func unitDistance(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return math.Min(2, math.Max(0, 1-dot))
}

// Remove drops ids, compacting the remaining rows in order. Unknown ids are ignored.
func (m *MemoryIndex) Remove(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := m.rows[id]; ok {
			drop[id] = true
		}
	}
	if len(drop) == 0 {
		return nil
	}
	kept := 0
	for i, id := range m.ids {
		if drop[id] {
			delete(m.rows, id)
			continue
		}
		if kept != i {
			m.ids[kept] = id
			copy(m.row(kept), m.row(i))
		}
		m.rows[id] = kept
		kept++
	}
	m.ids = m.ids[:kept]
	m.data = m.data[:kept*m.dim]
	return nil
}

// Save writes a snapshot to path through a temp file and rename, so readers
// never see a partial file. An empty path is a no-op.
//
// Layout (little endian): magic, dim u32, count u32, then per row an id
// length u32, the id bytes and dim float32 values.
func (m *MemoryIndex) Save(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create vector dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create vector snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	m.mu.RLock()
	err = m.writeTo(tmp)
	m.mu.RUnlock()
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write vector snapshot: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

func (m *MemoryIndex) writeTo(w io.Writer) error {
	bw := bufio.NewWriter(w)
	bw.Write(snapshotMagic)
	le := binary.LittleEndian
	var u32 [4]byte
	putU32 := func(v uint32) {
		le.PutUint32(u32[:], v)
		bw.Write(u32[:])
	}
	putU32(uint32(m.dim))
	putU32(uint32(len(m.ids)))
	for i, id := range m.ids {
		putU32(uint32(len(id)))
		bw.WriteString(id)
		for _, v := range m.row(i) {
			putU32(math.Float32bits(v))
		}
	}
	return bw.Flush()
}

// Load replaces the contents with the snapshot at path. A missing file
// leaves the index unchanged; a snapshot of another dimension is an error.
func (m *MemoryIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open vector snapshot: %w", err)
	}
	defer f.Close()

	ids, data, err := readSnapshot(bufio.NewReader(f), m.dim)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	rows := make(map[string]int, len(ids))
	for i, id := range ids {
		rows[id] = i
	}
	m.mu.Lock()
	m.ids, m.data, m.rows = ids, data, rows
	m.mu.Unlock()
	return nil
}

func readSnapshot(r io.Reader, dim int) ([]string, []float32, error) {
	magic := make([]byte, len(snapshotMagic))
	if _, err := io.ReadFull(r, magic); err != nil || !bytes.Equal(magic, snapshotMagic) {
		return nil, nil, ErrBadSnapshot
	}
	var head [2]uint32
	if err := binary.Read(r, binary.LittleEndian, &head); err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	if int(head[0]) != dim {
		return nil, nil, fmt.Errorf("snapshot dimension %d, index expects %d", head[0], dim)
	}
	n := int(head[1])
	ids := make([]string, 0, n)
	data := make([]float32, n*dim)
	for i := 0; i < n; i++ {
		var idLen uint32
		if err := binary.Read(r, binary.LittleEndian, &idLen); err != nil {
			return nil, nil, fmt.Errorf("read row %d: %w", i, err)
		}
		id := make([]byte, idLen)
		if _, err := io.ReadFull(r, id); err != nil {
			return nil, nil, fmt.Errorf("read row %d: %w", i, err)
		}
		if err := binary.Read(r, binary.LittleEndian, data[i*dim:(i+1)*dim]); err != nil {
			return nil, nil, fmt.Errorf("read row %d: %w", i, err)
		}
		ids = append(ids, string(id))
	}
	return ids, data, nil
}

// Size returns the number of stored vectors.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ids)
}

// Close releases nothing; the index lives in memory.
func (m *MemoryIndex) Close() error {
	return nil
}
