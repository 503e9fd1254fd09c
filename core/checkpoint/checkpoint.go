// Package checkpoint serializes trained classifier parameters.
//
// A checkpoint is a flat little-endian record:
//
//	[Magic:4][Version:2]
//	[RunIDLen:2][RunID:N][Epochs:4][FinalLoss:8][FinalAccuracy:8][CreatedAt:8]
//	[TensorCount:2] then per tensor:
//	  [NameLen:2][Name:N][Rank:1][Dim:4]*Rank[Value:8]*prod(Dim)
//	[CRC32:4]
//
// Values are IEEE-754 bit patterns, so a save/load cycle reproduces every
// parameter exactly. Files are written to a temporary sibling and renamed
// into place; a failed save never leaves a partial checkpoint behind.
package checkpoint

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/adalundhe/nexus/core/gcn"
	"github.com/adalundhe/nexus/core/graph"
	"gonum.org/v1/gonum/mat"
)

const (
	magic   = "NXCK"
	version = uint16(1)

	headerSize  = len(magic) + 2
	trailerSize = 4
	maxRank     = 4
)

var (
	ErrNotFound     = errors.New("checkpoint not found")
	ErrCorrupt      = errors.New("checkpoint is corrupt")
	ErrIncompatible = errors.New("checkpoint is incompatible")
	ErrNonFinite    = errors.New("checkpoint parameters are not finite")
)

// Metadata describes the run that produced a checkpoint.
type Metadata struct {
	RunID         string
	Epochs        int
	FinalLoss     float64
	FinalAccuracy float64
	CreatedAt     time.Time
}

// Checkpoint is a frozen parameter set plus its metadata.
type Checkpoint struct {
	Params gcn.StateDict
	Meta   Metadata
}

// New captures model parameters.
func New(model *gcn.Model, meta Metadata) *Checkpoint {
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now()
	}
	return &Checkpoint{Params: model.StateDict(), Meta: meta}
}

// Model rebuilds an evaluation-ready classifier. Dropout is disabled. The
// parameters must be finite and map the borrower features onto the two risk
// classes.
func (c *Checkpoint) Model() (*gcn.Model, error) {
	m, err := gcn.FromStateDict(c.Params, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIncompatible, err)
	}
	if in, _ := m.Conv1.Dims(); in != graph.NumFeatures {
		return nil, fmt.Errorf("%w: input width %d, expected %d", ErrIncompatible, in, graph.NumFeatures)
	}
	if _, classes := m.Conv2.Dims(); classes != graph.NumClasses {
		return nil, fmt.Errorf("%w: %d classes, expected %d", ErrIncompatible, classes, graph.NumClasses)
	}
	for _, name := range gcn.ParamNames {
		t := c.Params[name]
		if !gcn.Finite(mat.NewDense(1, len(t.Data), t.Data)) {
			return nil, fmt.Errorf("%w: %s", ErrNonFinite, name)
		}
	}
	return m, nil
}

// Hidden returns the hidden width recorded in conv1.weight.
func (c *Checkpoint) Hidden() int {
	shape := c.Params[gcn.ParamConv1Weight].Shape
	if len(shape) != 2 {
		return 0
	}
	return shape[1]
}

// =============================================================================
// Encoding
// =============================================================================

// MarshalBinary encodes the checkpoint. Parameter sets that could not be
// loaded back are refused.
func (c *Checkpoint) MarshalBinary() ([]byte, error) {
	if _, err := c.Model(); err != nil {
		return nil, err
	}
	return c.encode(), nil
}

func (c *Checkpoint) encode() []byte {
	runID := []byte(c.Meta.RunID)
	size := headerSize + 2 + len(runID) + 4 + 8 + 8 + 8 + 2
	for _, name := range gcn.ParamNames {
		t := c.Params[name]
		size += 2 + len(name) + 1 + 4*len(t.Shape) + 8*len(t.Data)
	}
	size += trailerSize

	buf := make([]byte, size)
	offset := copy(buf, magic)
	binary.LittleEndian.PutUint16(buf[offset:], version)
	offset += 2

	offset = writeString(buf, offset, runID)
	binary.LittleEndian.PutUint32(buf[offset:], uint32(c.Meta.Epochs))
	offset += 4
	offset = writeFloat(buf, offset, c.Meta.FinalLoss)
	offset = writeFloat(buf, offset, c.Meta.FinalAccuracy)
	binary.LittleEndian.PutUint64(buf[offset:], uint64(c.Meta.CreatedAt.UnixNano()))
	offset += 8

	binary.LittleEndian.PutUint16(buf[offset:], uint16(len(gcn.ParamNames)))
	offset += 2
	for _, name := range gcn.ParamNames {
		t := c.Params[name]
		offset = writeString(buf, offset, []byte(name))
		buf[offset] = byte(len(t.Shape))
		offset++
		for _, d := range t.Shape {
			binary.LittleEndian.PutUint32(buf[offset:], uint32(d))
			offset += 4
		}
		for _, v := range t.Data {
			offset = writeFloat(buf, offset, v)
		}
	}

	binary.LittleEndian.PutUint32(buf[offset:], crc32.ChecksumIEEE(buf[:offset]))
	return buf
}

// UnmarshalBinary decodes and verifies a checkpoint.
func (c *Checkpoint) UnmarshalBinary(data []byte) error {
	if len(data) < headerSize+trailerSize {
		return fmt.Errorf("%w: %d bytes", ErrCorrupt, len(data))
	}
	if string(data[:len(magic)]) != magic {
		return fmt.Errorf("%w: bad magic", ErrIncompatible)
	}
	body := data[:len(data)-trailerSize]
	if crc32.ChecksumIEEE(body) != binary.LittleEndian.Uint32(data[len(body):]) {
		return fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	if v := binary.LittleEndian.Uint16(data[len(magic):]); v != version {
		return fmt.Errorf("%w: version %d, expected %d", ErrIncompatible, v, version)
	}

	r := &reader{data: body, offset: headerSize}
	var meta Metadata
	meta.RunID = r.str()
	meta.Epochs = int(r.u32())
	meta.FinalLoss = r.f64()
	meta.FinalAccuracy = r.f64()
	meta.CreatedAt = time.Unix(0, int64(r.u64()))

	count := int(r.u16())
	params := make(gcn.StateDict, count)
	for i := 0; i < count && r.err == nil; i++ {
		name := r.str()
		rank := int(r.u8())
		if rank > maxRank {
			return fmt.Errorf("%w: tensor %s has rank %d", ErrCorrupt, name, rank)
		}
		t := gcn.Tensor{Shape: make([]int, rank)}
		for j := range t.Shape {
			t.Shape[j] = int(r.u32())
		}
		n := t.Size()
		if n < 0 || n > r.remaining()/8 {
			return fmt.Errorf("%w: tensor %s shape %v exceeds payload", ErrCorrupt, name, t.Shape)
		}
		t.Data = make([]float64, n)
		for j := range t.Data {
			t.Data[j] = r.f64()
		}
		params[name] = t
	}
	if r.err != nil {
		return r.err
	}
	if r.offset != len(body) {
		return fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, len(body)-r.offset)
	}

	c.Params = params
	c.Meta = meta
	return nil
}

// =============================================================================
// Files
// =============================================================================

// Save writes c to path atomically.
func Save(path string, c *Checkpoint) error {
	data, err := c.MarshalBinary()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".checkpoint-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// Load reads and verifies the checkpoint at path, including tensor shapes.
func Load(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	c := &Checkpoint{}
	if err := c.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if _, err := c.Model(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// =============================================================================
// Helpers
// =============================================================================

func writeString(buf []byte, offset int, s []byte) int {
	binary.LittleEndian.PutUint16(buf[offset:], uint16(len(s)))
	offset += 2
	copy(buf[offset:], s)
	return offset + len(s)
}

func writeFloat(buf []byte, offset int, v float64) int {
	binary.LittleEndian.PutUint64(buf[offset:], math.Float64bits(v))
	return offset + 8
}

// reader walks a byte slice and records the first out-of-bounds read.
type reader struct {
	data   []byte
	offset int
	err    error
}

func (r *reader) remaining() int {
	return len(r.data) - r.offset
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n > r.remaining() {
		r.err = fmt.Errorf("%w: truncated at offset %d", ErrCorrupt, r.offset)
		return nil
	}
	b := r.data[r.offset : r.offset+n]
	r.offset += n
	return b
}

func (r *reader) u8() byte {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *reader) u16() uint16 {
	if b := r.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (r *reader) u32() uint32 {
	if b := r.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (r *reader) u64() uint64 {
	if b := r.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (r *reader) f64() float64 {
	return math.Float64frombits(r.u64())
}

func (r *reader) str() string {
	n := int(r.u16())
	return string(r.take(n))
}
