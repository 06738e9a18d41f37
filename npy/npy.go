// Package npy reads and writes NumPy .npy (format version 1.0) arrays.
//
// Files whose name ends in ".zst" are transparently zstd compressed.
package npy

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/tsawler/go-segkit/tensor"
)

var magic = []byte("\x93NUMPY")

// ErrUnsupportedDType is returned for array element types this package cannot map to a tensor dtype
var ErrUnsupportedDType = errors.New("npy: unsupported dtype")

// ErrInvalidShape is returned for headers whose shape cannot be read into a tensor
var ErrInvalidShape = errors.New("npy: invalid shape")

// MaxElements bounds the element count Read will allocate for one array
const MaxElements = 1 << 30

const headerAlignment = 64

func descrFor(dtype tensor.DType) (string, error) {
	switch dtype {
	case tensor.Float32:
		return "<f4", nil
	case tensor.Int32:
		return "<i4", nil
	case tensor.Uint8:
		return "|u1", nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedDType, dtype)
	}
}

func formatShape(shape []int) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = strconv.Itoa(d)
	}
	if len(parts) == 1 {
		return "(" + parts[0] + ",)"
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Write encodes t as a version 1.0 .npy stream
func Write(w io.Writer, t *tensor.Tensor) error {
	descr, err := descrFor(t.DType)
	if err != nil {
		return err
	}

	header := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': %s, }", descr, formatShape(t.Shape))
	// magic(6) + version(2) + header length(2) + header + '\n' is padded to the alignment
	total := len(magic) + 4 + len(header) + 1
	if pad := total % headerAlignment; pad != 0 {
		header += strings.Repeat(" ", headerAlignment-pad)
	}
	header += "\n"
	if len(header) > math.MaxUint16 {
		return fmt.Errorf("npy: header too long (%d bytes)", len(header))
	}

	bw := bufio.NewWriter(w)
	if _, err := bw.Write(magic); err != nil {
		return err
	}
	if _, err := bw.Write([]byte{1, 0}); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint16(len(header))); err != nil {
		return err
	}
	if _, err := bw.WriteString(header); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, t.Data); err != nil {
		return fmt.Errorf("npy: write data: %w", err)
	}
	return bw.Flush()
}

var (
	descrRe   = regexp.MustCompile(`'descr':\s*'([^']+)'`)
	fortranRe = regexp.MustCompile(`'fortran_order':\s*(True|False)`)
	shapeRe   = regexp.MustCompile(`'shape':\s*\(([^)]*)\)`)
)

type header struct {
	descr   string
	fortran bool
	shape   []int
	count   int
}

func parseHeader(s string) (header, error) {
	var h header

	m := descrRe.FindStringSubmatch(s)
	if m == nil {
		return h, fmt.Errorf("npy: header missing descr: %q", s)
	}
	h.descr = m[1]

	m = fortranRe.FindStringSubmatch(s)
	if m == nil {
		return h, fmt.Errorf("npy: header missing fortran_order: %q", s)
	}
	h.fortran = m[1] == "True"

	m = shapeRe.FindStringSubmatch(s)
	if m == nil {
		return h, fmt.Errorf("npy: header missing shape: %q", s)
	}
	for _, part := range strings.Split(m[1], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := strconv.Atoi(strings.TrimSuffix(part, "L"))
		if err != nil {
			return h, fmt.Errorf("npy: bad shape entry %q: %w", part, err)
		}
		h.shape = append(h.shape, d)
	}
	if len(h.shape) == 0 {
		// zero-dimensional array
		h.shape = []int{1}
	}

	h.count = 1
	for _, d := range h.shape {
		switch {
		case d < 0:
			return h, fmt.Errorf("%w: negative dimension in %v", ErrInvalidShape, h.shape)
		case d == 0:
			return h, fmt.Errorf("%w: empty arrays are not supported, got %v", ErrInvalidShape, h.shape)
		case h.count > MaxElements/d:
			return h, fmt.Errorf("%w: %v exceeds %d elements", ErrInvalidShape, h.shape, MaxElements)
		}
		h.count *= d
	}
	return h, nil
}

// Read decodes a .npy stream. Float64 arrays are narrowed to Float32.
func Read(r io.Reader) (*tensor.Tensor, error) {
	br := bufio.NewReader(r)

	prefix := make([]byte, len(magic)+2)
	if _, err := io.ReadFull(br, prefix); err != nil {
		return nil, fmt.Errorf("npy: read magic: %w", err)
	}
	if !bytes.Equal(prefix[:len(magic)], magic) {
		return nil, fmt.Errorf("npy: not a .npy stream")
	}

	var headerLen int
	switch major := prefix[len(magic)]; major {
	case 1:
		var n uint16
		if err := binary.Read(br, binary.LittleEndian, &n); err != nil {
			return nil, err
		}
		headerLen = int(n)
	case 2, 3:
		var n uint32
		if err := binary.Read(br, binary.LittleEndian, &n); err != nil {
			return nil, err
		}
		headerLen = int(n)
	default:
		return nil, fmt.Errorf("npy: unsupported format version %d", major)
	}

	raw := make([]byte, headerLen)
	if _, err := io.ReadFull(br, raw); err != nil {
		return nil, fmt.Errorf("npy: read header: %w", err)
	}
	h, err := parseHeader(string(raw))
	if err != nil {
		return nil, err
	}
	if h.fortran && len(h.shape) > 1 {
		return nil, fmt.Errorf("npy: fortran-ordered arrays are not supported")
	}

	n := h.count

	var data interface{}
	dtype := tensor.Float32
	switch h.descr {
	case "<f4":
		data = make([]float32, n)
	case "<f8":
		data = make([]float64, n)
	case "<i4":
		data, dtype = make([]int32, n), tensor.Int32
	case "|u1", "<u1", "|b1":
		data, dtype = make([]uint8, n), tensor.Uint8
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDType, h.descr)
	}
	if err := binary.Read(br, binary.LittleEndian, data); err != nil {
		return nil, fmt.Errorf("npy: read data: %w", err)
	}

	if wide, ok := data.([]float64); ok {
		narrow := make([]float32, len(wide))
		for i, v := range wide {
			narrow[i] = float32(v)
		}
		data = narrow
	}

	return tensor.NewTensor(h.shape, dtype, data)
}

// Save writes t to path, compressing with zstd when the path ends in ".zst"
func Save(path string, t *tensor.Tensor) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("npy: create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	if !strings.HasSuffix(path, ".zst") {
		return Write(f, t)
	}

	enc, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("npy: zstd writer: %w", err)
	}
	if err := Write(enc, t); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

// Load reads a tensor from path, decompressing ".zst" files
func Load(path string) (*tensor.Tensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("npy: open %s: %w", path, err)
	}
	defer f.Close()

	if !strings.HasSuffix(path, ".zst") {
		return Read(f)
	}

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("npy: zstd reader: %w", err)
	}
	defer dec.Close()
	return Read(dec)
}

// SaveFloat32 writes a 1-D float32 array
func SaveFloat32(path string, values []float32) error {
	if len(values) == 0 {
		return fmt.Errorf("npy: refusing to save empty array to %s", path)
	}
	t, err := tensor.FromFloat32([]int{len(values)}, values)
	if err != nil {
		return err
	}
	return Save(path, t)
}
