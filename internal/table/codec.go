package table

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"
)

// ErrBadFormat is returned when a payload cannot be decoded: wrong magic,
// unsupported format version, or truncated/corrupted contents. It is
// distinct from storage.ErrNotFound so callers can tell a corrupt slot from
// a missing one.
var ErrBadFormat = errors.New("unrecognized table payload format")

// Payload layout, little-endian throughout:
//
//	magic "DBT1" | version byte | uvarint ncols | uvarint nrows
//	per column: uvarint len(name) | name | type byte | null bitmap | values
//
// The null bitmap is (nrows+7)/8 bytes, bit i set when row i is missing.
// Values are written for every row including nulls (zero value), so the
// layout is fixed given the header. Ints are zigzag varints, floats 8-byte
// IEEE 754, bools one byte, strings uvarint-length-prefixed, times int64
// Unix nanoseconds.
var payloadMagic = [4]byte{'D', 'B', 'T', '1'}

const payloadVersion = 1

// Encode serializes the table into the versioned payload format.
func Encode(t *Table) ([]byte, error) {
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("encoding table: %w", err)
	}

	var buf bytes.Buffer
	buf.Write(payloadMagic[:])
	buf.WriteByte(payloadVersion)

	writeUvarint(&buf, uint64(t.NumCols()))
	writeUvarint(&buf, uint64(t.NumRows()))

	rows := t.NumRows()
	for i := range t.Columns {
		c := &t.Columns[i]
		writeUvarint(&buf, uint64(len(c.Name)))
		buf.WriteString(c.Name)
		buf.WriteByte(byte(c.Type))

		bitmap := make([]byte, (rows+7)/8)
		for row := 0; row < rows; row++ {
			if c.IsNull(row) {
				bitmap[row/8] |= 1 << (row % 8)
			}
		}
		buf.Write(bitmap)

		switch c.Type {
		case Int:
			for _, v := range c.Ints {
				writeVarint(&buf, v)
			}
		case Float:
			for _, v := range c.Floats {
				var b [8]byte
				binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
				buf.Write(b[:])
			}
		case Bool:
			for _, v := range c.Bools {
				if v {
					buf.WriteByte(1)
				} else {
					buf.WriteByte(0)
				}
			}
		case String:
			for _, v := range c.Strings {
				writeUvarint(&buf, uint64(len(v)))
				buf.WriteString(v)
			}
		case Time:
			for _, v := range c.Times {
				var b [8]byte
				binary.LittleEndian.PutUint64(b[:], uint64(v.UnixNano()))
				buf.Write(b[:])
			}
		}
	}

	return buf.Bytes(), nil
}

// Decode reconstructs a table from its payload. Payloads with a wrong magic
// or an unsupported version are rejected with an error wrapping ErrBadFormat
// rather than being misread.
func Decode(payload []byte) (*Table, error) {
	r := bytes.NewReader(payload)

	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("reading payload magic: %w", ErrBadFormat)
	}
	if magic != payloadMagic {
		return nil, fmt.Errorf("payload magic %q: %w", magic[:], ErrBadFormat)
	}

	version, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("reading payload version: %w", ErrBadFormat)
	}
	if version != payloadVersion {
		return nil, fmt.Errorf("unsupported payload version %d: %w", version, ErrBadFormat)
	}

	ncols, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	nrows, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	if ncols > uint64(len(payload)) || nrows > uint64(len(payload))*8 {
		return nil, fmt.Errorf("implausible dimensions %dx%d for %d payload bytes: %w", ncols, nrows, len(payload), ErrBadFormat)
	}

	rows := int(nrows)
	t := &Table{Columns: make([]Column, 0, ncols)}
	for ci := uint64(0); ci < ncols; ci++ {
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		typeByte, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("reading column type: %w", ErrBadFormat)
		}

		c := Column{Name: name, Type: Type(typeByte)}

		bitmap := make([]byte, (rows+7)/8)
		if _, err := io.ReadFull(r, bitmap); err != nil {
			return nil, fmt.Errorf("reading null bitmap for %q: %w", name, ErrBadFormat)
		}
		hasNull := false
		null := make([]bool, rows)
		for row := 0; row < rows; row++ {
			if bitmap[row/8]&(1<<(row%8)) != 0 {
				null[row] = true
				hasNull = true
			}
		}
		if hasNull {
			c.Null = null
		}

		switch c.Type {
		case Int:
			c.Ints = make([]int64, rows)
			for row := 0; row < rows; row++ {
				v, err := binary.ReadVarint(r)
				if err != nil {
					return nil, fmt.Errorf("reading int cell in %q: %w", name, ErrBadFormat)
				}
				c.Ints[row] = v
			}
		case Float:
			c.Floats = make([]float64, rows)
			for row := 0; row < rows; row++ {
				var b [8]byte
				if _, err := io.ReadFull(r, b[:]); err != nil {
					return nil, fmt.Errorf("reading float cell in %q: %w", name, ErrBadFormat)
				}
				c.Floats[row] = math.Float64frombits(binary.LittleEndian.Uint64(b[:]))
			}
		case Bool:
			c.Bools = make([]bool, rows)
			for row := 0; row < rows; row++ {
				b, err := r.ReadByte()
				if err != nil {
					return nil, fmt.Errorf("reading bool cell in %q: %w", name, ErrBadFormat)
				}
				c.Bools[row] = b != 0
			}
		case String:
			c.Strings = make([]string, rows)
			for row := 0; row < rows; row++ {
				s, err := readString(r)
				if err != nil {
					return nil, fmt.Errorf("reading string cell in %q: %w", name, err)
				}
				c.Strings[row] = s
			}
		case Time:
			c.Times = make([]time.Time, rows)
			for row := 0; row < rows; row++ {
				var b [8]byte
				if _, err := io.ReadFull(r, b[:]); err != nil {
					return nil, fmt.Errorf("reading time cell in %q: %w", name, ErrBadFormat)
				}
				c.Times[row] = time.Unix(0, int64(binary.LittleEndian.Uint64(b[:]))).UTC()
			}
		default:
			return nil, fmt.Errorf("unknown column type %d for %q: %w", typeByte, name, ErrBadFormat)
		}

		t.Columns = append(t.Columns, c)
	}

	if r.Len() != 0 {
		return nil, fmt.Errorf("%d trailing payload bytes: %w", r.Len(), ErrBadFormat)
	}
	return t, nil
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var b [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(b[:], v)
	buf.Write(b[:n])
}

func writeVarint(buf *bytes.Buffer, v int64) {
	var b [binary.MaxVarintLen64]byte
	n := binary.PutVarint(b[:], v)
	buf.Write(b[:n])
}

func readUvarint(r *bytes.Reader) (uint64, error) {
	v, err := binary.ReadUvarint(r)
	if err != nil {
		return 0, fmt.Errorf("reading varint: %w", ErrBadFormat)
	}
	return v, nil
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readUvarint(r)
	if err != nil {
		return "", err
	}
	if n > uint64(r.Len()) {
		return "", fmt.Errorf("string length %d exceeds %d remaining bytes: %w", n, r.Len(), ErrBadFormat)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("reading string bytes: %w", ErrBadFormat)
	}
	return string(b), nil
}
