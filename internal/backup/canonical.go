package backup

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"prepflow-go/internal/model"
)

// Canonical payload stream. Tables, record counts and columns are written in
// sorted order so equal payloads always produce equal bytes.
//
//	"PFP1" userId exportedAtNanos counts{name n}* (tableStart name rows (row ncols (col value)*)* tableEnd name)* end
const streamMagic = "PFP1"

const (
	recEnd        = 0
	recTableStart = 1
	recRow        = 2
	recTableEnd   = 3

	valNull   = 0
	valInt    = 1
	valFloat  = 2
	valBytes  = 3
	valString = 4
	valBool   = 5
)

const (
	maxTables     = 64
	maxColumns    = 1024
	maxValueBytes = 64 << 20
)

func marshalPayload(p *model.Payload) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString(streamMagic)
	if err := writeString(&buf, p.UserID); err != nil {
		return nil, err
	}
	if err := writeVarint(&buf, p.ExportedAt.UTC().UnixNano()); err != nil {
		return nil, err
	}

	names := p.TableNames()
	if err := writeUvarint(&buf, uint64(len(names))); err != nil {
		return nil, err
	}
	for _, name := range names {
		if err := writeString(&buf, name); err != nil {
			return nil, err
		}
		if err := writeUvarint(&buf, uint64(p.Metadata.RecordCounts[name])); err != nil {
			return nil, err
		}
	}

	for _, name := range names {
		if err := writeTable(&buf, name, p.Tables[name]); err != nil {
			return nil, fmt.Errorf("backup: encode table %s: %w", name, err)
		}
	}
	if err := writeByte(&buf, recEnd); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeTable(w io.Writer, name string, rows []model.Record) error {
	if err := writeByte(w, recTableStart); err != nil {
		return err
	}
	if err := writeString(w, name); err != nil {
		return err
	}
	if err := writeUvarint(w, uint64(len(rows))); err != nil {
		return err
	}
	for _, rec := range rows {
		cols := rec.Columns()
		if err := writeByte(w, recRow); err != nil {
			return err
		}
		if err := writeUvarint(w, uint64(len(cols))); err != nil {
			return err
		}
		for _, c := range cols {
			if err := writeString(w, c); err != nil {
				return err
			}
			if err := writeValue(w, rec[c]); err != nil {
				return fmt.Errorf("column %s: %w", c, err)
			}
		}
	}
	if err := writeByte(w, recTableEnd); err != nil {
		return err
	}
	return writeString(w, name)
}

func unmarshalPayload(b []byte) (*model.Payload, error) {
	r := bytes.NewReader(b)
	magic := make([]byte, len(streamMagic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != streamMagic {
		return nil, ErrInvalidPayload
	}

	p, err := readPayload(r)
	if err != nil {
		if errors.Is(err, ErrInvalidFormat) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return p, nil
}

func readPayload(r *bytes.Reader) (*model.Payload, error) {
	userID, err := readString(r)
	if err != nil {
		return nil, err
	}
	nanos, err := binary.ReadVarint(r)
	if err != nil {
		return nil, err
	}
	p := model.NewPayload(userID, time.Unix(0, nanos))

	nTables, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if nTables > maxTables {
		return nil, ErrInvalidPayload
	}
	counts := make(map[string]int, int(nTables))
	for i := 0; i < int(nTables); i++ {
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		n, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, err
		}
		if n > math.MaxInt32 {
			return nil, ErrInvalidPayload
		}
		counts[name] = int(n)
	}

	for {
		t, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		switch t {
		case recEnd:
			if r.Len() != 0 {
				return nil, ErrInvalidPayload
			}
			p.Metadata.RecordCounts = counts
			return p, nil
		case recTableStart:
			name, rows, err := readTable(r)
			if err != nil {
				return nil, err
			}
			if _, dup := p.Tables[name]; dup {
				return nil, fmt.Errorf("%w: duplicate table %s", ErrInvalidPayload, name)
			}
			p.Tables[name] = rows
		default:
			return nil, fmt.Errorf("%w: unknown record type %d", ErrInvalidPayload, t)
		}
	}
}

func readTable(r *bytes.Reader) (string, []model.Record, error) {
	name, err := readString(r)
	if err != nil {
		return "", nil, err
	}
	nRows, err := binary.ReadUvarint(r)
	if err != nil {
		return "", nil, err
	}
	// Every row takes at least two bytes, which bounds the allocation.
	if nRows > uint64(r.Len()) {
		return "", nil, ErrInvalidPayload
	}
	rows := make([]model.Record, 0, int(nRows))
	for i := 0; i < int(nRows); i++ {
		t, err := r.ReadByte()
		if err != nil {
			return "", nil, err
		}
		if t != recRow {
			return "", nil, fmt.Errorf("%w: expected row in %s", ErrInvalidPayload, name)
		}
		rec, err := readRow(r)
		if err != nil {
			return "", nil, err
		}
		rows = append(rows, rec)
	}

	t, err := r.ReadByte()
	if err != nil {
		return "", nil, err
	}
	if t != recTableEnd {
		return "", nil, fmt.Errorf("%w: missing table end for %s", ErrInvalidPayload, name)
	}
	end, err := readString(r)
	if err != nil {
		return "", nil, err
	}
	if end != name {
		return "", nil, fmt.Errorf("%w: table end mismatch", ErrInvalidPayload)
	}
	return name, rows, nil
}

func readRow(r *bytes.Reader) (model.Record, error) {
	nCols, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if nCols > maxColumns {
		return nil, fmt.Errorf("%w: too many columns", ErrInvalidPayload)
	}
	rec := make(model.Record, int(nCols))
	for i := 0; i < int(nCols); i++ {
		col, err := readString(r)
		if err != nil {
			return nil, err
		}
		v, err := readValue(r)
		if err != nil {
			return nil, err
		}
		rec[col] = v
	}
	return rec, nil
}

func writeByte(w io.Writer, b byte) error {
	var buf [1]byte
	buf[0] = b
	_, err := w.Write(buf[:])
	return err
}

func writeUvarint(w io.Writer, x uint64) error {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], x)
	_, err := w.Write(buf[:n])
	return err
}

func writeVarint(w io.Writer, x int64) error {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutVarint(buf[:], x)
	_, err := w.Write(buf[:n])
	return err
}

func writeBytes(w io.Writer, b []byte) error {
	if err := writeUvarint(w, uint64(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func writeString(w io.Writer, s string) error {
	return writeBytes(w, []byte(s))
}

func writeValue(w io.Writer, v any) error {
	switch x := v.(type) {
	case nil:
		return writeByte(w, valNull)
	case int64:
		if err := writeByte(w, valInt); err != nil {
			return err
		}
		return writeVarint(w, x)
	case int:
		return writeValue(w, int64(x))
	case int32:
		return writeValue(w, int64(x))
	case uint32:
		return writeValue(w, int64(x))
	case uint64:
		if x > uint64(math.MaxInt64) {
			return errors.New("backup: uint64 too large")
		}
		return writeValue(w, int64(x))
	case float64:
		if err := writeByte(w, valFloat); err != nil {
			return err
		}
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(x))
		_, err := w.Write(buf[:])
		return err
	case float32:
		return writeValue(w, float64(x))
	case bool:
		if err := writeByte(w, valBool); err != nil {
			return err
		}
		var b byte
		if x {
			b = 1
		}
		return writeByte(w, b)
	case []byte:
		if err := writeByte(w, valBytes); err != nil {
			return err
		}
		return writeBytes(w, x)
	case string:
		if err := writeByte(w, valString); err != nil {
			return err
		}
		return writeString(w, x)
	case time.Time:
		return writeValue(w, x.UTC().Format(time.RFC3339Nano))
	default:
		return fmt.Errorf("backup: unsupported value type %T", v)
	}
}

func readValue(r *bytes.Reader) (any, error) {
	k, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	switch k {
	case valNull:
		return nil, nil
	case valInt:
		return binary.ReadVarint(r)
	case valFloat:
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(buf[:])), nil
	case valBool:
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		return b != 0, nil
	case valBytes:
		return readBytes(r, maxValueBytes)
	case valString:
		b, err := readBytes(r, maxValueBytes)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	default:
		return nil, fmt.Errorf("%w: unknown value type %d", ErrInvalidPayload, k)
	}
}

func readBytes(r *bytes.Reader, limit uint64) ([]byte, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if n > limit || n > uint64(r.Len()) {
		return nil, fmt.Errorf("%w: value too large", ErrInvalidPayload)
	}
	b := make([]byte, int(n))
	_, err = io.ReadFull(r, b)
	return b, err
}

func readString(r *bytes.Reader) (string, error) {
	b, err := readBytes(r, maxValueBytes)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
