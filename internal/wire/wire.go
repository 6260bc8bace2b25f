// Package wire implements the fixed binary layout exchanged with clients
// over the unix-domain socket, per spec.md §4.1: little-endian fixed-width
// integers, length-prefixed strings, and three payload shapes (resultset,
// affected-rows, error).
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Kind tags which of the three payload shapes a decoded message is.
type Kind byte

const (
	KindResultSet  Kind = 'R'
	KindWarning    Kind = 'W'
	KindAffected   Kind = 'A'
	KindError      Kind = 'E'
)

// ReadLengthPrefixed reads a <int32 length><bytes> frame from r. Used for
// both the pool-name and query-string fields of the request side of the
// protocol.
func ReadLengthPrefixed(r io.Reader) (string, error) {
	var n int32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	if n < 0 {
		return "", fmt.Errorf("wire: negative length prefix %d", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// WriteLengthPrefixed writes s as a <int32 length><bytes> frame.
func WriteLengthPrefixed(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, int32(len(s))); err != nil {
		return err
	}
	_, err := w.Write([]byte(s))
	return err
}

// ResultSet is the decoded/encoded form of a §4.1 resultset payload.
type ResultSet struct {
	AssignationMs int32
	ProcessingMs  int32
	Columns       []string
	Rows          [][][]byte
	Warning       string
	HasWarning    bool
}

// EncodeResultSet serializes rs as:
//
//	[2 × int32 header][1 × byte 'R' or 'W']
//	int32 num_fields, { int32 name_len, name_bytes } × num_fields
//	uint64 num_rows, { { int32 cell_len, cell_bytes } × num_fields } × num_rows
//	[optional: int32 warn_len, warn_bytes]
func EncodeResultSet(rs ResultSet) []byte {
	var buf bytes.Buffer

	binary.Write(&buf, binary.LittleEndian, rs.AssignationMs)
	binary.Write(&buf, binary.LittleEndian, rs.ProcessingMs)
	if rs.HasWarning {
		buf.WriteByte(byte(KindWarning))
	} else {
		buf.WriteByte(byte(KindResultSet))
	}

	binary.Write(&buf, binary.LittleEndian, int32(len(rs.Columns)))
	for _, name := range rs.Columns {
		binary.Write(&buf, binary.LittleEndian, int32(len(name)))
		buf.WriteString(name)
	}

	binary.Write(&buf, binary.LittleEndian, uint64(len(rs.Rows)))
	for _, row := range rs.Rows {
		for _, cell := range row {
			binary.Write(&buf, binary.LittleEndian, int32(len(cell)))
			buf.Write(cell)
		}
	}

	if rs.HasWarning {
		binary.Write(&buf, binary.LittleEndian, int32(len(rs.Warning)))
		buf.WriteString(rs.Warning)
	}

	return buf.Bytes()
}

// DecodeResultSet parses the output of EncodeResultSet, primarily for
// round-trip tests.
func DecodeResultSet(b []byte) (ResultSet, error) {
	r := bytes.NewReader(b)
	var rs ResultSet

	if err := binary.Read(r, binary.LittleEndian, &rs.AssignationMs); err != nil {
		return rs, err
	}
	if err := binary.Read(r, binary.LittleEndian, &rs.ProcessingMs); err != nil {
		return rs, err
	}
	kindByte, err := r.ReadByte()
	if err != nil {
		return rs, err
	}
	rs.HasWarning = Kind(kindByte) == KindWarning

	var numFields int32
	if err := binary.Read(r, binary.LittleEndian, &numFields); err != nil {
		return rs, err
	}
	rs.Columns = make([]string, numFields)
	for i := range rs.Columns {
		var nameLen int32
		if err := binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
			return rs, err
		}
		name := make([]byte, nameLen)
		if _, err := io.ReadFull(r, name); err != nil {
			return rs, err
		}
		rs.Columns[i] = string(name)
	}

	var numRows uint64
	if err := binary.Read(r, binary.LittleEndian, &numRows); err != nil {
		return rs, err
	}
	rs.Rows = make([][][]byte, numRows)
	for i := range rs.Rows {
		row := make([][]byte, numFields)
		for f := range row {
			var cellLen int32
			if err := binary.Read(r, binary.LittleEndian, &cellLen); err != nil {
				return rs, err
			}
			cell := make([]byte, cellLen)
			if _, err := io.ReadFull(r, cell); err != nil {
				return rs, err
			}
			row[f] = cell
		}
		rs.Rows[i] = row
	}

	if rs.HasWarning {
		var warnLen int32
		if err := binary.Read(r, binary.LittleEndian, &warnLen); err != nil {
			return rs, err
		}
		warn := make([]byte, warnLen)
		if _, err := io.ReadFull(r, warn); err != nil {
			return rs, err
		}
		rs.Warning = string(warn)
	}

	return rs, nil
}

// EncodeAffectedRows serializes the affected-rows payload shape.
func EncodeAffectedRows(assignationMs, processingMs int32, affected int64) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, assignationMs)
	binary.Write(&buf, binary.LittleEndian, processingMs)
	buf.WriteByte(byte(KindAffected))
	binary.Write(&buf, binary.LittleEndian, int32(affected))
	return buf.Bytes()
}

// DecodeAffectedRows parses the output of EncodeAffectedRows.
func DecodeAffectedRows(b []byte) (assignationMs, processingMs int32, affected int32, err error) {
	r := bytes.NewReader(b)
	if err = binary.Read(r, binary.LittleEndian, &assignationMs); err != nil {
		return
	}
	if err = binary.Read(r, binary.LittleEndian, &processingMs); err != nil {
		return
	}
	kindByte, rerr := r.ReadByte()
	if rerr != nil {
		err = rerr
		return
	}
	if Kind(kindByte) != KindAffected {
		err = fmt.Errorf("wire: expected affected-rows tag, got %q", kindByte)
		return
	}
	err = binary.Read(r, binary.LittleEndian, &affected)
	return
}

// EncodeError serializes the error payload shape.
func EncodeError(assignationMs, processingMs int32, message string) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, assignationMs)
	binary.Write(&buf, binary.LittleEndian, processingMs)
	buf.WriteByte(byte(KindError))
	binary.Write(&buf, binary.LittleEndian, int32(len(message)))
	buf.WriteString(message)
	return buf.Bytes()
}

// DecodeError parses the output of EncodeError.
func DecodeError(b []byte) (assignationMs, processingMs int32, message string, err error) {
	r := bytes.NewReader(b)
	if err = binary.Read(r, binary.LittleEndian, &assignationMs); err != nil {
		return
	}
	if err = binary.Read(r, binary.LittleEndian, &processingMs); err != nil {
		return
	}
	kindByte, rerr := r.ReadByte()
	if rerr != nil {
		err = rerr
		return
	}
	if Kind(kindByte) != KindError {
		err = fmt.Errorf("wire: expected error tag, got %q", kindByte)
		return
	}
	var msgLen int32
	if err = binary.Read(r, binary.LittleEndian, &msgLen); err != nil {
		return
	}
	msg := make([]byte, msgLen)
	if _, rerr = io.ReadFull(r, msg); rerr != nil {
		err = rerr
		return
	}
	message = string(msg)
	return
}

// StampHeader overwrites the first nine bytes of an encoded resultset
// buffer (two int32 timing fields plus a type byte) with new timing
// values and the resultset/warning tag. EncodeResultSet already writes
// these header fields from its ResultSet, which is how the Client builds
// its replies; StampHeader is the in-place alternative. A 'W' tag is only
// valid on a buffer that carries the trailing warning.
func StampHeader(buf []byte, assignationMs, processingMs int32, hasWarning bool) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(assignationMs))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(processingMs))
	if hasWarning {
		buf[8] = byte(KindWarning)
	} else {
		buf[8] = byte(KindResultSet)
	}
}
