// Package status encodes and interprets replication status records.
//
// A Status is stored as the value of closed-file markers, status records and work
// entries. The bytes use the protobuf wire format of the replication Status message
// (begin=1, end=2, infiniteEnd=3, closed=4, createdTime=5) so that workers written
// against the generated message can read them.
package status

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformed indicates a status payload could not be decoded.
var ErrMalformed = errors.New("malformed replication status")

const (
	fieldBegin       protowire.Number = 1
	fieldEnd         protowire.Number = 2
	fieldInfiniteEnd protowire.Number = 3
	fieldClosed      protowire.Number = 4
	fieldCreatedTime protowire.Number = 5
)

// Status is the replication progress of one file towards one target.
type Status struct {
	// Begin is the offset up to which the file has been replicated.
	Begin int64

	// End is the offset up to which the file is known to contain data.
	End int64

	// InfiniteEnd indicates the file is still being written and End is not meaningful.
	InfiniteEnd bool

	// Closed indicates no more data will be appended to the file.
	Closed bool

	// CreatedTime is when the file was created, in milliseconds since the epoch.
	// Zero means unknown.
	CreatedTime int64
}

// Encode returns the wire representation of s.
func Encode(s Status) []byte {
	b := make([]byte, 0, 32)
	b = protowire.AppendTag(b, fieldBegin, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.Begin))
	b = protowire.AppendTag(b, fieldEnd, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.End))
	b = protowire.AppendTag(b, fieldInfiniteEnd, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeBool(s.InfiniteEnd))
	b = protowire.AppendTag(b, fieldClosed, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeBool(s.Closed))
	if s.CreatedTime != 0 {
		b = protowire.AppendTag(b, fieldCreatedTime, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(s.CreatedTime))
	}
	return b
}

// Decode parses a wire representation produced by Encode or by the generated message.
// Unknown fields are skipped. Returns an error wrapping ErrMalformed on truncated input
// or when a known field has an unexpected wire type.
func Decode(b []byte) (Status, error) {
	var s Status
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Status{}, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case fieldBegin, fieldEnd, fieldInfiniteEnd, fieldClosed, fieldCreatedTime:
			if typ != protowire.VarintType {
				return Status{}, fmt.Errorf("%w: field %d has wire type %d", ErrMalformed, num, typ)
			}
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Status{}, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
			b = b[n:]
			s.set(num, v)
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Status{}, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return s, nil
}

func (s *Status) set(num protowire.Number, v uint64) {
	switch num {
	case fieldBegin:
		s.Begin = int64(v)
	case fieldEnd:
		s.End = int64(v)
	case fieldInfiniteEnd:
		s.InfiniteEnd = protowire.DecodeBool(v)
	case fieldClosed:
		s.Closed = protowire.DecodeBool(v)
	case fieldCreatedTime:
		s.CreatedTime = int64(v)
	}
}

// IsWorkRequired reports whether data remains to be replicated.
func IsWorkRequired(s Status) bool {
	if s.InfiniteEnd {
		return s.Begin < math.MaxInt64
	}
	return s.Begin < s.End
}

// IsFullyReplicated reports whether the file is closed and all of its data has been replicated.
func IsFullyReplicated(s Status) bool {
	if s.InfiniteEnd {
		return s.Closed && s.Begin == math.MaxInt64
	}
	return s.Closed && s.Begin >= s.End
}

// FileCreated is the status of a file that was just created and is still being written.
func FileCreated(createdTime int64) Status {
	return Status{InfiniteEnd: true, CreatedTime: createdTime}
}

// FileClosed is the status of a file that will receive no more data.
func FileClosed(createdTime int64) Status {
	return Status{InfiniteEnd: true, Closed: true, CreatedTime: createdTime}
}

// ReplicatedTo returns s with Begin advanced to offset.
func ReplicatedTo(s Status, offset int64) Status {
	s.Begin = offset
	return s
}

// String renders s on a single line for logs.
func (s Status) String() string {
	return fmt.Sprintf("begin: %d, end: %d, infiniteEnd: %t, closed: %t, createdTime: %d",
		s.Begin, s.End, s.InfiniteEnd, s.Closed, s.CreatedTime)
}
