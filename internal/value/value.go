// Package value implements the collector's tagged-value type system: the
// discriminated union of scalar, string, blob, and vector payloads that
// injection points send and the database adapter persists.
package value

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Tag identifies the runtime type carried by a Value.
type Tag int

const (
	Long Tag = iota
	Int32
	UInt32
	Int64
	UInt64
	Double
	Bool
	Guid
	String
	Blob
	VectorDouble
	VectorI32
	VectorU32
	VectorI64
	VectorU64
	VectorBool
)

func (t Tag) String() string {
	switch t {
	case Long:
		return "long"
	case Int32:
		return "int32"
	case UInt32:
		return "uint32"
	case Int64:
		return "int64"
	case UInt64:
		return "uint64"
	case Double:
		return "double"
	case Bool:
		return "bool"
	case Guid:
		return "guid"
	case String:
		return "string"
	case Blob:
		return "blob"
	case VectorDouble:
		return "vector<double>"
	case VectorI32:
		return "vector<int32>"
	case VectorU32:
		return "vector<uint32>"
	case VectorI64:
		return "vector<int64>"
	case VectorU64:
		return "vector<uint64>"
	case VectorBool:
		return "vector<bool>"
	default:
		return fmt.Sprintf("tag(%d)", int(t))
	}
}

// IsVector reports whether the tag carries a vector payload.
func (t Tag) IsVector() bool {
	switch t {
	case VectorDouble, VectorI32, VectorU32, VectorI64, VectorU64, VectorBool:
		return true
	default:
		return false
	}
}

// ErrTypeMismatch is returned when a Value's tag doesn't match the column
// it is being inserted into. Spec calls this out as a hard adapter error
// (TypeMismatch) that drops the offending row without failing the process.
var ErrTypeMismatch = errors.New("value: type mismatch")

// Value is a single tagged measurement field: a discriminated union over
// the scalar, string, blob, and numeric-vector payloads a schema column can
// hold. Exactly one of the typed accessors below is meaningful for a given
// Value, selected by Tag.
type Value struct {
	tag Tag

	long   int64 // backs Long, Int32, UInt32, Int64, UInt64, Bool
	double float64
	str    string
	blob   []byte
	guid   uuid.UUID

	vecF64  []float64
	vecI32  []int32
	vecU32  []uint32
	vecI64  []int64
	vecU64  []uint64
	vecBool []bool
}

// Tag returns the value's runtime type.
func (v Value) Tag() Tag { return v.tag }

func NewLong(n int64) Value        { return Value{tag: Long, long: n} }
func NewInt32(n int32) Value       { return Value{tag: Int32, long: int64(n)} }
func NewUInt32(n uint32) Value     { return Value{tag: UInt32, long: int64(n)} }
func NewInt64(n int64) Value       { return Value{tag: Int64, long: n} }
func NewUInt64(n uint64) Value     { return Value{tag: UInt64, long: int64(n)} } // sign loss: values above MaxInt64 read back negative
func NewDouble(f float64) Value    { return Value{tag: Double, double: f} }
func NewBool(b bool) Value {
	v := Value{tag: Bool}
	if b {
		v.long = 1
	}
	return v
}
func NewGuid(g uuid.UUID) Value         { return Value{tag: Guid, guid: g} }
func NewString(s string) Value          { return Value{tag: String, str: s} }
func NewBlob(b []byte) Value            { return Value{tag: Blob, blob: b} }
func NewVectorDouble(v []float64) Value { return Value{tag: VectorDouble, vecF64: v} }
func NewVectorI32(v []int32) Value      { return Value{tag: VectorI32, vecI32: v} }
func NewVectorU32(v []uint32) Value     { return Value{tag: VectorU32, vecU32: v} }
func NewVectorI64(v []int64) Value      { return Value{tag: VectorI64, vecI64: v} }
func NewVectorU64(v []uint64) Value     { return Value{tag: VectorU64, vecU64: v} }
func NewVectorBool(v []bool) Value      { return Value{tag: VectorBool, vecBool: v} }

// Long returns the value as an int64. Valid for Long, Int32, UInt32, Int64,
// UInt64 (sign-extended/truncated per source width) and Bool (0 or 1).
func (v Value) Long() int64 { return v.long }

// Double returns the value as a float64. Valid for Double.
func (v Value) Double() float64 { return v.double }

// Bool returns the value as a bool. Valid for Bool.
func (v Value) Bool() bool { return v.long != 0 }

// Guid returns the value as a uuid.UUID. Valid for Guid.
func (v Value) Guid() uuid.UUID { return v.guid }

// String returns the value as a string. Valid for String.
func (v Value) String() string { return v.str }

// Blob returns the value as a byte slice. Valid for Blob.
func (v Value) Blob() []byte { return v.blob }

func (v Value) VectorDouble() []float64 { return v.vecF64 }
func (v Value) VectorI32() []int32      { return v.vecI32 }
func (v Value) VectorU32() []uint32     { return v.vecU32 }
func (v Value) VectorI64() []int64      { return v.vecI64 }
func (v Value) VectorU64() []uint64     { return v.vecU64 }
func (v Value) VectorBool() []bool      { return v.vecBool }

// GoString renders a value for debug logging. Deliberately terse — this is
// for log lines, not user-facing output.
func (v Value) GoString() string {
	switch v.tag {
	case String:
		return fmt.Sprintf("%s(%q)", v.tag, v.str)
	case Blob:
		return fmt.Sprintf("%s(%d bytes)", v.tag, len(v.blob))
	case Double:
		return fmt.Sprintf("%s(%v)", v.tag, v.double)
	case Guid:
		return fmt.Sprintf("%s(%s)", v.tag, v.guid)
	default:
		if v.tag.IsVector() {
			return fmt.Sprintf("%s(%d elements)", v.tag, v.vectorLen())
		}
		return fmt.Sprintf("%s(%d)", v.tag, v.long)
	}
}

func (v Value) vectorLen() int {
	switch v.tag {
	case VectorDouble:
		return len(v.vecF64)
	case VectorI32:
		return len(v.vecI32)
	case VectorU32:
		return len(v.vecU32)
	case VectorI64:
		return len(v.vecI64)
	case VectorU64:
		return len(v.vecU64)
	case VectorBool:
		return len(v.vecBool)
	default:
		return 0
	}
}

// CheckTag returns ErrTypeMismatch if v's tag doesn't match want.
func (v Value) CheckTag(want Tag) error {
	if v.tag != want {
		return fmt.Errorf("%w: column expects %s, got %s", ErrTypeMismatch, want, v.tag)
	}
	return nil
}
