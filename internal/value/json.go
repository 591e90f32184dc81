package value

import "encoding/json"

// VectorJSON renders a vector-tagged Value as the JSON array text the
// database adapters store for vector columns: SQLite keeps it in a TEXT
// column, Postgres in a jsonb column rather than text. Returns an error
// only for non-vector tags.
func (v Value) VectorJSON() (string, error) {
	var (
		b   []byte
		err error
	)
	switch v.tag {
	case VectorDouble:
		b, err = json.Marshal(v.vecF64)
	case VectorI32:
		b, err = json.Marshal(v.vecI32)
	case VectorU32:
		b, err = json.Marshal(v.vecU32)
	case VectorI64:
		b, err = json.Marshal(v.vecI64)
	case VectorU64:
		b, err = json.Marshal(v.vecU64)
	case VectorBool:
		b, err = json.Marshal(v.vecBool)
	default:
		return "", ErrTypeMismatch
	}
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ParseVectorJSON decodes JSON array text back into a Value of the given
// vector tag; the inverse of VectorJSON.
func ParseVectorJSON(tag Tag, text string) (Value, error) {
	switch tag {
	case VectorDouble:
		var v []float64
		if err := json.Unmarshal([]byte(text), &v); err != nil {
			return Value{}, err
		}
		return NewVectorDouble(v), nil
	case VectorI32:
		var v []int32
		if err := json.Unmarshal([]byte(text), &v); err != nil {
			return Value{}, err
		}
		return NewVectorI32(v), nil
	case VectorU32:
		var v []uint32
		if err := json.Unmarshal([]byte(text), &v); err != nil {
			return Value{}, err
		}
		return NewVectorU32(v), nil
	case VectorI64:
		var v []int64
		if err := json.Unmarshal([]byte(text), &v); err != nil {
			return Value{}, err
		}
		return NewVectorI64(v), nil
	case VectorU64:
		var v []uint64
		if err := json.Unmarshal([]byte(text), &v); err != nil {
			return Value{}, err
		}
		return NewVectorU64(v), nil
	case VectorBool:
		var v []bool
		if err := json.Unmarshal([]byte(text), &v); err != nil {
			return Value{}, err
		}
		return NewVectorBool(v), nil
	default:
		return Value{}, ErrTypeMismatch
	}
}
