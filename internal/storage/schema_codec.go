package storage

import (
	"encoding/json"
	"fmt"

	"github.com/tuplestream/collector/internal/value"
)

// schemaColumnDTO is the JSON-serializable form of a Column, stored under
// the "schema:<table>" key of the experiment metadata sidecar so TableList
// can reconstruct schemas without a separate catalog table.
type schemaColumnDTO struct {
	Name string `json:"name"`
	Tag  int    `json:"tag"`
}

func encodeSchema(s Schema) string {
	cols := make([]schemaColumnDTO, len(s.Columns))
	for i, c := range s.Columns {
		cols[i] = schemaColumnDTO{Name: c.Name, Tag: int(c.Tag)}
	}
	b, err := json.Marshal(cols)
	if err != nil {
		// Columns are always built from in-process data; a marshal
		// failure here means a Tag constant is out of range, a
		// programmer error rather than a runtime condition to recover
		// from gracefully.
		panic(fmt.Sprintf("storage: encode schema: %v", err))
	}
	return string(b)
}

func decodeSchema(encoded string) (Schema, error) {
	var cols []schemaColumnDTO
	if err := json.Unmarshal([]byte(encoded), &cols); err != nil {
		return Schema{}, fmt.Errorf("storage: decode schema: %w", err)
	}
	out := Schema{Columns: make([]Column, len(cols))}
	for i, c := range cols {
		out.Columns[i] = Column{Name: c.Name, Tag: value.Tag(c.Tag)}
	}
	return out, nil
}
