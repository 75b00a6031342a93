package protocol

import (
	"encoding/json"
	"fmt"
)

// OpKind identifies one image transformation. The wire names are fixed;
// clients and the dashboard depend on them.
type OpKind string

const (
	OpBlur      OpKind = "blur"
	OpGrayscale OpKind = "escala_grises"
	OpSharpen   OpKind = "sharpen"
	OpContour   OpKind = "contorno"
	OpResize    OpKind = "redimensionar"
)

// Operation is one step of a job's transformation sequence.
// Width and Height apply only to OpResize. Immutable once decoded.
type Operation struct {
	Kind   OpKind `json:"tipo"`
	Width  int    `json:"ancho,omitempty"`
	Height int    `json:"alto,omitempty"`
}

// operationJSON mirrors Operation without its UnmarshalJSON method.
type operationJSON Operation

// UnmarshalJSON decodes an operation and rejects unknown kinds, so a
// malformed command is caught once at the boundary.
func (o *Operation) UnmarshalJSON(data []byte) error {
	var raw operationJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw.Kind {
	case OpBlur, OpGrayscale, OpSharpen, OpContour, OpResize:
	default:
		return fmt.Errorf("unknown operation kind %q", raw.Kind)
	}
	*o = Operation(raw)
	return nil
}

// DefaultOperations is the sequence used when a start command supplies none.
func DefaultOperations() []Operation {
	return []Operation{{Kind: OpBlur}}
}

// OperationNames returns the wire names of a sequence, for result events.
func OperationNames(ops []Operation) []string {
	names := make([]string, len(ops))
	for i, op := range ops {
		names[i] = string(op.Kind)
	}
	return names
}
