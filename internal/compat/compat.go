// Package compat decides whether a producer port may feed a consumer port.
// The decision is a pure function over the two port schemas; both the graph
// model and the pipeline loader go through it, so there is exactly one
// source of truth for connectability.
package compat

import (
	"fmt"
	"slices"

	"github.com/vk/pipegrid/internal/catalog"
)

// Mismatch explains why two ports are not connectable.
type Mismatch struct {
	Code   string
	Detail string
}

func (m *Mismatch) String() string {
	return fmt.Sprintf("%s: %s", m.Code, m.Detail)
}

// Mismatch codes.
const (
	CodeKind     = "kind_mismatch"
	CodeDtype    = "dtype_mismatch"
	CodeShape    = "shape_mismatch"
	CodeEnumSet  = "enum_set_mismatch"
	CodeCategory = "reference_category_mismatch"
)

// rule checks one (producer kind, consumer kind) pairing.
type rule func(out, in catalog.PortSchema) *Mismatch

type kindPair struct {
	out, in catalog.DataKind
}

// coercions is the declarative table of admissible kind pairings. A pairing
// absent from the table (with neither side being "any") is a kind mismatch.
var coercions = map[kindPair]rule{
	{catalog.KindTensor, catalog.KindTensor}: tensorToTensor,
	{catalog.KindScalar, catalog.KindScalar}: scalarToScalar,
	// A scalar producer may feed a tensor consumer as a rank-0 tensor.
	{catalog.KindScalar, catalog.KindTensor}:       scalarToTensor,
	{catalog.KindEnum, catalog.KindEnum}:           enumToEnum,
	{catalog.KindReference, catalog.KindReference}: referenceToReference,
}

// Compatible reports whether the producer port schema can feed the consumer
// port schema.
func Compatible(out, in catalog.PortSchema) bool {
	return Explain(out, in) == nil
}

// Explain returns nil when the ports are compatible, or the specific
// mismatch otherwise.
func Explain(out, in catalog.PortSchema) *Mismatch {
	if out.Kind == catalog.KindAny || in.Kind == catalog.KindAny {
		return nil
	}
	r, ok := coercions[kindPair{out.Kind, in.Kind}]
	if !ok {
		return &Mismatch{
			Code:   CodeKind,
			Detail: fmt.Sprintf("%s output cannot feed %s input", out.Kind, in.Kind),
		}
	}
	return r(out, in)
}

func tensorToTensor(out, in catalog.PortSchema) *Mismatch {
	if m := dtypeMatch(out, in); m != nil {
		return m
	}
	return shapeRefines(out.Shape, in.Shape)
}

func scalarToScalar(out, in catalog.PortSchema) *Mismatch {
	return dtypeMatch(out, in)
}

func scalarToTensor(out, in catalog.PortSchema) *Mismatch {
	if m := dtypeMatch(out, in); m != nil {
		return m
	}
	// The consumer must accept a rank-0 tensor: either unconstrained or an
	// explicit empty shape.
	if len(in.Shape) == 0 {
		return nil
	}
	return &Mismatch{
		Code:   CodeShape,
		Detail: fmt.Sprintf("scalar producer is rank 0, consumer requires rank %d", len(in.Shape)),
	}
}

func enumToEnum(out, in catalog.PortSchema) *Mismatch {
	o := slices.Clone(out.EnumValues)
	i := slices.Clone(in.EnumValues)
	slices.Sort(o)
	slices.Sort(i)
	if !slices.Equal(o, i) {
		return &Mismatch{
			Code:   CodeEnumSet,
			Detail: fmt.Sprintf("enum sets differ: %v vs %v", out.EnumValues, in.EnumValues),
		}
	}
	return nil
}

func referenceToReference(out, in catalog.PortSchema) *Mismatch {
	if out.RefCategory != in.RefCategory {
		return &Mismatch{
			Code:   CodeCategory,
			Detail: fmt.Sprintf("reference categories differ: %q vs %q", out.RefCategory, in.RefCategory),
		}
	}
	return nil
}

func dtypeMatch(out, in catalog.PortSchema) *Mismatch {
	if out.Dtype == "any" || in.Dtype == "any" || out.Dtype == in.Dtype {
		return nil
	}
	return &Mismatch{
		Code:   CodeDtype,
		Detail: fmt.Sprintf("%s cannot feed %s", out.Dtype, in.Dtype),
	}
}

// shapeRefines checks the shape partial order: an unconstrained consumer
// accepts any producer shape; a constrained consumer requires the producer
// shape to be a refinement (same rank, every consumer wildcard dim accepts
// anything, every concrete consumer dim requires that exact producer dim).
func shapeRefines(producer, consumer []int64) *Mismatch {
	if consumer == nil {
		return nil
	}
	if producer == nil {
		return &Mismatch{
			Code:   CodeShape,
			Detail: fmt.Sprintf("unconstrained producer shape cannot satisfy constrained consumer shape %v", consumer),
		}
	}
	if len(producer) != len(consumer) {
		return &Mismatch{
			Code:   CodeShape,
			Detail: fmt.Sprintf("rank %d producer cannot feed rank %d consumer", len(producer), len(consumer)),
		}
	}
	for d := range consumer {
		if consumer[d] == -1 {
			continue
		}
		if producer[d] != consumer[d] {
			return &Mismatch{
				Code:   CodeShape,
				Detail: fmt.Sprintf("dimension %d: producer %d does not refine consumer %d", d, producer[d], consumer[d]),
			}
		}
	}
	return nil
}
