package testutil

import (
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/pipegrid/internal/catalog"
)

// Schemas is a fixed in-memory schema source for graph and pipeline tests.
type Schemas map[string]*catalog.NodeTypeSchema

// Lookup implements graph.SchemaSource.
func (s Schemas) Lookup(typeName string) (*catalog.NodeTypeSchema, bool) {
	t, ok := s[typeName]
	return t, ok
}

// FloatPtr returns a pointer to f, for constraint literals.
func FloatPtr(f float64) *float64 { return &f }

// SampleNodeTypes builds a small but representative catalog: a cube loader,
// a normalizer, a channel selector, a merge node with a multi input and a
// classifier, covering every port kind the validator distinguishes.
func SampleNodeTypes() []*catalog.NodeTypeSchema {
	return []*catalog.NodeTypeSchema{
		{
			TypeName: "io.CubeLoader",
			Category: "io",
			Outputs: []catalog.PortSchema{
				{Name: "cube", Kind: catalog.KindTensor, Dtype: "float32", Shape: []int64{-1, -1, -1}},
				{Name: "wavelengths", Kind: catalog.KindTensor, Dtype: "float32", Shape: []int64{-1}},
				{Name: "source", Kind: catalog.KindReference, RefCategory: "dataset"},
			},
			Params: []catalog.ParamSchema{
				{Name: "path", KindName: "string", Type: cty.String},
			},
		},
		{
			TypeName: "spectra.Normalizer",
			Category: "preprocessing",
			Inputs: []catalog.PortSchema{
				{Name: "in", Kind: catalog.KindTensor, Dtype: "float32"},
			},
			Outputs: []catalog.PortSchema{
				{Name: "out", Kind: catalog.KindTensor, Dtype: "float32"},
			},
			Params: []catalog.ParamSchema{
				{
					Name: "mode", KindName: "string", Type: cty.String,
					Default:     cty.StringVal("minmax"),
					Constraints: catalog.Constraints{OneOf: []string{"minmax", "zscore"}},
				},
				{
					Name: "scale", KindName: "number", Type: cty.Number,
					Default:     cty.NumberFloatVal(1.0),
					Constraints: catalog.Constraints{Min: FloatPtr(0), Max: FloatPtr(100)},
				},
			},
		},
		{
			TypeName: "spectra.BandSelect",
			Category: "preprocessing",
			Inputs: []catalog.PortSchema{
				{Name: "cube", Kind: catalog.KindTensor, Dtype: "float32", Shape: []int64{-1, -1, -1}},
			},
			Outputs: []catalog.PortSchema{
				{Name: "band", Kind: catalog.KindTensor, Dtype: "float32", Shape: []int64{-1, -1}},
				{Name: "index", Kind: catalog.KindScalar, Dtype: "int64"},
			},
			Params: []catalog.ParamSchema{
				{Name: "bands", KindName: "list(number)", Type: cty.List(cty.Number)},
			},
		},
		{
			TypeName: "core.Merge",
			Category: "core",
			Inputs: []catalog.PortSchema{
				{Name: "inputs", Kind: catalog.KindTensor, Dtype: "any", Multi: true},
			},
			Outputs: []catalog.PortSchema{
				{Name: "merged", Kind: catalog.KindTensor, Dtype: "any"},
			},
		},
		{
			TypeName: "ml.Classifier",
			Category: "ml",
			Inputs: []catalog.PortSchema{
				{Name: "features", Kind: catalog.KindTensor, Dtype: "float32"},
				{Name: "mode", Kind: catalog.KindEnum, EnumValues: []string{"train", "infer"}, Optional: true},
			},
			Outputs: []catalog.PortSchema{
				{Name: "labels", Kind: catalog.KindTensor, Dtype: "int64", Shape: []int64{-1}},
				{Name: "confidence", Kind: catalog.KindScalar, Dtype: "float64"},
			},
			Params: []catalog.ParamSchema{
				{Name: "model", KindName: "string", Type: cty.String},
				{Name: "options", KindName: "any", Type: cty.DynamicPseudoType},
			},
		},
		{
			TypeName: "core.ModeSwitch",
			Category: "core",
			Outputs: []catalog.PortSchema{
				{Name: "mode", Kind: catalog.KindEnum, EnumValues: []string{"train", "infer"}},
			},
		},
	}
}

// SampleSchemas returns SampleNodeTypes keyed by type name.
func SampleSchemas() Schemas {
	s := make(Schemas)
	for _, t := range SampleNodeTypes() {
		s[t.TypeName] = t
	}
	return s
}
