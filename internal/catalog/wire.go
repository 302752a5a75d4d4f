package catalog

import (
	"encoding/json"
	"fmt"

	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// Wire representation of the node-type list as returned by the engine's
// catalog.list call and as written to the local cache file.

type wireConstraints struct {
	OneOf []string `json:"one_of,omitempty"`
	Min   *float64 `json:"min,omitempty"`
	Max   *float64 `json:"max,omitempty"`
}

type wirePort struct {
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	Dtype       string   `json:"dtype,omitempty"`
	Shape       []int64  `json:"shape,omitempty"`
	EnumValues  []string `json:"enum_values,omitempty"`
	RefCategory string   `json:"ref_category,omitempty"`
	Optional    bool     `json:"optional,omitempty"`
	Multi       bool     `json:"multi,omitempty"`
	Description string   `json:"description,omitempty"`
}

type wireParam struct {
	Name        string           `json:"name"`
	Kind        string           `json:"kind"`
	Default     json.RawMessage  `json:"default,omitempty"`
	Constraints *wireConstraints `json:"constraints,omitempty"`
	Description string           `json:"description,omitempty"`
}

type wireNodeType struct {
	TypeName    string      `json:"type_name"`
	Category    string      `json:"category,omitempty"`
	Description string      `json:"description,omitempty"`
	Inputs      []wirePort  `json:"inputs,omitempty"`
	Outputs     []wirePort  `json:"outputs,omitempty"`
	Params      []wireParam `json:"params,omitempty"`
}

// DecodeNodeTypes parses the wire node-type list into immutable schemas.
// The whole document is rejected on the first structural problem; a catalog
// is swapped in whole or not at all.
func DecodeNodeTypes(raw json.RawMessage) ([]*NodeTypeSchema, error) {
	var wire []wireNodeType
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("decode node type list: %w", err)
	}

	seen := make(map[string]struct{}, len(wire))
	out := make([]*NodeTypeSchema, 0, len(wire))

	for _, wt := range wire {
		if wt.TypeName == "" {
			return nil, fmt.Errorf("node type with empty type_name")
		}
		if _, dup := seen[wt.TypeName]; dup {
			return nil, fmt.Errorf("duplicate node type %q", wt.TypeName)
		}
		seen[wt.TypeName] = struct{}{}

		schema := &NodeTypeSchema{
			TypeName:    wt.TypeName,
			Category:    wt.Category,
			Description: wt.Description,
		}

		var err error
		if schema.Inputs, err = decodePorts(wt.TypeName, wt.Inputs); err != nil {
			return nil, err
		}
		if schema.Outputs, err = decodePorts(wt.TypeName, wt.Outputs); err != nil {
			return nil, err
		}
		if schema.Params, err = decodeParams(wt.TypeName, wt.Params); err != nil {
			return nil, err
		}

		out = append(out, schema)
	}
	return out, nil
}

func decodePorts(typeName string, wire []wirePort) ([]PortSchema, error) {
	ports := make([]PortSchema, 0, len(wire))
	for _, wp := range wire {
		kind := DataKind(wp.Kind)
		if !kind.valid() {
			return nil, fmt.Errorf("node type %q, port %q: unknown data kind %q", typeName, wp.Name, wp.Kind)
		}
		dtype := wp.Dtype
		if kind == KindTensor || kind == KindScalar {
			if dtype == "" {
				dtype = "any"
			}
			if _, ok := validDtypes[dtype]; !ok {
				return nil, fmt.Errorf("node type %q, port %q: unknown dtype %q", typeName, wp.Name, dtype)
			}
		}
		if kind == KindEnum && len(wp.EnumValues) == 0 {
			return nil, fmt.Errorf("node type %q, port %q: enum port without enum_values", typeName, wp.Name)
		}
		if kind == KindReference && wp.RefCategory == "" {
			return nil, fmt.Errorf("node type %q, port %q: reference port without ref_category", typeName, wp.Name)
		}
		ports = append(ports, PortSchema{
			Name:        wp.Name,
			Kind:        kind,
			Dtype:       dtype,
			Shape:       wp.Shape,
			EnumValues:  wp.EnumValues,
			RefCategory: wp.RefCategory,
			Optional:    wp.Optional,
			Multi:       wp.Multi,
			Description: wp.Description,
		})
	}
	return ports, nil
}

func decodeParams(typeName string, wire []wireParam) ([]ParamSchema, error) {
	params := make([]ParamSchema, 0, len(wire))
	for _, wp := range wire {
		ctyType, err := ParseKindName(wp.Kind)
		if err != nil {
			return nil, fmt.Errorf("node type %q, param %q: %w", typeName, wp.Name, err)
		}

		param := ParamSchema{
			Name:        wp.Name,
			KindName:    wp.Kind,
			Type:        ctyType,
			Description: wp.Description,
		}

		if len(wp.Default) > 0 {
			defType := ctyType
			if defType.HasDynamicTypes() {
				if defType, err = ctyjson.ImpliedType(wp.Default); err != nil {
					return nil, fmt.Errorf("node type %q, param %q: default: %w", typeName, wp.Name, err)
				}
			}
			val, err := ctyjson.Unmarshal(wp.Default, defType)
			if err != nil {
				return nil, fmt.Errorf("node type %q, param %q: default does not match kind %s: %w", typeName, wp.Name, wp.Kind, err)
			}
			param.Default = val
		}

		if wp.Constraints != nil {
			param.Constraints = Constraints{
				OneOf: wp.Constraints.OneOf,
				Min:   wp.Constraints.Min,
				Max:   wp.Constraints.Max,
			}
		}

		params = append(params, param)
	}
	return params, nil
}

// EncodeNodeTypes is the inverse of DecodeNodeTypes, used for the local
// cache file.
func EncodeNodeTypes(types []*NodeTypeSchema) ([]byte, error) {
	wire := make([]wireNodeType, 0, len(types))
	for _, s := range types {
		wt := wireNodeType{
			TypeName:    s.TypeName,
			Category:    s.Category,
			Description: s.Description,
		}
		for _, p := range s.Inputs {
			wt.Inputs = append(wt.Inputs, encodePort(p))
		}
		for _, p := range s.Outputs {
			wt.Outputs = append(wt.Outputs, encodePort(p))
		}
		for _, p := range s.Params {
			wp := wireParam{
				Name:        p.Name,
				Kind:        p.KindName,
				Description: p.Description,
			}
			if p.Default != cty.NilVal {
				raw, err := ctyjson.Marshal(p.Default, p.Default.Type())
				if err != nil {
					return nil, fmt.Errorf("node type %q, param %q: encode default: %w", s.TypeName, p.Name, err)
				}
				wp.Default = raw
			}
			if len(p.Constraints.OneOf) > 0 || p.Constraints.Min != nil || p.Constraints.Max != nil {
				wp.Constraints = &wireConstraints{
					OneOf: p.Constraints.OneOf,
					Min:   p.Constraints.Min,
					Max:   p.Constraints.Max,
				}
			}
			wt.Params = append(wt.Params, wp)
		}
		wire = append(wire, wt)
	}
	return json.MarshalIndent(wire, "", "  ")
}

func encodePort(p PortSchema) wirePort {
	return wirePort{
		Name:        p.Name,
		Kind:        string(p.Kind),
		Dtype:       p.Dtype,
		Shape:       p.Shape,
		EnumValues:  p.EnumValues,
		RefCategory: p.RefCategory,
		Optional:    p.Optional,
		Multi:       p.Multi,
		Description: p.Description,
	}
}
