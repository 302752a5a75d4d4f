package catalog

import (
	"fmt"
	"strings"

	"github.com/zclconf/go-cty/cty"
)

// ParseKindName converts a parameter type keyword from the wire schema into
// its cty.Type. Supported spellings are the primitives (string, number,
// bool), "any", and the single-argument collections list(...), set(...) and
// map(...).
func ParseKindName(name string) (cty.Type, error) {
	name = strings.TrimSpace(name)
	switch name {
	case "string":
		return cty.String, nil
	case "number":
		return cty.Number, nil
	case "bool":
		return cty.Bool, nil
	case "any":
		return cty.DynamicPseudoType, nil
	}

	open := strings.IndexByte(name, '(')
	if open > 0 && strings.HasSuffix(name, ")") {
		elem, err := ParseKindName(name[open+1 : len(name)-1])
		if err != nil {
			return cty.NilType, err
		}
		switch name[:open] {
		case "list":
			return cty.List(elem), nil
		case "set":
			return cty.Set(elem), nil
		case "map":
			return cty.Map(elem), nil
		}
	}

	return cty.NilType, fmt.Errorf("unsupported parameter kind %q", name)
}
