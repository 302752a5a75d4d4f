// Package pipeline reads and writes the on-disk pipeline format. A file is
// loaded by replaying its contents through the graph model, so everything a
// file can express is validated by exactly the same rules as interactive
// edits.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/vk/pipegrid/internal/ctxlog"
	"github.com/vk/pipegrid/internal/graph"
)

// Metadata is the pipeline block: descriptive fields with no effect on
// validation.
type Metadata struct {
	Name        string   `hcl:"name,optional"`
	Description string   `hcl:"description,optional"`
	Author      string   `hcl:"author,optional"`
	Tags        []string `hcl:"tags,optional"`
}

// Document is a loaded pipeline file: the validated graph, its metadata and
// any top-level attributes this version does not understand. Unknown
// attributes ride along so saving a file written by a newer tool does not
// silently drop them.
type Document struct {
	Meta  Metadata
	Graph *graph.Graph
	Extra map[string]cty.Value
}

var rootSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "pipeline"},
		{Type: "node", LabelNames: []string{"id"}},
		{Type: "connection"},
	},
}

var nodeSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "type", Required: true},
		{Name: "position"},
	},
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "params"},
	},
}

var connectionSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "from", Required: true},
		{Name: "to", Required: true},
	},
}

// LoadFile reads and loads a pipeline file from disk.
func LoadFile(ctx context.Context, path string, schemas graph.SchemaSource) (*Document, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline file: %w", err)
	}
	return Load(ctx, path, src, schemas)
}

// Load parses pipeline source and replays it through a fresh graph. It
// returns either a fully validated document or an error; a file that fails
// validation yields no graph at all.
func Load(ctx context.Context, path string, src []byte, schemas graph.SchemaSource) (*Document, error) {
	logger := ctxlog.FromContext(ctx)

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, path)
	if diags.HasErrors() {
		return nil, &ParseError{Path: path, Diags: diags}
	}

	content, _, diags := file.Body.PartialContent(rootSchema)
	if diags.HasErrors() {
		return nil, &ParseError{Path: path, Diags: diags}
	}

	doc := &Document{Graph: graph.New(schemas)}
	var semantic []Diagnostic

	// PartialContent leaves unmatched items behind without complaint, so
	// walk the syntax body directly: every top-level attribute is one this
	// version does not understand and rides along in Extra, while a block
	// type outside the schema is a structural error.
	if body, ok := file.Body.(*hclsyntax.Body); ok {
		for name, attr := range body.Attributes {
			val, valDiags := attr.Expr.Value(nil)
			if valDiags.HasErrors() {
				return nil, &ParseError{Path: path, Diags: valDiags}
			}
			if doc.Extra == nil {
				doc.Extra = make(map[string]cty.Value)
			}
			doc.Extra[name] = val
		}
		for _, blk := range body.Blocks {
			switch blk.Type {
			case "pipeline", "node", "connection":
			default:
				return nil, &ParseError{Path: path, Diags: hcl.Diagnostics{&hcl.Diagnostic{
					Severity: hcl.DiagError,
					Summary:  fmt.Sprintf("Blocks of type %q are not expected here", blk.Type),
					Subject:  blk.TypeRange.Ptr(),
				}}}
			}
		}
	}

	for _, block := range content.Blocks {
		switch block.Type {
		case "pipeline":
			if moreDiags := gohcl.DecodeBody(block.Body, nil, &doc.Meta); moreDiags.HasErrors() {
				return nil, &ParseError{Path: path, Diags: moreDiags}
			}
		case "node":
			diag, err := loadNode(doc.Graph, block)
			if err != nil {
				return nil, err
			}
			if diag != nil {
				semantic = append(semantic, *diag)
			}
		case "connection":
			diag, err := loadConnection(doc.Graph, block)
			if err != nil {
				return nil, err
			}
			if diag != nil {
				semantic = append(semantic, *diag)
			}
		}
	}

	if len(semantic) > 0 {
		return nil, &LoadError{Path: path, Diags: semantic}
	}

	logger.Debug("Pipeline loaded", "path", path, "nodes", doc.Graph.NodeCount(), "edges", doc.Graph.EdgeCount())
	return doc, nil
}

// loadNode decodes one node block and adds it to the graph. Structural
// problems abort the load; validation rejections become a diagnostic and
// loading continues so the caller sees every problem at once.
func loadNode(g *graph.Graph, block *hcl.Block) (*Diagnostic, error) {
	id := block.Labels[0]

	content, diags := block.Body.Content(nodeSchema)
	if diags.HasErrors() {
		return nil, &ParseError{Path: block.DefRange.Filename, Diags: diags}
	}

	typeName, diag, err := stringAttr(content.Attributes["type"])
	if err != nil || diag != nil {
		return diag, err
	}

	params := make(map[string]cty.Value)
	for _, inner := range content.Blocks {
		attrs, moreDiags := inner.Body.JustAttributes()
		if moreDiags.HasErrors() {
			return nil, &ParseError{Path: block.DefRange.Filename, Diags: moreDiags}
		}
		for name, attr := range attrs {
			val, valDiags := attr.Expr.Value(nil)
			if valDiags.HasErrors() {
				return nil, &ParseError{Path: block.DefRange.Filename, Diags: valDiags}
			}
			params[name] = val
		}
	}

	if err := g.AddNodeWithID(id, typeName, params); err != nil {
		return &Diagnostic{Subject: block.DefRange, Err: err}, nil
	}

	if posAttr, ok := content.Attributes["position"]; ok {
		x, y, posDiag := decodePosition(posAttr)
		if posDiag != nil {
			// Position is metadata, but a malformed one is still a file
			// defect. Roll the node back so no partial state survives.
			_ = g.RemoveNode(id)
			return posDiag, nil
		}
		_ = g.SetPosition(id, x, y)
	}
	return nil, nil
}

func loadConnection(g *graph.Graph, block *hcl.Block) (*Diagnostic, error) {
	content, diags := block.Body.Content(connectionSchema)
	if diags.HasErrors() {
		return nil, &ParseError{Path: block.DefRange.Filename, Diags: diags}
	}

	from, diag, err := stringAttr(content.Attributes["from"])
	if err != nil || diag != nil {
		return diag, err
	}
	to, diag, err := stringAttr(content.Attributes["to"])
	if err != nil || diag != nil {
		return diag, err
	}

	srcNode, srcPort, ok := splitEndpoint(from)
	if !ok {
		return &Diagnostic{
			Subject: content.Attributes["from"].Range,
			Err:     fmt.Errorf("endpoint %q is not of the form \"node.port\"", from),
		}, nil
	}
	dstNode, dstPort, ok := splitEndpoint(to)
	if !ok {
		return &Diagnostic{
			Subject: content.Attributes["to"].Range,
			Err:     fmt.Errorf("endpoint %q is not of the form \"node.port\"", to),
		}, nil
	}

	if _, err := g.Connect(srcNode, srcPort, dstNode, dstPort); err != nil {
		return &Diagnostic{Subject: block.DefRange, Err: err}, nil
	}
	return nil, nil
}

// stringAttr evaluates an attribute expected to be a constant string.
func stringAttr(attr *hcl.Attribute) (string, *Diagnostic, error) {
	val, diags := attr.Expr.Value(nil)
	if diags.HasErrors() {
		return "", nil, &ParseError{Path: attr.Range.Filename, Diags: diags}
	}
	converted, err := convert.Convert(val, cty.String)
	if err != nil {
		return "", &Diagnostic{Subject: attr.Range, Err: fmt.Errorf("%s must be a string: %w", attr.Name, err)}, nil
	}
	return converted.AsString(), nil, nil
}

// decodePosition evaluates a position attribute of the form [x, y].
func decodePosition(attr *hcl.Attribute) (float64, float64, *Diagnostic) {
	val, diags := attr.Expr.Value(nil)
	if diags.HasErrors() {
		return 0, 0, &Diagnostic{Subject: attr.Range, Err: diags}
	}
	converted, err := convert.Convert(val, cty.List(cty.Number))
	if err != nil || converted.LengthInt() != 2 {
		return 0, 0, &Diagnostic{Subject: attr.Range, Err: fmt.Errorf("position must be a pair of numbers")}
	}
	elems := converted.AsValueSlice()
	x, _ := elems[0].AsBigFloat().Float64()
	y, _ := elems[1].AsBigFloat().Float64()
	return x, y, nil
}

// splitEndpoint separates "node.port" on the last dot, so node ids derived
// from dotted type names stay addressable.
func splitEndpoint(s string) (node, port string, ok bool) {
	i := strings.LastIndexByte(s, '.')
	if i <= 0 || i == len(s)-1 {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}
