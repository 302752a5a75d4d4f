package pipeline

import (
	"fmt"
	"os"
	"sort"

	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"
)

// Save renders a document back to pipeline source. Nodes and connections
// are written in graph insertion order and params alphabetically, so the
// output is deterministic and loading it reproduces the same graph.
func Save(doc *Document) []byte {
	f := hclwrite.NewEmptyFile()
	body := f.Body()

	if meta := doc.Meta; meta.Name != "" || meta.Description != "" || meta.Author != "" || len(meta.Tags) > 0 {
		block := body.AppendNewBlock("pipeline", nil)
		b := block.Body()
		if meta.Name != "" {
			b.SetAttributeValue("name", cty.StringVal(meta.Name))
		}
		if meta.Description != "" {
			b.SetAttributeValue("description", cty.StringVal(meta.Description))
		}
		if meta.Author != "" {
			b.SetAttributeValue("author", cty.StringVal(meta.Author))
		}
		if len(meta.Tags) > 0 {
			tags := make([]cty.Value, len(meta.Tags))
			for i, t := range meta.Tags {
				tags[i] = cty.StringVal(t)
			}
			b.SetAttributeValue("tags", cty.ListVal(tags))
		}
		body.AppendNewline()
	}

	for _, name := range sortedKeys(doc.Extra) {
		body.SetAttributeValue(name, doc.Extra[name])
	}
	if len(doc.Extra) > 0 {
		body.AppendNewline()
	}

	for _, n := range doc.Graph.Nodes() {
		block := body.AppendNewBlock("node", []string{n.ID})
		b := block.Body()
		b.SetAttributeValue("type", cty.StringVal(n.TypeName))
		if n.Position != [2]float64{} {
			b.SetAttributeValue("position", cty.ListVal([]cty.Value{
				cty.NumberFloatVal(n.Position[0]),
				cty.NumberFloatVal(n.Position[1]),
			}))
		}
		if len(n.Params) > 0 {
			params := b.AppendNewBlock("params", nil).Body()
			for _, name := range sortedKeys(n.Params) {
				params.SetAttributeValue(name, n.Params[name])
			}
		}
		body.AppendNewline()
	}

	for _, e := range doc.Graph.Edges() {
		block := body.AppendNewBlock("connection", nil)
		b := block.Body()
		b.SetAttributeValue("from", cty.StringVal(fmt.Sprintf("%s.%s", e.SourceNode, e.SourcePort)))
		b.SetAttributeValue("to", cty.StringVal(fmt.Sprintf("%s.%s", e.TargetNode, e.TargetPort)))
		body.AppendNewline()
	}

	return hclwrite.Format(f.Bytes())
}

// SaveFile writes the rendered document to disk.
func SaveFile(path string, doc *Document) error {
	if err := os.WriteFile(path, Save(doc), 0o644); err != nil {
		return fmt.Errorf("write pipeline file: %w", err)
	}
	return nil
}

func sortedKeys(m map[string]cty.Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
