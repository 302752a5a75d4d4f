// Package graph holds the in-memory pipeline model: node instances, typed
// edges and parameter values. Every mutation validates against the current
// catalog snapshot and either produces a consistent graph or leaves the
// previous one untouched.
package graph

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/vk/pipegrid/internal/catalog"
	"github.com/vk/pipegrid/internal/compat"
)

// SchemaSource resolves node type names. The catalog synchronizer satisfies
// it; tests supply fixtures. Node records hold type names, never schema
// pointers, because catalog entries are replaced wholesale on refresh.
type SchemaSource interface {
	Lookup(typeName string) (*catalog.NodeTypeSchema, bool)
}

// Node is one operator instance in the pipeline.
type Node struct {
	ID       string
	TypeName string
	Params   map[string]cty.Value
	// Position is editor placement metadata, opaque to the core.
	Position [2]float64
}

// Edge connects a producer output port to a consumer input port.
type Edge struct {
	ID         string
	SourceNode string
	SourcePort string
	TargetNode string
	TargetPort string
}

type endpoint struct {
	node, port string
}

// Graph is the mutable pipeline model. It is not safe for concurrent
// mutation; the editing context is a single logical caller.
type Graph struct {
	schemas SchemaSource

	nodes     map[string]*Node
	nodeOrder []string

	edges     map[string]*Edge
	edgeOrder []string

	// inEdges keeps the ordered incoming edge ids per input port. Order is
	// attachment order and is significant for multi-input ports.
	inEdges map[endpoint][]string

	schemaVersion uint64
	seq           int
}

// New creates an empty graph validating against the given schema source.
func New(schemas SchemaSource) *Graph {
	return &Graph{
		schemas: schemas,
		nodes:   make(map[string]*Node),
		edges:   make(map[string]*Edge),
		inEdges: make(map[endpoint][]string),
	}
}

// SchemaVersion returns the catalog version this graph was last validated
// against.
func (g *Graph) SchemaVersion() uint64 { return g.schemaVersion }

// SetSchemaVersion records the catalog version the graph is edited against.
func (g *Graph) SetSchemaVersion(v uint64) { g.schemaVersion = v }

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int { return len(g.edges) }

// Node returns the node with the given id. The returned value is owned by
// the graph and must not be mutated directly.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns all nodes in insertion order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.nodeOrder))
	for _, id := range g.nodeOrder {
		out = append(out, g.nodes[id])
	}
	return out
}

// Edge returns the edge with the given id.
func (g *Graph) Edge(id string) (*Edge, bool) {
	e, ok := g.edges[id]
	return e, ok
}

// Edges returns all edges in insertion order.
func (g *Graph) Edges() []*Edge {
	out := make([]*Edge, 0, len(g.edgeOrder))
	for _, id := range g.edgeOrder {
		out = append(out, g.edges[id])
	}
	return out
}

// IncomingEdges returns the edges feeding an input port, in attachment
// order.
func (g *Graph) IncomingEdges(nodeID, port string) []*Edge {
	ids := g.inEdges[endpoint{nodeID, port}]
	out := make([]*Edge, 0, len(ids))
	for _, id := range ids {
		out = append(out, g.edges[id])
	}
	return out
}

// AddNode creates a node of the given type with a generated id.
func (g *Graph) AddNode(typeName string, params map[string]cty.Value) (string, error) {
	id := g.nextID(typeName)
	if err := g.AddNodeWithID(id, typeName, params); err != nil {
		return "", err
	}
	return id, nil
}

// AddNodeWithID creates a node with a caller-chosen id. The pipeline loader
// uses this so file block labels survive a round trip.
func (g *Graph) AddNodeWithID(id, typeName string, params map[string]cty.Value) error {
	if id == "" {
		return &ValidationError{Kind: DuplicateNode, Detail: "empty node id"}
	}
	if _, exists := g.nodes[id]; exists {
		return &ValidationError{Kind: DuplicateNode, Node: id}
	}

	schema, ok := g.schemas.Lookup(typeName)
	if !ok {
		return &ValidationError{Kind: UnknownNodeType, Node: id, Detail: fmt.Sprintf("type %q not in catalog", typeName)}
	}

	resolved := make(map[string]cty.Value, len(params))
	for name, val := range params {
		param, ok := schema.Param(name)
		if !ok {
			return &ValidationError{Kind: InvalidParameter, Node: id, Param: name, Detail: "not declared by node type"}
		}
		checked, err := checkParam(param, val)
		if err != nil {
			return &ValidationError{Kind: InvalidParameter, Node: id, Param: name, Detail: err.Error()}
		}
		resolved[name] = checked
	}
	// Fill declared defaults for parameters the caller left out.
	for i := range schema.Params {
		p := &schema.Params[i]
		if _, given := resolved[p.Name]; !given && p.Default != cty.NilVal {
			resolved[p.Name] = p.Default
		}
	}

	g.nodes[id] = &Node{ID: id, TypeName: typeName, Params: resolved}
	g.nodeOrder = append(g.nodeOrder, id)
	return nil
}

// RemoveNode deletes a node and cascades to every incident edge. Callers
// never observe an intermediate state with dangling edges.
func (g *Graph) RemoveNode(id string) error {
	if _, ok := g.nodes[id]; !ok {
		return &ValidationError{Kind: UnknownEndpoint, Node: id}
	}

	for _, edgeID := range g.edgeOrder {
		e, ok := g.edges[edgeID]
		if !ok {
			continue
		}
		if e.SourceNode == id || e.TargetNode == id {
			g.dropEdge(edgeID)
		}
	}
	g.edgeOrder = g.compactEdgeOrder()

	delete(g.nodes, id)
	for i, nid := range g.nodeOrder {
		if nid == id {
			g.nodeOrder = append(g.nodeOrder[:i], g.nodeOrder[i+1:]...)
			break
		}
	}
	return nil
}

// Connect validates and creates an edge from a producer output port to a
// consumer input port, returning the new edge id.
func (g *Graph) Connect(srcNode, srcPort, dstNode, dstPort string) (string, error) {
	src, ok := g.nodes[srcNode]
	if !ok {
		return "", &ValidationError{Kind: UnknownEndpoint, Node: srcNode}
	}
	dst, ok := g.nodes[dstNode]
	if !ok {
		return "", &ValidationError{Kind: UnknownEndpoint, Node: dstNode}
	}

	srcSchema, ok := g.schemas.Lookup(src.TypeName)
	if !ok {
		return "", &ValidationError{Kind: UnknownNodeType, Node: srcNode, Detail: fmt.Sprintf("type %q not in catalog", src.TypeName)}
	}
	dstSchema, ok := g.schemas.Lookup(dst.TypeName)
	if !ok {
		return "", &ValidationError{Kind: UnknownNodeType, Node: dstNode, Detail: fmt.Sprintf("type %q not in catalog", dst.TypeName)}
	}

	out, ok := srcSchema.Output(srcPort)
	if !ok {
		return "", &ValidationError{Kind: UnknownEndpoint, Node: srcNode, Port: srcPort, Detail: "no such output port"}
	}
	in, ok := dstSchema.Input(dstPort)
	if !ok {
		return "", &ValidationError{Kind: UnknownEndpoint, Node: dstNode, Port: dstPort, Detail: "no such input port"}
	}

	if mismatch := compat.Explain(*out, *in); mismatch != nil {
		return "", &ValidationError{Kind: IncompatiblePorts, Node: dstNode, Port: dstPort, Detail: mismatch.String()}
	}

	key := endpoint{dstNode, dstPort}
	if !in.Multi && len(g.inEdges[key]) > 0 {
		return "", &ValidationError{Kind: PortOccupied, Node: dstNode, Port: dstPort, Detail: "input already has a producer"}
	}

	id := uuid.NewString()
	g.edges[id] = &Edge{ID: id, SourceNode: srcNode, SourcePort: srcPort, TargetNode: dstNode, TargetPort: dstPort}
	g.edgeOrder = append(g.edgeOrder, id)
	g.inEdges[key] = append(g.inEdges[key], id)
	return id, nil
}

// Disconnect removes a single edge. Surviving edges on the same multi-input
// port keep their relative order.
func (g *Graph) Disconnect(edgeID string) error {
	if _, ok := g.edges[edgeID]; !ok {
		return &ValidationError{Kind: UnknownEndpoint, Detail: fmt.Sprintf("no edge %q", edgeID)}
	}
	g.dropEdge(edgeID)
	g.edgeOrder = g.compactEdgeOrder()
	return nil
}

// SetParameter validates and sets one parameter value on a node.
func (g *Graph) SetParameter(nodeID, name string, val cty.Value) error {
	n, ok := g.nodes[nodeID]
	if !ok {
		return &ValidationError{Kind: UnknownEndpoint, Node: nodeID}
	}
	schema, ok := g.schemas.Lookup(n.TypeName)
	if !ok {
		return &ValidationError{Kind: UnknownNodeType, Node: nodeID, Detail: fmt.Sprintf("type %q not in catalog", n.TypeName)}
	}
	param, ok := schema.Param(name)
	if !ok {
		return &ValidationError{Kind: InvalidParameter, Node: nodeID, Param: name, Detail: "not declared by node type"}
	}
	checked, err := checkParam(param, val)
	if err != nil {
		return &ValidationError{Kind: InvalidParameter, Node: nodeID, Param: name, Detail: err.Error()}
	}
	n.Params[name] = checked
	return nil
}

// SetPosition records editor placement metadata for a node.
func (g *Graph) SetPosition(nodeID string, x, y float64) error {
	n, ok := g.nodes[nodeID]
	if !ok {
		return &ValidationError{Kind: UnknownEndpoint, Node: nodeID}
	}
	n.Position = [2]float64{x, y}
	return nil
}

// dropEdge removes an edge from the maps but leaves edgeOrder for the
// caller to compact, so cascading removals stay linear.
func (g *Graph) dropEdge(edgeID string) {
	e, ok := g.edges[edgeID]
	if !ok {
		return
	}
	delete(g.edges, edgeID)

	key := endpoint{e.TargetNode, e.TargetPort}
	ids := g.inEdges[key]
	for i, id := range ids {
		if id == edgeID {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(g.inEdges, key)
	} else {
		g.inEdges[key] = ids
	}
}

func (g *Graph) compactEdgeOrder() []string {
	out := g.edgeOrder[:0]
	for _, id := range g.edgeOrder {
		if _, ok := g.edges[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// nextID derives a readable unique id from a type name, e.g.
// "spectra.Normalizer" becomes "normalizer_1".
func (g *Graph) nextID(typeName string) string {
	base := typeName
	if i := strings.LastIndexByte(base, '.'); i >= 0 {
		base = base[i+1:]
	}
	base = strings.ToLower(base)
	for {
		g.seq++
		id := fmt.Sprintf("%s_%d", base, g.seq)
		if _, exists := g.nodes[id]; !exists {
			return id
		}
	}
}

// checkParam converts a value to the parameter's declared type and enforces
// its constraints, returning the converted value.
func checkParam(param *catalog.ParamSchema, val cty.Value) (cty.Value, error) {
	checked := val
	if param.Type != cty.DynamicPseudoType {
		converted, err := convert.Convert(val, param.Type)
		if err != nil {
			return cty.NilVal, fmt.Errorf("expected %s: %w", param.KindName, err)
		}
		checked = converted
	}

	cons := param.Constraints
	if len(cons.OneOf) > 0 {
		if checked.Type() != cty.String {
			return cty.NilVal, fmt.Errorf("one-of constraint applies to strings, got %s", checked.Type().FriendlyName())
		}
		s := checked.AsString()
		found := false
		for _, allowed := range cons.OneOf {
			if s == allowed {
				found = true
				break
			}
		}
		if !found {
			return cty.NilVal, fmt.Errorf("value %q not in %v", s, cons.OneOf)
		}
	}
	if cons.Min != nil || cons.Max != nil {
		if checked.Type() != cty.Number {
			return cty.NilVal, fmt.Errorf("range constraint applies to numbers, got %s", checked.Type().FriendlyName())
		}
		f, _ := checked.AsBigFloat().Float64()
		if cons.Min != nil && f < *cons.Min {
			return cty.NilVal, fmt.Errorf("value %v below minimum %v", f, *cons.Min)
		}
		if cons.Max != nil && f > *cons.Max {
			return cty.NilVal, fmt.Errorf("value %v above maximum %v", f, *cons.Max)
		}
	}
	return checked, nil
}
