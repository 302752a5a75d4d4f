package graph_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/pipegrid/internal/graph"
	"github.com/vk/pipegrid/internal/testutil"
)

func newGraph(t *testing.T) *graph.Graph {
	t.Helper()
	return graph.New(testutil.SampleSchemas())
}

func requireKind(t *testing.T, err error, kind graph.ErrorKind) *graph.ValidationError {
	t.Helper()
	var verr *graph.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, kind, verr.Kind)
	return verr
}

func TestAddNode(t *testing.T) {
	g := newGraph(t)

	id, err := g.AddNode("spectra.Normalizer", map[string]cty.Value{
		"mode": cty.StringVal("zscore"),
	})
	require.NoError(t, err)
	assert.Equal(t, "normalizer_1", id)

	n, ok := g.Node(id)
	require.True(t, ok)
	assert.Equal(t, "spectra.Normalizer", n.TypeName)
	assert.Equal(t, cty.StringVal("zscore"), n.Params["mode"])
	// Declared defaults are filled for omitted parameters.
	assert.Equal(t, cty.NumberFloatVal(1.0), n.Params["scale"])

	id2, err := g.AddNode("spectra.Normalizer", nil)
	require.NoError(t, err)
	assert.Equal(t, "normalizer_2", id2)
	assert.Equal(t, 2, g.NodeCount())
}

func TestAddNodeUnknownType(t *testing.T) {
	g := newGraph(t)

	_, err := g.AddNode("spectra.DoesNotExist", nil)
	requireKind(t, err, graph.UnknownNodeType)
	assert.Equal(t, 0, g.NodeCount())
}

func TestAddNodeWithIDDuplicate(t *testing.T) {
	g := newGraph(t)

	require.NoError(t, g.AddNodeWithID("n1", "spectra.Normalizer", nil))
	err := g.AddNodeWithID("n1", "ml.Classifier", nil)
	requireKind(t, err, graph.DuplicateNode)
	assert.Equal(t, 1, g.NodeCount())
}

func TestAddNodeParamValidation(t *testing.T) {
	testCases := []struct {
		name   string
		params map[string]cty.Value
		kind   graph.ErrorKind
	}{
		{
			name:   "undeclared parameter",
			params: map[string]cty.Value{"bogus": cty.True},
			kind:   graph.InvalidParameter,
		},
		{
			name:   "wrong type",
			params: map[string]cty.Value{"scale": cty.StringVal("not a number")},
			kind:   graph.InvalidParameter,
		},
		{
			name:   "one-of violation",
			params: map[string]cty.Value{"mode": cty.StringVal("median")},
			kind:   graph.InvalidParameter,
		},
		{
			name:   "below minimum",
			params: map[string]cty.Value{"scale": cty.NumberFloatVal(-3)},
			kind:   graph.InvalidParameter,
		},
		{
			name:   "above maximum",
			params: map[string]cty.Value{"scale": cty.NumberFloatVal(1000)},
			kind:   graph.InvalidParameter,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			g := newGraph(t)
			_, err := g.AddNode("spectra.Normalizer", tc.params)
			verr := requireKind(t, err, tc.kind)
			assert.NotEmpty(t, verr.Param)
			// Rejected mutations leave the graph untouched.
			assert.Equal(t, 0, g.NodeCount())
		})
	}
}

func TestParamConversion(t *testing.T) {
	g := newGraph(t)

	// A tuple literal converts to the declared list(number).
	id, err := g.AddNode("spectra.BandSelect", map[string]cty.Value{
		"bands": cty.TupleVal([]cty.Value{cty.NumberIntVal(3), cty.NumberIntVal(7)}),
	})
	require.NoError(t, err)

	n, _ := g.Node(id)
	assert.Equal(t, cty.List(cty.Number), n.Params["bands"].Type())
}

func TestConnect(t *testing.T) {
	g := newGraph(t)
	require.NoError(t, g.AddNodeWithID("loader", "io.CubeLoader", nil))
	require.NoError(t, g.AddNodeWithID("norm", "spectra.Normalizer", nil))

	edgeID, err := g.Connect("loader", "cube", "norm", "in")
	require.NoError(t, err)

	e, ok := g.Edge(edgeID)
	require.True(t, ok)
	assert.Equal(t, "loader", e.SourceNode)
	assert.Equal(t, "in", e.TargetPort)

	incoming := g.IncomingEdges("norm", "in")
	require.Len(t, incoming, 1)
	assert.Equal(t, edgeID, incoming[0].ID)
}

func TestConnectRejections(t *testing.T) {
	g := newGraph(t)
	require.NoError(t, g.AddNodeWithID("loader", "io.CubeLoader", nil))
	require.NoError(t, g.AddNodeWithID("norm", "spectra.Normalizer", nil))
	require.NoError(t, g.AddNodeWithID("clf", "ml.Classifier", nil))

	t.Run("unknown source node", func(t *testing.T) {
		_, err := g.Connect("ghost", "cube", "norm", "in")
		requireKind(t, err, graph.UnknownEndpoint)
	})

	t.Run("unknown port", func(t *testing.T) {
		_, err := g.Connect("loader", "nope", "norm", "in")
		requireKind(t, err, graph.UnknownEndpoint)
	})

	t.Run("reversed direction", func(t *testing.T) {
		// "in" is an input of norm, not an output, so a reversed connect
		// fails port resolution.
		_, err := g.Connect("norm", "in", "loader", "cube")
		requireKind(t, err, graph.UnknownEndpoint)
	})

	t.Run("incompatible ports", func(t *testing.T) {
		// int64 labels cannot feed a float32 input.
		_, err := g.Connect("clf", "labels", "norm", "in")
		verr := requireKind(t, err, graph.IncompatiblePorts)
		assert.Contains(t, verr.Detail, "dtype")
	})

	t.Run("port occupied", func(t *testing.T) {
		_, err := g.Connect("loader", "cube", "norm", "in")
		require.NoError(t, err)
		_, err = g.Connect("clf", "labels", "norm", "in")
		requireKind(t, err, graph.IncompatiblePorts)
		_, err = g.Connect("loader", "wavelengths", "norm", "in")
		requireKind(t, err, graph.PortOccupied)
	})
}

func TestMultiInputKeepsAttachmentOrder(t *testing.T) {
	g := newGraph(t)
	require.NoError(t, g.AddNodeWithID("loader", "io.CubeLoader", nil))
	require.NoError(t, g.AddNodeWithID("norm", "spectra.Normalizer", nil))
	require.NoError(t, g.AddNodeWithID("merge", "core.Merge", nil))

	first, err := g.Connect("loader", "cube", "merge", "inputs")
	require.NoError(t, err)
	second, err := g.Connect("norm", "out", "merge", "inputs")
	require.NoError(t, err)
	third, err := g.Connect("loader", "wavelengths", "merge", "inputs")
	require.NoError(t, err)

	ids := func() []string {
		var out []string
		for _, e := range g.IncomingEdges("merge", "inputs") {
			out = append(out, e.ID)
		}
		return out
	}
	assert.Equal(t, []string{first, second, third}, ids())

	// Removing the middle edge preserves the relative order of the rest.
	require.NoError(t, g.Disconnect(second))
	assert.Equal(t, []string{first, third}, ids())
}

func TestRemoveNodeCascades(t *testing.T) {
	g := newGraph(t)
	require.NoError(t, g.AddNodeWithID("loader", "io.CubeLoader", nil))
	require.NoError(t, g.AddNodeWithID("norm", "spectra.Normalizer", nil))
	require.NoError(t, g.AddNodeWithID("clf", "ml.Classifier", nil))

	_, err := g.Connect("loader", "cube", "norm", "in")
	require.NoError(t, err)
	keep, err := g.Connect("norm", "out", "clf", "features")
	require.NoError(t, err)

	require.NoError(t, g.RemoveNode("loader"))

	assert.Equal(t, 2, g.NodeCount())
	assert.Equal(t, 1, g.EdgeCount())
	_, ok := g.Edge(keep)
	assert.True(t, ok)
	assert.Empty(t, g.IncomingEdges("norm", "in"))

	err = g.RemoveNode("loader")
	requireKind(t, err, graph.UnknownEndpoint)
}

func TestDisconnectUnknownEdge(t *testing.T) {
	g := newGraph(t)
	err := g.Disconnect("no-such-edge")
	requireKind(t, err, graph.UnknownEndpoint)
}

func TestSetParameter(t *testing.T) {
	g := newGraph(t)
	require.NoError(t, g.AddNodeWithID("norm", "spectra.Normalizer", nil))

	require.NoError(t, g.SetParameter("norm", "mode", cty.StringVal("zscore")))
	n, _ := g.Node("norm")
	assert.Equal(t, cty.StringVal("zscore"), n.Params["mode"])

	err := g.SetParameter("norm", "mode", cty.StringVal("median"))
	requireKind(t, err, graph.InvalidParameter)
	// The previous value survives the rejected update.
	assert.Equal(t, cty.StringVal("zscore"), n.Params["mode"])

	err = g.SetParameter("ghost", "mode", cty.StringVal("zscore"))
	requireKind(t, err, graph.UnknownEndpoint)
}

func TestSetPosition(t *testing.T) {
	g := newGraph(t)
	require.NoError(t, g.AddNodeWithID("norm", "spectra.Normalizer", nil))

	require.NoError(t, g.SetPosition("norm", 120, 42.5))
	n, _ := g.Node("norm")
	assert.Equal(t, [2]float64{120, 42.5}, n.Position)

	assert.Error(t, g.SetPosition("ghost", 0, 0))
}

func TestNodesAndEdgesAreOrdered(t *testing.T) {
	g := newGraph(t)
	require.NoError(t, g.AddNodeWithID("a", "io.CubeLoader", nil))
	require.NoError(t, g.AddNodeWithID("b", "spectra.Normalizer", nil))
	require.NoError(t, g.AddNodeWithID("c", "ml.Classifier", nil))

	var names []string
	for _, n := range g.Nodes() {
		names = append(names, n.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)
}

func TestErrorKindStrings(t *testing.T) {
	err := &graph.ValidationError{Kind: graph.PortOccupied, Node: "n", Port: "in"}
	assert.Contains(t, err.Error(), "port occupied")

	var verr *graph.ValidationError
	assert.True(t, errors.As(error(err), &verr))
}
