package pipeline_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/pipegrid/internal/graph"
	"github.com/vk/pipegrid/internal/pipeline"
	"github.com/vk/pipegrid/internal/testutil"
)

const validSource = `
pipeline {
  name        = "soil-classification"
  description = "Classify soil spectra"
  tags        = ["demo", "soil"]
}

node "loader" {
  type     = "io.CubeLoader"
  position = [40, 120]

  params {
    path = "/data/cube.bin"
  }
}

node "norm" {
  type = "spectra.Normalizer"

  params {
    mode  = "zscore"
    scale = 2
  }
}

node "clf" {
  type = "ml.Classifier"

  params {
    model = "rf"
  }
}

connection {
  from = "loader.cube"
  to   = "norm.in"
}

connection {
  from = "norm.out"
  to   = "clf.features"
}
`

func load(t *testing.T, src string) *pipeline.Document {
	t.Helper()
	doc, err := pipeline.Load(context.Background(), "test.hcl", []byte(src), testutil.SampleSchemas())
	require.NoError(t, err)
	return doc
}

func TestLoad(t *testing.T) {
	doc := load(t, validSource)

	assert.Equal(t, "soil-classification", doc.Meta.Name)
	assert.Equal(t, []string{"demo", "soil"}, doc.Meta.Tags)

	g := doc.Graph
	require.Equal(t, 3, g.NodeCount())
	require.Equal(t, 2, g.EdgeCount())

	loader, ok := g.Node("loader")
	require.True(t, ok)
	assert.Equal(t, "io.CubeLoader", loader.TypeName)
	assert.Equal(t, [2]float64{40, 120}, loader.Position)
	assert.Equal(t, cty.StringVal("/data/cube.bin"), loader.Params["path"])

	norm, ok := g.Node("norm")
	require.True(t, ok)
	assert.Equal(t, cty.StringVal("zscore"), norm.Params["mode"])

	incoming := g.IncomingEdges("clf", "features")
	require.Len(t, incoming, 1)
	assert.Equal(t, "norm", incoming[0].SourceNode)
}

func TestLoadParseError(t *testing.T) {
	_, err := pipeline.Load(context.Background(), "broken.hcl", []byte(`node "x" {`), testutil.SampleSchemas())

	var perr *pipeline.ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "broken.hcl", perr.Path)
	assert.True(t, perr.Diags.HasErrors())
}

func TestLoadUnknownBlockIsStructural(t *testing.T) {
	_, err := pipeline.Load(context.Background(), "test.hcl", []byte(`
widget "x" {
}
`), testutil.SampleSchemas())

	var perr *pipeline.ParseError
	require.ErrorAs(t, err, &perr)
}

func TestLoadCollectsAllDiagnostics(t *testing.T) {
	src := `
node "a" {
  type = "does.NotExist"
}

node "b" {
  type = "spectra.Normalizer"

  params {
    mode = "median"
  }
}

connection {
  from = "a.cube"
  to   = "b.in"
}

connection {
  from = "malformed-endpoint"
  to   = "b.in"
}
`
	_, err := pipeline.Load(context.Background(), "test.hcl", []byte(src), testutil.SampleSchemas())

	var lerr *pipeline.LoadError
	require.ErrorAs(t, err, &lerr)
	// Unknown type, bad param, connection to the failed node, malformed
	// endpoint: each produces its own diagnostic with a location.
	require.Len(t, lerr.Diags, 4)
	for _, d := range lerr.Diags {
		assert.Equal(t, "test.hcl", d.Subject.Filename)
		assert.NotNil(t, d.Err)
	}

	var verr *graph.ValidationError
	require.ErrorAs(t, lerr.Diags[0].Err, &verr)
	assert.Equal(t, graph.UnknownNodeType, verr.Kind)
}

func TestLoadDuplicateNodeLabel(t *testing.T) {
	src := `
node "a" {
  type = "spectra.Normalizer"
}

node "a" {
  type = "spectra.Normalizer"
}
`
	_, err := pipeline.Load(context.Background(), "test.hcl", []byte(src), testutil.SampleSchemas())

	var lerr *pipeline.LoadError
	require.ErrorAs(t, err, &lerr)
	require.Len(t, lerr.Diags, 1)

	var verr *graph.ValidationError
	require.ErrorAs(t, lerr.Diags[0].Err, &verr)
	assert.Equal(t, graph.DuplicateNode, verr.Kind)
}

func TestLoadPreservesUnknownAttributes(t *testing.T) {
	src := `
format_version = "2.1"

node "norm" {
  type = "spectra.Normalizer"
}
`
	doc := load(t, src)
	require.Contains(t, doc.Extra, "format_version")
	assert.Equal(t, cty.StringVal("2.1"), doc.Extra["format_version"])

	// The unknown attribute survives a save/load cycle.
	again := load(t, string(pipeline.Save(doc)))
	assert.Equal(t, cty.StringVal("2.1"), again.Extra["format_version"])
}

func TestLoadExtraAttributesAlongsideBlocks(t *testing.T) {
	src := `
format_version = "2.1"

pipeline {
  name = "mixed"
}

node "loader" {
  type = "io.CubeLoader"
}

node "norm" {
  type = "spectra.Normalizer"
}

connection {
  from = "loader.cube"
  to   = "norm.in"
}
`
	doc := load(t, src)
	assert.Equal(t, "mixed", doc.Meta.Name)
	assert.Equal(t, cty.StringVal("2.1"), doc.Extra["format_version"])
	assert.Equal(t, 2, doc.Graph.NodeCount())
	assert.Equal(t, 1, doc.Graph.EdgeCount())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	doc := load(t, validSource)
	rendered := pipeline.Save(doc)
	again, err := pipeline.Load(context.Background(), "test.hcl", rendered, testutil.SampleSchemas())
	require.NoError(t, err)

	assert.Equal(t, doc.Meta, again.Meta)

	// Edge ids are regenerated on every load, everything else must match.
	opts := []cmp.Option{
		cmpopts.IgnoreFields(graph.Edge{}, "ID"),
		cmp.Comparer(func(a, b cty.Value) bool { return a.RawEquals(b) }),
	}
	if diff := cmp.Diff(doc.Graph.Nodes(), again.Graph.Nodes(), opts...); diff != "" {
		t.Errorf("nodes differ after round trip:\n%s", diff)
	}
	if diff := cmp.Diff(doc.Graph.Edges(), again.Graph.Edges(), opts...); diff != "" {
		t.Errorf("edges differ after round trip:\n%s", diff)
	}
}

func TestSaveIsDeterministic(t *testing.T) {
	doc := load(t, validSource)
	assert.Equal(t, string(pipeline.Save(doc)), string(pipeline.Save(doc)))
}

func TestSaveFile(t *testing.T) {
	doc := load(t, validSource)
	path := filepath.Join(t.TempDir(), "out.hcl")
	require.NoError(t, pipeline.SaveFile(path, doc))

	again, err := pipeline.LoadFile(context.Background(), path, testutil.SampleSchemas())
	require.NoError(t, err)
	assert.Equal(t, doc.Graph.NodeCount(), again.Graph.NodeCount())
	assert.Equal(t, doc.Graph.EdgeCount(), again.Graph.EdgeCount())
}

func TestLoadFileMissing(t *testing.T) {
	_, err := pipeline.LoadFile(context.Background(), filepath.Join(t.TempDir(), "nope.hcl"), testutil.SampleSchemas())
	require.Error(t, err)
	assert.False(t, errors.As(err, new(*pipeline.ParseError)))
}
