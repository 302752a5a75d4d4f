package pipeline

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
)

// ParseError reports a structurally broken pipeline file: syntax errors or
// malformed blocks. The underlying HCL diagnostics carry file positions.
type ParseError struct {
	Path  string
	Diags hcl.Diagnostics
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %s", e.Path, e.Diags.Error())
}

// Diagnostic is one semantic problem found while replaying a pipeline file
// through the graph model.
type Diagnostic struct {
	// Subject locates the offending block or attribute in the source file.
	Subject hcl.Range
	// Err is the underlying validation error, typically a
	// *graph.ValidationError.
	Err error
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s", d.Subject, d.Err)
}

// LoadError reports that a well-formed pipeline file failed semantic
// validation. Every problem in the file is collected before failing; no
// partial graph is ever returned alongside it.
type LoadError struct {
	Path  string
	Diags []Diagnostic
}

func (e *LoadError) Error() string {
	if len(e.Diags) == 1 {
		return fmt.Sprintf("load %s: %s", e.Path, e.Diags[0])
	}
	return fmt.Sprintf("load %s: %d validation errors, first: %s", e.Path, len(e.Diags), e.Diags[0])
}
