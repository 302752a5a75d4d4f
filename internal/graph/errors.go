package graph

import "fmt"

// ErrorKind classifies a rejected mutation.
type ErrorKind int

const (
	UnknownNodeType ErrorKind = iota
	InvalidParameter
	IncompatiblePorts
	PortOccupied
	UnknownEndpoint
	DuplicateNode
)

func (k ErrorKind) String() string {
	switch k {
	case UnknownNodeType:
		return "unknown node type"
	case InvalidParameter:
		return "invalid parameter"
	case IncompatiblePorts:
		return "incompatible ports"
	case PortOccupied:
		return "port occupied"
	case UnknownEndpoint:
		return "unknown endpoint"
	case DuplicateNode:
		return "duplicate node"
	default:
		return "validation error"
	}
}

// ValidationError reports why a mutation was rejected. The graph is left
// unchanged whenever one is returned.
type ValidationError struct {
	Kind   ErrorKind
	Node   string
	Port   string
	Param  string
	Detail string
}

func (e *ValidationError) Error() string {
	msg := e.Kind.String()
	if e.Node != "" {
		msg += fmt.Sprintf(": node %q", e.Node)
	}
	if e.Port != "" {
		msg += fmt.Sprintf(", port %q", e.Port)
	}
	if e.Param != "" {
		msg += fmt.Sprintf(", param %q", e.Param)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}
