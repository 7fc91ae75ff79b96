package convert

import "fmt"

// ErrorKind classifies fatal conversion failures.
type ErrorKind int

// Conversion error kinds. All of them abort the compilation; the
// caller decides whether to fall back to eager execution.
const (
	// KindMalformedGraph covers dangling references, duplicate
	// definitions and unsupported output types.
	KindMalformedGraph ErrorKind = iota
	// KindUnsupportedOperation means no converter exists for the
	// operator, or its attribute combination is invalid.
	KindUnsupportedOperation
	// KindShapeMismatch covers broadcast and dtype incompatibilities
	// detected while emitting layers.
	KindShapeMismatch
	// KindBuildFailure wraps a backend builder failure.
	KindBuildFailure
)

// String returns the kind name.
func (k ErrorKind) String() string {
	switch k {
	case KindMalformedGraph:
		return "malformed graph"
	case KindUnsupportedOperation:
		return "unsupported operation"
	case KindShapeMismatch:
		return "shape/type mismatch"
	case KindBuildFailure:
		return "build failure"
	default:
		return "conversion error"
	}
}

// Error is a fatal conversion error carrying the offending node's
// identity.
type Error struct {
	Kind ErrorKind
	Node string
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Node != "" {
		return fmt.Sprintf("%s at node %q (%s): %v", e.Kind, e.Node, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// Malformedf builds a malformed-graph error.
func Malformedf(format string, args ...any) *Error {
	return &Error{Kind: KindMalformedGraph, Err: fmt.Errorf(format, args...)}
}

// Unsupportedf builds an unsupported-operation error for a node.
func Unsupportedf(node, op, format string, args ...any) *Error {
	return &Error{Kind: KindUnsupportedOperation, Node: node, Op: op, Err: fmt.Errorf(format, args...)}
}

// ShapeMismatchf builds a shape/type-mismatch error for a node.
func ShapeMismatchf(node, op, format string, args ...any) *Error {
	return &Error{Kind: KindShapeMismatch, Node: node, Op: op, Err: fmt.Errorf(format, args...)}
}
