package redistrace

import "strings"

// Tag keys and values shared by every tracing decorator.
const (
	TagComponent = "component"
	TagDBType    = "db.type"
	TagSpanKind  = "span.kind"
	TagStatement = "db.statement"
	TagError     = "error"

	// Component names the client library.
	Component = "go-redis"

	// DBType is the value of the db.type tag.
	DBType = "redis"

	// SpanKindClient is the value of the span.kind tag.
	SpanKindClient = "client"
)

// Operation names for spans that do not correspond to a single command.
const (
	// MultiOperation names the span covering a pipeline flush.
	MultiOperation = "MULTI"

	// SubOperation names the span covering one received pubsub message.
	SubOperation = "SUB"
)

// OperationName returns name, prefixed with "prefix/" when prefix is set.
func OperationName(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// Statement returns the statements of cmds joined by ";", in order.
//
//	Statement([]Cmd{NewCmd("LPUSH", "L", 1, 3), NewCmd("LPUSH", "L", 5, 7)})
//	// "LPUSH L 1 3;LPUSH L 5 7"
func Statement(cmds []Cmd) string {
	stmts := make([]string, len(cmds))
	for i, cmd := range cmds {
		stmts[i] = cmd.String()
	}
	return strings.Join(stmts, ";")
}
