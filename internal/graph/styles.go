package graph

// NodeShape is the Mermaid shape used for a node role.
type NodeShape struct {
	Open, Close string
}

// NodeShapes maps node roles to diagram shapes. Roles are checked in the
// order of nodeRole; a node gets the first that applies.
var NodeShapes = map[string]NodeShape{
	"entry":     {Open: "([", Close: "])"},
	"exit":      {Open: "[[", Close: "]]"},
	"dangerous": {Open: "{{", Close: "}}"},
	"defense":   {Open: "[/", Close: "/]"},
	"default":   {Open: "[", Close: "]"},
}

// EdgeStyles maps edge sources to Mermaid arrows: dashed for static-only
// edges, solid for dynamic-only, thick when both traces agree.
var EdgeStyles = map[Source]string{
	SourceStatic:  "-.->",
	SourceDynamic: "-->",
	SourceBoth:    "==>",
}

// ClassDefs are the Mermaid class definitions emitted with every diagram.
var ClassDefs = map[string]string{
	"vulnerable": "fill:#f8d7da,stroke:#c0392b,stroke-width:2px",
	"tested":     "stroke:#27ae60",
}

func nodeRole(a *Attrs) string {
	switch {
	case a.IsEntry:
		return "entry"
	case a.IsExit:
		return "exit"
	case a.IsDangerous:
		return "dangerous"
	case a.IsDefense:
		return "defense"
	default:
		return "default"
	}
}

// GetNodeShape returns the shape for a node, with fallback to the default.
func GetNodeShape(a *Attrs) NodeShape {
	if shape, ok := NodeShapes[nodeRole(a)]; ok {
		return shape
	}
	return NodeShapes["default"]
}

// GetEdgeStyle returns the arrow for an edge source.
func GetEdgeStyle(s Source) string {
	if style, ok := EdgeStyles[s]; ok {
		return style
	}
	return "-->"
}
