// Package graph holds the architecture graph value types and the structural
// validator. Types here are plain values with no persistence concerns so the
// validator can run over immutable snapshots.
package graph

// Node is a single service in an architecture graph.
type Node struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Label  string         `json:"label,omitempty"`
	Config map[string]any `json:"config,omitempty"`
}

// Edge is a directed relation between two nodes. The wire format uses
// from/to, matching what the design stage emits.
type Edge struct {
	Source string `json:"from"`
	Target string `json:"to"`
	Label  string `json:"label,omitempty"`
}

// Graph is a complete architecture graph: service nodes plus directed
// dependency edges.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// NodeIDs returns the set of node ids in the graph.
func (g Graph) NodeIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(g.Nodes))
	for _, n := range g.Nodes {
		ids[n.ID] = struct{}{}
	}
	return ids
}

// SupportedServices is the closed set of service types a graph may use.
// Adding an entry here requires matching support in the code generation
// prompt and the deployment sanitizer.
var SupportedServices = map[string]struct{}{
	"aws_lambda":         {},
	"aws_apigatewayv2":   {},
	"aws_dynamodb":       {},
	"aws_sqs":            {},
	"aws_ecs":            {},
	"aws_rds":            {},
	"aws_elasticache":    {},
	"aws_s3":             {},
	"aws_vpc":            {},
	"aws_cloudfront":     {},
	"aws_sns":            {},
	"aws_iam_role":       {},
	"aws_security_group": {},
	"aws_route53":        {},
}

// IsSupportedService reports whether t belongs to the service whitelist.
func IsSupportedService(t string) bool {
	_, ok := SupportedServices[t]
	return ok
}
