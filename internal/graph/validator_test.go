package graph

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func validGraph() Graph {
	return Graph{
		Nodes: []Node{
			{ID: "api", Type: "aws_apigatewayv2", Label: "API Gateway"},
			{ID: "fn", Type: "aws_lambda", Label: "Handler"},
			{ID: "table", Type: "aws_dynamodb", Label: "Table"},
		},
		Edges: []Edge{
			{Source: "api", Target: "fn", Label: "invokes"},
			{Source: "fn", Target: "table", Label: "reads/writes"},
		},
	}
}

func TestValidateAcceptsWellFormedGraph(t *testing.T) {
	res := Validate(validGraph(), Options{})
	require.True(t, res.Valid)
	require.Empty(t, res.Errors)
}

func TestValidateUnsupportedService(t *testing.T) {
	g := validGraph()
	g.Nodes = append(g.Nodes, Node{ID: "mf", Type: "aws_mainframe"})
	res := Validate(g, Options{})
	require.False(t, res.Valid)
	require.Len(t, res.Errors, 1)
	require.Equal(t, ErrUnsupportedService, res.Errors[0].Code)
	require.Equal(t, "mf", res.Errors[0].NodeID)
}

func TestValidateDuplicateNode(t *testing.T) {
	g := validGraph()
	g.Nodes = append(g.Nodes, Node{ID: "fn", Type: "aws_lambda"})
	res := Validate(g, Options{})
	require.False(t, res.Valid)
	requireHasCode(t, res, ErrDuplicateNode)
}

func TestValidateDanglingEdge(t *testing.T) {
	g := validGraph()
	g.Edges = append(g.Edges, Edge{Source: "fn", Target: "ghost"})
	res := Validate(g, Options{})
	require.False(t, res.Valid)
	requireHasCode(t, res, ErrDanglingEdge)
}

func TestValidateSelfLoopScenario(t *testing.T) {
	// graph {A:lambda}, edge A->A
	g := Graph{
		Nodes: []Node{{ID: "A", Type: "aws_lambda"}},
		Edges: []Edge{{Source: "A", Target: "A"}},
	}
	res := Validate(g, Options{})
	require.False(t, res.Valid)
	require.Len(t, res.Errors, 1)
	require.Equal(t, ErrSelfLoop, res.Errors[0].Code)
	require.Equal(t, "A", res.Errors[0].NodeID)
}

func TestValidateSelfLoopAllowedByOption(t *testing.T) {
	g := Graph{
		Nodes: []Node{{ID: "A", Type: "aws_lambda"}},
		Edges: []Edge{{Source: "A", Target: "A"}},
	}
	res := Validate(g, Options{AllowSelfLoops: true})
	require.True(t, res.Valid)
}

func TestValidateDuplicateEdge(t *testing.T) {
	g := validGraph()
	g.Edges = append(g.Edges, Edge{Source: "api", Target: "fn", Label: "again"})
	res := Validate(g, Options{})
	require.False(t, res.Valid)
	requireHasCode(t, res, ErrDuplicateEdge)
}

func TestValidateCycleScenario(t *testing.T) {
	// graph {A:lambda, B:dynamodb}, edges [A->B, B->A]
	g := Graph{
		Nodes: []Node{
			{ID: "A", Type: "aws_lambda"},
			{ID: "B", Type: "aws_dynamodb"},
		},
		Edges: []Edge{
			{Source: "A", Target: "B"},
			{Source: "B", Target: "A"},
		},
	}
	res := Validate(g, Options{})
	require.False(t, res.Valid)
	require.Len(t, res.Errors, 1)
	require.Equal(t, ErrCircularDependency, res.Errors[0].Code)
	require.Equal(t, []string{"A", "B", "A"}, res.Errors[0].Cycle)
}

func TestValidateLongerCycleReported(t *testing.T) {
	g := Graph{
		Nodes: []Node{
			{ID: "a", Type: "aws_lambda"},
			{ID: "b", Type: "aws_sqs"},
			{ID: "c", Type: "aws_sns"},
			{ID: "d", Type: "aws_s3"},
		},
		Edges: []Edge{
			{Source: "a", Target: "b"},
			{Source: "b", Target: "c"},
			{Source: "c", Target: "a"},
			{Source: "a", Target: "d"},
		},
	}
	res := Validate(g, Options{})
	require.False(t, res.Valid)
	requireHasCode(t, res, ErrCircularDependency)
	for _, e := range res.Errors {
		if e.Code == ErrCircularDependency {
			require.Equal(t, []string{"a", "b", "c", "a"}, e.Cycle)
		}
	}
}

func TestValidateAcyclicDiamondNotFlagged(t *testing.T) {
	g := Graph{
		Nodes: []Node{
			{ID: "a", Type: "aws_apigatewayv2"},
			{ID: "b", Type: "aws_lambda"},
			{ID: "c", Type: "aws_lambda"},
			{ID: "d", Type: "aws_dynamodb"},
		},
		Edges: []Edge{
			{Source: "a", Target: "b"},
			{Source: "a", Target: "c"},
			{Source: "b", Target: "d"},
			{Source: "c", Target: "d"},
		},
	}
	res := Validate(g, Options{})
	require.True(t, res.Valid, "diamond is acyclic: %+v", res.Errors)
}

func TestValidateDoesNotMutateInput(t *testing.T) {
	g := validGraph()
	g.Edges = append(g.Edges, Edge{Source: "fn", Target: "ghost"})
	before := len(g.Nodes)
	_ = Validate(g, Options{})
	require.Len(t, g.Nodes, before)
	require.Len(t, g.Edges, 3)
}

func TestValidateUnconnectedNodeWarns(t *testing.T) {
	g := validGraph()
	g.Nodes = append(g.Nodes, Node{ID: "bucket", Type: "aws_s3"})
	res := Validate(g, Options{})
	require.True(t, res.Valid)
	require.Len(t, res.Warnings, 1)
	require.Equal(t, WarnUnconnectedService, res.Warnings[0].Code)
}

func requireHasCode(t *testing.T, res Result, code string) {
	t.Helper()
	for _, e := range res.Errors {
		if e.Code == code {
			return
		}
	}
	t.Fatalf("expected error code %s, got %+v", code, res.Errors)
}
