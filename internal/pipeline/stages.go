package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/archflow/engine/internal/graph"
)

// Stage names, used in pipeline errors and logs.
const (
	StageIntent    = "intent"
	StageDesign    = "design"
	StageValidate  = "validate"
	StageEdit      = "edit"
	StageTerraform = "terraform"
	StageCost      = "cost"
	StageLayout    = "layout"
)

// Intent is the structured reading of a free-text prompt, produced by the
// first pipeline stage and consumed by the design stage.
type Intent struct {
	AppType     string   `json:"app_type"`
	Scale       string   `json:"scale"`
	Latency     string   `json:"latency,omitempty"`
	Storage     string   `json:"storage,omitempty"`
	Realtime    bool     `json:"realtime"`
	Constraints []string `json:"constraints,omitempty"`
}

// CostEstimate is a rough monthly projection per service.
type CostEstimate struct {
	MonthlyUSD float64            `json:"monthly_usd"`
	Breakdown  map[string]float64 `json:"breakdown,omitempty"`
	Notes      string             `json:"notes,omitempty"`
}

// LayoutNode positions one graph node on the canvas.
type LayoutNode struct {
	ID string  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

// Layout is the canvas placement for a graph version.
type Layout struct {
	Nodes []LayoutNode `json:"nodes"`
}

// FileMap holds generated Terraform sources keyed by file name.
type FileMap map[string]string

const intentSystemPrompt = `You translate a plain-language application description into a structured intent.
Respond with a JSON object: {"app_type": string, "scale": one of "small"|"medium"|"large", "latency": string, "storage": string, "realtime": bool, "constraints": [string]}.
Infer conservative defaults when the description is silent. No prose.`

const designSystemPrompt = `You design AWS architectures as directed service graphs.
Respond with a JSON object: {"nodes": [{"id": string, "type": string, "label": string, "config": object}], "edges": [{"from": string, "to": string, "label": string}]}.
Node ids are short stable slugs. Every edge endpoint must name an existing node id. Never create cycles.
Allowed node types: %s. Use no other types. No prose.`

const editSystemPrompt = `You apply a requested change to an existing AWS architecture graph.
Respond with the complete updated graph as a JSON object: {"nodes": [...], "edges": [...]}, same schema as the input.
Preserve the ids of nodes the request does not touch. Remove only what the request removes.
Allowed node types: %s. Never create cycles. No prose.`

const terraformSystemPrompt = `You write Terraform for AWS architecture graphs.
Respond with a JSON object mapping file names to complete HCL file contents, for example {"main.tf": "...", "variables.tf": "..."}.
Use only resources matching the graph's node types. Reference Lambda code as filename = "<node_id>.zip".
Never include provisioners, external data sources, or local-exec. No prose.`

const costSystemPrompt = `You estimate monthly AWS costs for an architecture graph.
Respond with a JSON object: {"monthly_usd": number, "breakdown": {node_id: number}, "notes": string}. No prose.`

const layoutSystemPrompt = `You lay out architecture graphs on a 2D canvas, left to right by data flow.
Respond with a JSON object: {"nodes": [{"id": string, "x": number, "y": number}]} covering every node id. No prose.`

// runStage performs one completion and decodes the JSON payload into out.
// Stages get exactly one attempt; a malformed payload fails the stage.
func runStage(ctx context.Context, c Client, stage, system, user string, out any) error {
	raw, err := c.Complete(ctx, system, user)
	if err != nil {
		return &StageFailure{Stage: stage, Err: err}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &StageFailure{Stage: stage, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func runIntentStage(ctx context.Context, c Client, prompt string) (Intent, error) {
	var out Intent
	err := runStage(ctx, c, StageIntent, intentSystemPrompt, prompt, &out)
	return out, err
}

func runDesignStage(ctx context.Context, c Client, intent Intent, prompt string) (graph.Graph, error) {
	system := fmt.Sprintf(designSystemPrompt, strings.Join(supportedTypeList(), ", "))
	payload, _ := json.Marshal(map[string]any{"intent": intent, "description": prompt})
	var out graph.Graph
	err := runStage(ctx, c, StageDesign, system, string(payload), &out)
	return out, err
}

func runEditStage(ctx context.Context, c Client, current graph.Graph, prompt string) (graph.Graph, error) {
	system := fmt.Sprintf(editSystemPrompt, strings.Join(supportedTypeList(), ", "))
	payload, _ := json.Marshal(map[string]any{"graph": current, "change_request": prompt})
	var out graph.Graph
	err := runStage(ctx, c, StageEdit, system, string(payload), &out)
	return out, err
}

func runTerraformStage(ctx context.Context, c Client, g graph.Graph) (FileMap, error) {
	payload, _ := json.Marshal(g)
	var out FileMap
	err := runStage(ctx, c, StageTerraform, terraformSystemPrompt, string(payload), &out)
	return out, err
}

func runCostStage(ctx context.Context, c Client, g graph.Graph) (CostEstimate, error) {
	payload, _ := json.Marshal(g)
	var out CostEstimate
	err := runStage(ctx, c, StageCost, costSystemPrompt, string(payload), &out)
	return out, err
}

func runLayoutStage(ctx context.Context, c Client, g graph.Graph) (Layout, error) {
	payload, _ := json.Marshal(g)
	var out Layout
	err := runStage(ctx, c, StageLayout, layoutSystemPrompt, string(payload), &out)
	return out, err
}

func supportedTypeList() []string {
	types := make([]string, 0, len(graph.SupportedServices))
	for t := range graph.SupportedServices {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
