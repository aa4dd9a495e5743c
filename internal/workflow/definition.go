package workflow

import "strings"

// NodeKind is the backend node type of a workflow stage.
type NodeKind string

const (
	NodeDataImport   NodeKind = "data_import"
	NodeAIAgent      NodeKind = "ai_agent"
	NodeExternalCall NodeKind = "external_service"
	NodeHumanGate    NodeKind = "human_review"
	NodeTransform    NodeKind = "custom_python"
	NodeDataExport   NodeKind = "data_export"
)

// Node is one stage of a workflow.
type Node struct {
	ID     string         `json:"id"`
	Type   NodeKind       `json:"type"`
	Config map[string]any `json:"config"`
}

// Edge connects two stages.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Definition is a workflow graph as registered with the backend.
type Definition struct {
	Name  string `json:"name"`
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Stage ids of the intake workflow, in execution order.
const (
	StageIntake          = "intake"
	StageExtraction      = "extraction"
	StageRouting         = "routing"
	StageReview          = "review"
	StageHumanReview     = "human_review"
	StageAuditGeneration = "audit_generation"
	StageDelivery        = "delivery"
)

const auditScript = `
import json, datetime
def run(inputs):
  audit = {
    'timestamp': datetime.datetime.now().isoformat(),
    'inputs': inputs['intake'],
    'extracted': inputs['extraction'],
    'department': inputs['routing'],
    'confidence': inputs['review']['confidence'],
  }
  return {'audit_json': json.dumps(audit, indent=2)}
`

// CivicIntakeDefinition builds the seven-stage intake workflow. The routing
// stage calls back into the service search endpoint under appBaseURL.
func CivicIntakeDefinition(appBaseURL string) Definition {
	appBaseURL = strings.TrimRight(appBaseURL, "/")
	nodes := []Node{
		{ID: StageIntake, Type: NodeDataImport, Config: map[string]any{
			"source": "api_payload",
		}},
		{ID: StageExtraction, Type: NodeAIAgent, Config: map[string]any{
			"prompt": "Extract structured data from resident input",
		}},
		{ID: StageRouting, Type: NodeExternalCall, Config: map[string]any{
			"url":    appBaseURL + "/api/services/find",
			"method": "POST",
		}},
		{ID: StageReview, Type: NodeAIAgent, Config: map[string]any{
			"prompt": "Review for policy compliance and safety",
		}},
		{ID: StageHumanReview, Type: NodeHumanGate, Config: map[string]any{
			"condition": "confidence < 0.7",
		}},
		{ID: StageAuditGeneration, Type: NodeTransform, Config: map[string]any{
			"code": auditScript,
		}},
		{ID: StageDelivery, Type: NodeDataExport, Config: map[string]any{
			"destination": "google_sheets",
		}},
	}
	edges := make([]Edge, 0, len(nodes)-1)
	for i := 1; i < len(nodes); i++ {
		edges = append(edges, Edge{From: nodes[i-1].ID, To: nodes[i].ID})
	}
	return Definition{
		Name:  "Civic Bridge Intake Pipeline",
		Nodes: nodes,
		Edges: edges,
	}
}
