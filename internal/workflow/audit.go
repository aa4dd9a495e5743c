package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DepartmentRef is the routing decision recorded in an audit trail.
type DepartmentRef struct {
	Department  string `json:"department"`
	ServiceCode string `json:"service_code,omitempty"`
	SLAHours    int    `json:"sla_hours,omitempty"`
}

// Audit is the trail of a completed job.
type Audit struct {
	JobExecutionID string
	Trail          json.RawMessage
	Department     *DepartmentRef
	Confidence     *float64
}

type trailFields struct {
	Department json.RawMessage `json:"department"`
	Confidence *float64        `json:"confidence"`
	AuditJSON  *string         `json:"audit_json"`
}

func parseAudit(execID string, trail json.RawMessage) (*Audit, error) {
	a := &Audit{JobExecutionID: execID, Trail: trail}
	trail = bytes.TrimSpace(trail)
	if len(trail) == 0 || bytes.Equal(trail, []byte("null")) {
		return a, nil
	}

	// The audit stage may emit its document as an encoded string.
	if trail[0] == '"' {
		var inner string
		if err := json.Unmarshal(trail, &inner); err != nil {
			return nil, fmt.Errorf("%w: audit trail: %v", ErrMalformedResponse, err)
		}
		trail = json.RawMessage(inner)
		a.Trail = trail
	}
	if len(trail) == 0 || trail[0] != '{' {
		return a, nil
	}

	var f trailFields
	if err := json.Unmarshal(trail, &f); err != nil {
		return nil, fmt.Errorf("%w: audit trail: %v", ErrMalformedResponse, err)
	}
	if f.AuditJSON != nil {
		return parseAudit(execID, json.RawMessage(*f.AuditJSON))
	}
	a.Confidence = f.Confidence
	a.Department = parseDepartment(f.Department)
	return a, nil
}

// parseDepartment accepts either a bare name or a service record object.
func parseDepartment(raw json.RawMessage) *DepartmentRef {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		if name == "" {
			return nil
		}
		return &DepartmentRef{Department: name}
	}
	var ref DepartmentRef
	if err := json.Unmarshal(raw, &ref); err == nil && ref.Department != "" {
		return &ref
	}
	return nil
}
