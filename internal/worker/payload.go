package worker

import (
	"encoding/json"
	"fmt"

	"github.com/gabe/crew/internal/models"
)

// Payload keys understood by the built-in workers
const (
	PayloadCommand  = "command"
	PayloadArgs     = "args"
	PayloadDir      = "dir"
	PayloadPrompt   = "prompt"
	PayloadOutputs  = "outputs"
	PayloadCriteria = "criteria"
)

func payloadString(p map[string]any, key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

func payloadStrings(p map[string]any, key string) []string {
	switch v := p[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case string:
		return []string{v}
	}
	return nil
}

// decodePayload re-decodes a loosely typed payload value into out
func decodePayload(p map[string]any, key string, out any) error {
	v, ok := p[key]
	if !ok {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// DeclaredOutput reads outputs and completion criteria declared in a step
// payload.
func DeclaredOutput(step models.PlanStep) (models.TaskOutput, error) {
	var out models.TaskOutput
	if err := decodePayload(step.Payload, PayloadOutputs, &out.Outputs); err != nil {
		return out, fmt.Errorf("invalid %s in step %s: %w", PayloadOutputs, step.ID, err)
	}
	if err := decodePayload(step.Payload, PayloadCriteria, &out.Criteria); err != nil {
		return out, fmt.Errorf("invalid %s in step %s: %w", PayloadCriteria, step.ID, err)
	}
	return out, nil
}

// artifactsFor turns reported file outputs into artifacts
func artifactsFor(out models.TaskOutput) []models.Artifact {
	var artifacts []models.Artifact
	for _, o := range out.Outputs {
		switch o.Type {
		case models.OutputFile:
			artifacts = append(artifacts, models.Artifact{Type: models.ArtifactFile, Ref: o.Path, Name: o.Description})
		case models.OutputEndpoint:
			artifacts = append(artifacts, models.Artifact{Type: models.ArtifactURL, Ref: o.Path, Name: o.Description})
		}
	}
	return artifacts
}
