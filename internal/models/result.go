package models

// ArtifactType is the kind of output pointer a worker produced
type ArtifactType string

const (
	ArtifactURL  ArtifactType = "url"
	ArtifactFile ArtifactType = "file"
	ArtifactData ArtifactType = "data"
)

// Artifact points at something a worker produced
type Artifact struct {
	Type ArtifactType `json:"type"`
	Ref  string       `json:"ref"`
	Name string       `json:"name,omitempty"`
}

// Failure reason codes carried on AgentResult.Reason
const (
	ReasonError   = "error"
	ReasonTimeout = "timeout"
	ReasonPanic   = "panic"

	ReasonCancelled = "cancelled"
)

// AgentResult is produced once per execute call
type AgentResult struct {
	Success          bool       `json:"success"`
	Data             any        `json:"data,omitempty"`
	Error            string     `json:"error,omitempty"`
	Reason           string     `json:"reason,omitempty"`
	Cost             int64      `json:"cost"`
	PromptTokens     int        `json:"prompt_tokens,omitempty"`
	CompletionTokens int        `json:"completion_tokens,omitempty"`
	DurationMs       int64      `json:"duration_ms"`
	Artifacts        []Artifact `json:"artifacts,omitempty"`
}

// OutputType classifies a self-reported output
type OutputType string

const (
	OutputFile     OutputType = "file"
	OutputTest     OutputType = "test"
	OutputEndpoint OutputType = "endpoint"
	OutputOther    OutputType = "other"
)

// ReportedOutput is something a worker claims to have produced
type ReportedOutput struct {
	Type        OutputType `json:"type"`
	Path        string     `json:"path,omitempty"`
	Description string     `json:"description,omitempty"`
}

// CriterionType selects how a completion criterion is checked
type CriterionType string

const (
	CriterionFileExists      CriterionType = "file_exists"
	CriterionContentContains CriterionType = "content_contains"
	CriterionTestPasses      CriterionType = "test_passes"
	CriterionEndpointHealthy CriterionType = "endpoint_healthy"
)

// CompletionCriterion is an externally checkable definition of done
type CompletionCriterion struct {
	Type     CriterionType `json:"type"`
	Target   string        `json:"target"`
	Expected string        `json:"expected,omitempty"`
}

// TaskOutput is what a worker reports about its own work. It is advisory
// input to verification and never proof of success.
type TaskOutput struct {
	Outputs  []ReportedOutput      `json:"outputs,omitempty"`
	Criteria []CompletionCriterion `json:"criteria,omitempty"`
}
