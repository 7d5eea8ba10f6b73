package domain

// Classification is the final decision for an application.
type Classification string

const (
	ClassificationApproved     Classification = "approved"
	ClassificationRejected     Classification = "rejected"
	ClassificationManualReview Classification = "manual-review"
)

// RiskLevel is the risk tier attached to a decision.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Stage identifies which pipeline stage produced a result.
type Stage string

const (
	StageRemote    Stage = "remote"
	StageHeuristic Stage = "heuristic"
	StageDefault   Stage = "default"
)

// ScoreBreakdown is the output of the heuristic scorer.
// Factor order is the order in which rules fired.
type ScoreBreakdown struct {
	Score           int      `json:"score"`
	PositiveFactors []string `json:"positiveFactors"`
	NegativeFactors []string `json:"negativeFactors"`
	Overridden      bool     `json:"overridden"`
	RuleSetVersion  string   `json:"ruleSetVersion"`
}

// PredictionResult is the response returned for every scored application.
type PredictionResult struct {
	Classification         Classification `json:"classification"`
	ApprovalProbability    int            `json:"approvalProbability"`
	RiskLevel              RiskLevel      `json:"riskLevel"`
	RecommendedCreditLimit int64          `json:"recommendedCreditLimit"`
	PositiveFactors        []string       `json:"positiveFactors"`
	NegativeFactors        []string       `json:"negativeFactors"`
	SourceStage            Stage          `json:"sourceStage"`

	// Heuristic stage only
	Score          *int   `json:"score,omitempty"`
	RuleSetVersion string `json:"ruleSetVersion,omitempty"`

	// Set when the remote stage was attempted and failed
	RemoteFailure string `json:"remoteFailure,omitempty"`
}

// DecisionEvent is published on TopicDecision for every scored application.
type DecisionEvent struct {
	RequestID string            `json:"requestId"`
	Result    *PredictionResult `json:"result"`
	Error     string            `json:"error,omitempty"`
	ScoredAt  int64             `json:"scoredAt"`
}

// ApplicationSubmitted is the payload consumed from TopicApplicationSubmitted.
type ApplicationSubmitted struct {
	RequestID string         `json:"requestId"`
	Applicant map[string]any `json:"applicant"`
}
