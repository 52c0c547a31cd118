package domain

import "time"

// Source represents an upstream event emitter.
//
// Invariant: Key is immutable after creation. The plaintext API key is
// never stored — only APIKeyHash survives past the create/rotate response.
type Source struct {
	ID               string
	Key              string
	Name             string
	Description      string
	APIKeyHash       string
	Enabled          bool
	RedactResourceID bool
	RetentionDays    int
	RateLimit        int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Actor is the subject of security events.
type Actor struct {
	ActorID          string
	DisplayName      string
	ActorType        ActorType
	FirstSeen        time.Time
	LastSeen         time.Time
	CurrentRiskScore int
}

// Event is the canonical normalized record. Once written, immutable.
type Event struct {
	ID           string
	OccurredAt   time.Time
	IngestedAt   time.Time
	ActorID      string
	ActorType    ActorType
	SourceID     string
	ActionType   string
	ResourceType *string
	ResourceID   *string
	Outcome      Outcome
	IP           *string
	UserAgent    *string
	Bytes        *int64
	Metadata     map[string]any
}

// Baseline is the behavioral profile of an actor over a rolling window.
// Append-only: a new record is written on every computation.
type Baseline struct {
	ActorID              string
	ComputedAt           time.Time
	WindowDays           int
	TypicalActiveHours   []int
	KnownIPAddresses     []string
	KnownUserAgents      []string
	AvgBytesPerDay       float64
	AvgEventsPerDay      float64
	TypicalResourceScope int
	NormalFailureRate    float64
	EventCount           int
	FirstSeen            *time.Time
	LastSeen             *time.Time
}

// RuleContribution is a single rule's explainable addition to a risk score.
type RuleContribution struct {
	RuleID        string
	RuleKey       RuleKey
	RuleName      string
	Points        int
	Reason        string
	CurrentValue  any
	BaselineValue any
}

// RiskScore is the evidentiary output of one scoring pass. Append-only.
type RiskScore struct {
	ActorID            string
	TotalScore         int
	ComputedAt         time.Time
	RuleContributions  []RuleContribution
	TriggeringEventIDs []string
}

// BaselineComparison holds the six paired metrics shown for triage.
type BaselineComparison struct {
	TypicalHours        []int
	CurrentHours        []int
	AvgBytes            float64
	CurrentBytes        float64
	NormalScope         int
	CurrentScope        int
	NormalFailureRate   float64
	CurrentFailureRate  float64
}

// Alert is a deduplicated, explainable risk notification.
type Alert struct {
	ID                 string
	ActorID            string
	Score              int
	Severity           Severity
	Status             AlertStatus
	RuleContributions  []RuleContribution
	BaselineComparison BaselineComparison
	TriggeringEventIDs []string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	AcknowledgedBy     *string
	AcknowledgedAt     *time.Time
	ResolvedBy         *string
	ResolvedAt         *time.Time
}

// ScoringRule is the configuration of one scoring rule evaluator.
type ScoringRule struct {
	ID            string
	RuleKey       RuleKey
	Name          string
	Description   string
	Enabled       bool
	Weight        int
	Threshold     float64
	WindowMinutes int
	Config        map[string]any
}

// AuditLog is an immutable config-change record.
type AuditLog struct {
	ID          string
	UserID      string
	Action      AuditAction
	EntityType  AuditEntityType
	EntityID    string
	BeforeValue map[string]any
	AfterValue  map[string]any
	CreatedAt   time.Time
}
