package model

import (
	"encoding/json"
	"time"
)

// ActorType distinguishes who made a decision.
type ActorType string

const (
	ActorSystem ActorType = "system"
	ActorAgent  ActorType = "agent"
	ActorHuman  ActorType = "human"
)

// Audit actions emitted by the pipeline stages.
const (
	ActionEntityResolution  = "entity_resolution"
	ActionAliasLearned      = "alias_learned"
	ActionExposureInferred  = "exposure_inferred"
	ActionOracleCall        = "oracle_classification"
	ActionRuleClassify      = "rule_classification"
	ActionAggregation       = "aggregation_snapshot"
	ActionQueueInsert       = "review_queue_insert"
	ActionQueueTransition   = "review_queue_transition"
	ActionRunComplete       = "pipeline_run_complete"
	ActionRunFailed         = "pipeline_run_failed"
	ActionDataQualityIssue  = "data_quality_issue"
	ActionCompanyClassWrite = "company_classification_write"
)

// AuditEvent is an append-only, immutable record of a system or human
// decision. Hash links the event to the previous event for the same run,
// making the per-run trail tamper-evident.
type AuditEvent struct {
	ID         string          `json:"id"`
	RunID      string          `json:"run_id"`
	ActorType  ActorType       `json:"actor_type"`
	ActorID    string          `json:"actor_id"`
	Action     string          `json:"action"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	PrevHash   string          `json:"prev_hash"`
	Hash       string          `json:"hash"`
	EventTime  time.Time       `json:"event_time"`
}
