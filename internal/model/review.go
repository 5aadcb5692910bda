package model

import "time"

// ReviewActionType identifies what happened to a provider's review status.
type ReviewActionType string

const (
	// ActionApprove is a reviewer promoting a provider to Verified.
	ActionApprove ReviewActionType = "approve"
	// ActionReject is a reviewer deleting a provider permanently.
	ActionReject ReviewActionType = "reject"
	// ActionDemote is a re-evaluation moving Verified to Needs Review.
	ActionDemote ReviewActionType = "demote"
	// ActionPromote is a re-evaluation moving Needs Review to Verified.
	ActionPromote ReviewActionType = "promote"
)

// ReviewAction is one audit entry. The provider fields are copied so
// the entry stays readable after a reject deletes the provider.
type ReviewAction struct {
	ID              string           `json:"id"`
	ProviderID      string           `json:"provider_id"`
	NPI             string           `json:"npi"`
	ProviderName    string           `json:"provider_name"`
	Action          ReviewActionType `json:"action"`
	Reviewer        string           `json:"reviewer,omitempty"`
	Note            string           `json:"note,omitempty"`
	FromStatus      Status           `json:"from_status"`
	ToStatus        Status           `json:"to_status"`
	ConfidenceScore int              `json:"confidence_score"`
	CreatedAt       time.Time        `json:"created_at"`
}
