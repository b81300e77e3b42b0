package main

import (
	"github.com/opencomply/engine/compliance"
)

// API request and response models.

// EvaluateRequest narrows and configures a batch evaluation.
type EvaluateRequest struct {
	Framework string `json:"framework,omitempty"`
	Category  string `json:"category,omitempty"`
	Frequency string `json:"frequency,omitempty"`
	DryRun    bool   `json:"dryRun,omitempty"`
}

// EvaluateDueRequest configures a due-rule evaluation run.
type EvaluateDueRequest struct {
	DryRun bool `json:"dryRun,omitempty"`
}

// CreateRuleRequest is the authoring-surface shape for a new rule.
type CreateRuleRequest struct {
	Name           string               `json:"name"`
	Framework      string               `json:"framework"`
	Category       string               `json:"category"`
	Severity       string               `json:"severity"`
	IsActive       *bool                `json:"isActive,omitempty"`
	CheckFrequency string               `json:"checkFrequency"`
	RuleLogic      compliance.RuleLogic `json:"ruleLogic"`
}

// UpdateRuleRequest replaces a rule's definition fields. Statistics are
// never writable through the API.
type UpdateRuleRequest struct {
	Name           string               `json:"name"`
	Framework      string               `json:"framework"`
	Category       string               `json:"category"`
	Severity       string               `json:"severity"`
	IsActive       bool                 `json:"isActive"`
	CheckFrequency string               `json:"checkFrequency"`
	RuleLogic      compliance.RuleLogic `json:"ruleLogic"`
}

// RuleResponse is a rule in API responses.
type RuleResponse struct {
	ID             string                    `json:"id"`
	OrganizationID string                    `json:"organizationId"`
	Name           string                    `json:"name"`
	Framework      compliance.Framework      `json:"framework"`
	Category       compliance.Category       `json:"category"`
	Severity       compliance.Severity       `json:"severity"`
	IsActive       bool                      `json:"isActive"`
	CheckFrequency compliance.CheckFrequency `json:"checkFrequency"`
	LastCheckedAt  *string                   `json:"lastCheckedAt,omitempty"`
	PassCount      int64                     `json:"passCount"`
	FailCount      int64                     `json:"failCount"`
	RuleLogic      compliance.RuleLogic      `json:"ruleLogic"`
}

// ErrorResponse is the uniform error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}

func ruleResponse(r *compliance.ComplianceRule) RuleResponse {
	resp := RuleResponse{
		ID:             r.ID,
		OrganizationID: r.OrganizationID,
		Name:           r.Name,
		Framework:      r.Framework,
		Category:       r.Category,
		Severity:       r.Severity,
		IsActive:       r.IsActive,
		CheckFrequency: r.CheckFrequency,
		PassCount:      r.PassCount,
		FailCount:      r.FailCount,
		RuleLogic:      r.RuleLogic,
	}
	if r.LastCheckedAt != nil {
		s := r.LastCheckedAt.UTC().Format("2006-01-02T15:04:05Z07:00")
		resp.LastCheckedAt = &s
	}
	return resp
}
