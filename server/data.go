package server

import (
	"strings"

	"go-easm/models"
)

// response defines the basic HTTP response returned by the server.
type response struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

// CreateScanAPI defines the JSON structure for incoming scan requests.
type CreateScanAPI struct {
	AssetID    uint               `json:"asset_id"`
	TemplateID *uint              `json:"template_id,omitempty"`
	Target     string             `json:"target,omitempty"`
	Name       string             `json:"name,omitempty"`
	Config     models.ConfigPatch `json:"config"`
	Execute    bool               `json:"execute"` // dispatch right after creation
}

func (r *CreateScanAPI) Validate() bool {
	return r.AssetID != 0
}

// TriggerScanAPI defines the JSON structure for scanning several assets at once.
type TriggerScanAPI struct {
	AssetIDs   []uint             `json:"asset_ids"`
	TemplateID *uint              `json:"template_id,omitempty"`
	Config     models.ConfigPatch `json:"config"`
}

func (r *TriggerScanAPI) Validate() bool {
	if len(r.AssetIDs) == 0 {
		return false
	}
	for _, id := range r.AssetIDs {
		if id == 0 {
			return false
		}
	}
	return true
}

// TriggerError reports an asset that could not be scanned.
type TriggerError struct {
	AssetID uint   `json:"asset_id"`
	Message string `json:"message"`
}

// TriggerResponse defines the JSON structure returned by /scans/trigger.
type TriggerResponse struct {
	Scans  []*models.Scan `json:"scans"`
	Errors []TriggerError `json:"errors,omitempty"`
}

// TemplateAPI defines the JSON structure for incoming template requests.
type TemplateAPI struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Config      models.ConfigPatch `json:"config"`
}

func (r *TemplateAPI) Validate() bool {
	return strings.TrimSpace(r.Name) != ""
}

// StateAPI defines the JSON structure of a state change.
type StateAPI struct {
	State models.VulnState `json:"state"`
}

func (r *StateAPI) Validate() bool {
	return r.State.IsValid()
}

// AssignAPI defines the JSON structure of an assignment.
type AssignAPI struct {
	UserID models.UserID `json:"user_id"`
}

func (r *AssignAPI) Validate() bool {
	return r.UserID != 0
}

// AcceptRiskAPI defines the JSON structure of a risk acceptance.
// The reason is checked by the state machine.
type AcceptRiskAPI struct {
	Reason string `json:"reason"`
}

// ReopenAPI defines the JSON structure of a re-open request.
type ReopenAPI struct {
	Note string `json:"note,omitempty"`
}

// HealthResponse defines the JSON structure returned by /health.
type HealthResponse struct {
	Status      string `json:"status"`
	Database    string `json:"database"`
	RunningScan int64  `json:"running_scans"`
	MaxScans    int64  `json:"max_concurrent_scans"`
	Tier        string `json:"tier"`
}
