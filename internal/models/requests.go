package models

import "encoding/json"

// APIResponse is the standard response envelope of the HTTP API.
type APIResponse struct {
	Status bool        `json:"status"`
	Msg    string      `json:"msg"`
	Obj    interface{} `json:"obj"`
}

// CreateIntegrationRequest is the body of POST /api/integrations.
// Config is the tagged config object, e.g. {"type":"TogglIntegration", ...}.
type CreateIntegrationRequest struct {
	WorkspaceID string          `json:"workspaceId"`
	UserID      string          `json:"userId"`
	Name        string          `json:"name"`
	Config      json.RawMessage `json:"config"`
}

// UpdateIntegrationConfigRequest is the body of PUT /api/integrations/:id/config.
type UpdateIntegrationConfigRequest struct {
	Config json.RawMessage `json:"config"`
}
