package types

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Model     string `json:"model"`
	Name      string `json:"name"`
	MachineID string `json:"machine_id"`
}

// TranscribeResponse is the body of POST /api/v1/transcribe.
type TranscribeResponse struct {
	Text       string `json:"text"`
	DurationMS int64  `json:"duration_ms"`
	Model      string `json:"model"`
}

// ErrorResponse is the error payload for all API endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
}
