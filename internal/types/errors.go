package types

// CLIError is the stable, machine-readable error shape surfaced by the CLI
type CLIError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	HTTPStatus     int                    `json:"httpStatus,omitempty"`
	ProviderReason string                 `json:"providerReason,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Context        map[string]interface{} `json:"context,omitempty"`
}
