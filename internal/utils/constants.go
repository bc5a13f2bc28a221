package utils

// ScopeReadonly lets the Drive provider list and download without write access
const ScopeReadonly = "https://www.googleapis.com/auth/drive.readonly"

// ScopesMirror is what the Drive provider needs to list and download a folder tree
var ScopesMirror = []string{ScopeReadonly}

// Provider endpoints
const (
	DropboxAPIBase     = "https://api.dropboxapi.com/2"
	DropboxContentBase = "https://content.dropboxapi.com/2"
	DropboxTokenURL    = "https://api.dropboxapi.com/oauth2/token"
	DropboxAuthURL     = "https://www.dropbox.com/oauth2/authorize"
)

// Retry configuration
const (
	DefaultMaxRetries   = 3
	DefaultRetryDelayMs = 1000
	MaxRetryDelayMs     = 32000
)

// Sync defaults
const (
	DefaultRequestTimeoutSeconds = 60
	DefaultRebootTimeoutSeconds  = 10
	DefaultContentCacheSize      = 512
	DefaultHistoryLimit          = 20
)

// Google Workspace MIME types
const (
	MimeTypeDocument     = "application/vnd.google-apps.document"
	MimeTypeSpreadsheet  = "application/vnd.google-apps.spreadsheet"
	MimeTypePresentation = "application/vnd.google-apps.presentation"
	MimeTypeDrawing      = "application/vnd.google-apps.drawing"
	MimeTypeForm         = "application/vnd.google-apps.form"
	MimeTypeScript       = "application/vnd.google-apps.script"
	MimeTypeFolder       = "application/vnd.google-apps.folder"
	MimeTypeShortcut     = "application/vnd.google-apps.shortcut"
)

// IsWorkspaceMimeType checks if a MIME type is a Google Workspace type
func IsWorkspaceMimeType(mimeType string) bool {
	switch mimeType {
	case MimeTypeDocument, MimeTypeSpreadsheet, MimeTypePresentation,
		MimeTypeDrawing, MimeTypeForm, MimeTypeScript:
		return true
	}
	return false
}

// HasBinaryContent reports whether a Drive file can be downloaded as-is
func HasBinaryContent(mimeType string) bool {
	return mimeType != MimeTypeFolder && mimeType != MimeTypeShortcut && !IsWorkspaceMimeType(mimeType)
}

// SchemaVersion versions the JSON output envelope
const SchemaVersion = "1.0"
