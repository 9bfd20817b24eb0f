package session

import "github.com/jupark12/deck-viewer/models"

// Status is the conversion attempt's position in the job lifecycle
type Status string

const (
	StatusIdle         Status = "idle"
	StatusFileSelected Status = "file_selected"
	StatusUploading    Status = "uploading"
	StatusSucceeded    Status = "succeeded"
	StatusFailed       Status = "failed"
)

// Terminal reports whether the attempt has settled.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

const (
	initialProgress = 10
	progressStep    = 10
	progressCeiling = 90
	progressDone    = 100
)

// Snapshot is an immutable copy of the session state handed to the presentation layer
type Snapshot struct {
	Status       Status     `json:"status"`
	File         string     `json:"file,omitempty"`
	Progress     int        `json:"progress"`
	Submitting   bool       `json:"submitting"`
	Error        string     `json:"error,omitempty"`
	ErrorKind    ErrorKind  `json:"error_kind,omitempty"`
	DocumentRef  string     `json:"document_ref,omitempty"`
	Page         PageCursor `json:"page"`
	PageLabel    string     `json:"page_label,omitempty"`
	CanGoBack    bool       `json:"can_go_back"`
	CanGoForward bool       `json:"can_go_forward"`
	RenderError  string     `json:"render_error,omitempty"`
	Attempt      uint64     `json:"attempt"`
}

// CanSubmit reports whether the submit action is enabled.
func (s Snapshot) CanSubmit() bool {
	return s.Status == StatusFileSelected && !s.Submitting
}

// ShowProgress reports whether the progress indicator is visible.
func (s Snapshot) ShowProgress() bool {
	return s.Status == StatusUploading
}

// ShowViewer reports whether a document is available for paging.
func (s Snapshot) ShowViewer() bool {
	return s.DocumentRef != ""
}

// state is the single owned record mutated by the controller loop.
type state struct {
	status      Status
	file        *models.InputFile
	progress    int
	err         string
	errKind     ErrorKind
	renderErr   string
	lastAttempt uint64
}
