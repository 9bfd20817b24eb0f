package session

import (
	"errors"
	"fmt"

	"github.com/jupark12/deck-viewer/convert"
)

// ErrorKind classifies the error carried by a session snapshot
type ErrorKind string

const (
	ErrorNone       ErrorKind = ""
	ErrorValidation ErrorKind = "validation"
	ErrorTransport  ErrorKind = "transport"
	ErrorService    ErrorKind = "service"
)

// User-facing messages.
const (
	ValidationMessage     = "Please select a valid PowerPoint (.pptx) file"
	GenericFailureMessage = "Failed to convert file. Please try again."
	RenderFailureMessage  = "Failed to load PDF. Try downloading instead."
)

var (
	ErrNoDocument            = errors.New("no document installed")
	ErrInvalidPageCount      = errors.New("page count must be at least 1")
	ErrMetadataAlreadyLoaded = errors.New("page count already reported for this document")
	ErrStaleDocument         = errors.New("callback is for a superseded document")
	ErrStopped               = errors.New("session controller stopped")
)

// FailureReason turns a submission error into the kind and message shown to the user.
// A service-supplied detail wins, then a message built from the status code, then the
// generic failure message.
func FailureReason(err error) (ErrorKind, string) {
	var cerr *convert.Error
	if errors.As(err, &cerr) && cerr.Kind == convert.KindService {
		switch {
		case cerr.Detail != "":
			return ErrorService, cerr.Detail
		case cerr.Status != 0:
			return ErrorService, fmt.Sprintf("Server responded with %d", cerr.Status)
		default:
			return ErrorService, GenericFailureMessage
		}
	}
	return ErrorTransport, GenericFailureMessage
}
