package core

import (
	"errors"
	"fmt"
)

var (
	ErrDocumentNotFound     = errors.New("document not found")
	ErrDocumentNotReady     = errors.New("document is not ready for querying")
	ErrDocumentBusy         = errors.New("document is already being processed")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrEmptyMessage         = errors.New("message must not be empty")
	ErrUnsupportedFile      = errors.New("only PDF files are supported")
	ErrFileTooLarge         = errors.New("file exceeds the maximum upload size")
	ErrInvalidExtraction    = errors.New("invalid extraction")
)

// DocumentNotReadyError reports the status of a document that cannot be queried yet.
type DocumentNotReadyError struct {
	DocumentID int64
	Status     string
}

func (e *DocumentNotReadyError) Error() string {
	return fmt.Sprintf("document %d is not ready (status: %s)", e.DocumentID, e.Status)
}

func (e *DocumentNotReadyError) Is(target error) bool {
	return target == ErrDocumentNotReady
}
