package models

import "errors"

var (
	ErrEmptyText           = errors.New("no text content to index")
	ErrInvalidChunk        = errors.New("invalid chunk")
	ErrUnsupportedBackend  = errors.New("unsupported index backend")
	ErrUnsupportedProvider = errors.New("unsupported provider")
	ErrUnsupportedFormat   = errors.New("unsupported file format")
)
