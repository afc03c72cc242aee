package models

import "errors"

var (
	// ErrFetch marks a network failure, timeout or non-2xx response.
	ErrFetch = errors.New("fetch failed")
	// ErrMarkupShape marks a page whose table or cells are not where expected.
	ErrMarkupShape = errors.New("unexpected markup shape")
	// ErrNormalization marks a raw value that could not be cleaned.
	ErrNormalization = errors.New("normalization failed")
	// ErrMalformedURL marks a listing URL without an id segment.
	ErrMalformedURL = errors.New("malformed listing url")
	// ErrSinkUpload marks a failed artifact upload.
	ErrSinkUpload = errors.New("sink upload failed")
)
