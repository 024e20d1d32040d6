package chat

import "errors"

var (
	// ErrStoreUnavailable is a durable store I/O failure. It never reaches a
	// user: the message store retries the operation in transient mode.
	ErrStoreUnavailable = errors.New("durable store unavailable")

	// ErrNotFound is an unknown or evicted message id.
	ErrNotFound = errors.New("message not found")

	// ErrInvalidTransition is an event the connection's session state does
	// not allow, such as sending before identifying.
	ErrInvalidTransition = errors.New("invalid session transition")

	// ErrUploadFailed means the attached file could not be resolved; the send
	// is aborted and nothing is stored.
	ErrUploadFailed = errors.New("file upload failed")

	// ErrUnknownRecipient is a private message addressed to a connection that
	// is not online.
	ErrUnknownRecipient = errors.New("unknown recipient")
)
