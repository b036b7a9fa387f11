// ABOUTME: Error taxonomy for the messaging service layer
// ABOUTME: Category sentinels plus specific errors that wrap them for errors.Is checks

package messaging

import (
	"errors"
	"fmt"
)

// Category sentinels. Specific errors below wrap one of these, so callers
// can branch on the category (errors.Is(err, ErrValidation)) or on the
// specific failure. Neither category is ever worth retrying.
var (
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
)

var (
	// ErrSelfConversation is returned by GetOrCreateConversation when both
	// participant ids are the same user.
	ErrSelfConversation = fmt.Errorf("%w: cannot open a conversation with yourself", ErrValidation)

	// ErrEmptyParticipant is returned when a participant id is blank.
	ErrEmptyParticipant = fmt.Errorf("%w: participant id is empty", ErrValidation)

	// ErrEmptyContent is returned by SendMessage when the content is empty
	// after trimming whitespace.
	ErrEmptyContent = fmt.Errorf("%w: message content is empty", ErrValidation)

	// ErrRecipientMismatch is returned by SendMessage when the recipient is
	// not the other participant of the conversation.
	ErrRecipientMismatch = fmt.Errorf("%w: recipient is not the other participant", ErrValidation)

	// ErrUnsupportedType is returned by SendMessage for message types other
	// than text.
	ErrUnsupportedType = fmt.Errorf("%w: unsupported message type", ErrValidation)

	// ErrNotParticipant is returned when the caller is not a participant of
	// the referenced conversation.
	ErrNotParticipant = fmt.Errorf("%w: caller is not a conversation participant", ErrUnauthorized)
)
