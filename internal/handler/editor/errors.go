package editor

import "errors"

var (
	errMissingDraft   = errors.New("edit requires a draft")
	errUnknownCommand = errors.New("unknown command")
	errInvalidDraft   = errors.New("draft has unknown moderation settings")
)
