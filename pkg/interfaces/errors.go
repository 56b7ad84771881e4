package interfaces

import "errors"

var (
	ErrJournalUnreadable = errors.New("journal backend does not support reads")
	ErrJournalClosed     = errors.New("journal is closed")
)
