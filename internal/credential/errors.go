package credential

import "errors"

var (
	// ErrCredentialMissing indicates a required token or verify ticket is
	// not present in the store.
	ErrCredentialMissing = errors.New("credential missing")

	// ErrEmptyVerifyTicket indicates the platform pushed an empty verify
	// ticket.
	ErrEmptyVerifyTicket = errors.New("empty verify ticket")
)
