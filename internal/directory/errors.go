// Package directory pages over a display-name-ordered contact store: it keeps
// an identifier index for offset paging, splits id sets into bounded range
// queries, and serves the first page from a background-refreshed cache.
package directory

import (
	"errors"
	"fmt"

	"github.com/gezibash/arc-contacts/internal/contacts"
)

var (
	// ErrInvalidWindow indicates a negative offset or limit.
	ErrInvalidWindow = errors.New("invalid window")

	// ErrInvalidContact indicates a contact that cannot be written.
	ErrInvalidContact = errors.New("invalid contact")
)

// MutationError reports a failed write to the contact store.
type MutationError struct {
	ContactID contacts.ID
	Err       error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("save contact %s: %v", e.ContactID, e.Err)
}

func (e *MutationError) Unwrap() error { return e.Err }
