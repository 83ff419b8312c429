package credential

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"strings"
	"sync"

	id "bastion/pkg/domain"
	dErrors "bastion/pkg/domain-errors"
)

// Directory is the in-process account registry backing the login endpoint.
// Passwords are stored as SHA-256 digests and compared in constant time; the
// verdict for a wrong password and an unknown account is identical so login
// responses cannot be used to enumerate accounts.
type Directory struct {
	mu       sync.RWMutex
	accounts map[string]account
}

type account struct {
	subjectID    id.SubjectID
	role         Role
	passwordHash [sha256.Size]byte
}

func NewDirectory() *Directory {
	return &Directory{accounts: make(map[string]account)}
}

// Register adds or replaces an account. Email comparison is case-insensitive.
func (d *Directory) Register(email, password string, role Role) (id.SubjectID, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return id.SubjectID{}, dErrors.New(dErrors.CodeInvalidInput, "email and password are required")
	}
	if !role.IsValid() {
		return id.SubjectID{}, dErrors.New(dErrors.CodeInvalidInput, "invalid role")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	acct, ok := d.accounts[email]
	if !ok {
		acct = account{subjectID: id.NewSubjectID()}
	}
	acct.role = role
	acct.passwordHash = sha256.Sum256([]byte(password))
	d.accounts[email] = acct
	return acct.subjectID, nil
}

// Authenticate checks a credential pair. The password digest is always
// computed and compared, account present or not, to keep timing flat.
func (d *Directory) Authenticate(_ context.Context, email, password string) (id.SubjectID, Role, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	d.mu.RLock()
	acct, ok := d.accounts[email]
	d.mu.RUnlock()

	supplied := sha256.Sum256([]byte(password))
	match := subtle.ConstantTimeCompare(acct.passwordHash[:], supplied[:]) == 1
	if !ok || !match {
		return id.SubjectID{}, "", dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
	}
	return acct.subjectID, acct.role, nil
}
