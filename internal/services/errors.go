package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/SAP-F-2025/article-service/internal/crypto"
	"github.com/SAP-F-2025/article-service/internal/models"
)

var (
	ErrArticleNotFound    = errors.New("article not found")
	ErrGroupNotFound      = errors.New("group not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvitationNotFound = errors.New("invitation code not found")
	ErrInvitationUsed     = errors.New("invitation code already used")
	ErrRoleNotAssigned    = errors.New("user does not hold the role")
	ErrLinkNotFound       = errors.New("article is not linked to group")
	ErrMemberNotFound     = errors.New("user is not a member of the group")
	ErrAlreadyMember      = errors.New("user is already a member of the group")

	ErrMalformedBackup   = errors.New("malformed backup")
	ErrBackupKeyMismatch = errors.New("backup was produced with a different encryption key")

	ErrPermissionDenied = errors.New("permission denied")

	// ErrCryptoFailure is wrapped by every encryption or decryption error
	ErrCryptoFailure = crypto.ErrCryptoFailure
)

// PermissionError describes a refused action
type PermissionError struct {
	UserID     string
	ResourceID string
	Resource   string
	Action     string
	Reason     string
}

func NewPermissionError(userID string, resourceID interface{}, resource, action, reason string) *PermissionError {
	id := ""
	if resourceID != nil {
		id = fmt.Sprint(resourceID)
	}
	return &PermissionError{
		UserID:     userID,
		ResourceID: id,
		Resource:   resource,
		Action:     action,
		Reason:     reason,
	}
}

func (e *PermissionError) Error() string {
	target := e.Resource
	if e.ResourceID != "" {
		target = fmt.Sprintf("%s %s", e.Resource, e.ResourceID)
	}
	return fmt.Sprintf("user %s may not %s %s: %s", e.UserID, e.Action, target, e.Reason)
}

func (e *PermissionError) Unwrap() error { return ErrPermissionDenied }

func IsPermissionError(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}

// LastAdminViolation rejects a change that would leave a protected group
// without a group admin, or the platform without an ADMIN. GroupID is zero
// for the platform case.
type LastAdminViolation struct {
	GroupID models.GroupID
	UserID  string
}

func (e *LastAdminViolation) Error() string {
	if e.GroupID.IsZero() {
		return fmt.Sprintf("user %s is the last platform administrator", e.UserID)
	}
	if e.UserID == "" {
		return fmt.Sprintf("protected group %s would be left without a group admin", e.GroupID)
	}
	return fmt.Sprintf("user %s is the last admin of protected group %s", e.UserID, e.GroupID)
}

// OrphanArticleViolation lists the articles that would lose their last group
type OrphanArticleViolation struct {
	GroupID    models.GroupID
	ArticleIDs []models.ArticleID
}

func (e *OrphanArticleViolation) Error() string {
	ids := make([]string, len(e.ArticleIDs))
	for i, id := range e.ArticleIDs {
		ids[i] = id.String()
	}
	return fmt.Sprintf("group %s is the only group of article(s) %s", e.GroupID, strings.Join(ids, ", "))
}

// IsPolicyViolation reports the invariant rejections that leave state unchanged
func IsPolicyViolation(err error) bool {
	var lastAdmin *LastAdminViolation
	var orphan *OrphanArticleViolation
	return errors.As(err, &lastAdmin) || errors.As(err, &orphan)
}

// PersistenceError wraps a failure of the underlying store
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func IsPersistenceError(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

func persistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
