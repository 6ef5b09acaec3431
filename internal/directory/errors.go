package directory

import "errors"

// Directory errors. Target and template lookups return the
// notifications package sentinels so both modules agree on not-found.
var (
	ErrGroupNotFound      = errors.New("email group not found")
	ErrTemplateCodeExists = errors.New("template with this code already exists")
	ErrMemberNotFound     = errors.New("target is not a member of the group")
	ErrInvalidAddress     = errors.New("address does not match target type")
	ErrNotContact         = errors.New("only contact targets can join a group")
	ErrParentNotFound     = errors.New("parent group not found")
)
