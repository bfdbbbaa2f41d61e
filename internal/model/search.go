package model

import (
	"fmt"
	"strings"
)

// Permission restricts a search to the caller's own snippets, to snippets
// shared with the caller, or (PermissionAny) to both.
type Permission int

const (
	PermissionAny Permission = iota
	PermissionOwner
	PermissionShared
)

// ParsePermission is case-insensitive. A blank value means PermissionAny.
func ParsePermission(s string) (Permission, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return PermissionAny, nil
	case "OWNER":
		return PermissionOwner, nil
	case "SHARED":
		return PermissionShared, nil
	default:
		return PermissionAny, fmt.Errorf("unknown permission %q", s)
	}
}

func (p Permission) String() string {
	switch p {
	case PermissionOwner:
		return "OWNER"
	case PermissionShared:
		return "SHARED"
	default:
		return "ANY"
	}
}

// SearchFilter is the optional filter body of a search request.
type SearchFilter struct {
	Language   string `json:"language"`
	Permission string `json:"permission"`
}

// SearchQuery is a fully resolved search: who is asking, what to match and
// which page to return.
type SearchQuery struct {
	Requester  string
	Language   string
	Permission Permission
	Page       int
	Size       int
}
