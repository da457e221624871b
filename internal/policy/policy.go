// Package policy implements the access-control decision functions for
// workspace-scoped operations. These are pure functions over a (Workspace,
// Actor, ACL) triple, kept free of I/O so they can be unit tested without a
// database.
package policy

import "github.com/mau5law/ragcore/internal/domain"

// aclRoleFor finds the actor's grant within a workspace's ACL, if any.
func aclRoleFor(acl []domain.ACLEntry, userID string) (domain.ACLRole, bool) {
	for _, e := range acl {
		if e.UserID == userID {
			return e.Role, true
		}
	}
	return "", false
}

// CanRead reports whether actor may read workspace's contents. Admins,
// owners, and SERVICE principals always pass. Otherwise PRIVATE workspaces
// reject, ORG_READ workspaces are open to any actor, and SHARED workspaces
// require an ACL grant.
func CanRead(ws domain.Workspace, actor domain.Actor, acl []domain.ACLEntry) bool {
	if actor.Role == domain.RoleService || actor.Role == domain.RoleAdmin {
		return true
	}
	if actor.UserID == ws.OwnerUserID {
		return true
	}
	switch ws.Visibility {
	case domain.VisibilityOrgRead:
		return true
	case domain.VisibilityShared:
		_, ok := aclRoleFor(acl, actor.UserID)
		return ok
	default:
		return false
	}
}

// CanWrite reports whether actor may ingest, reprocess, or otherwise mutate
// workspace's contents. Archived workspaces reject every write regardless of
// role. Admins, owners, and SERVICE principals may write to a non-archived
// workspace; everyone else is rejected, including SHARED EDITOR grants,
// which govern ACL membership but not write access.
func CanWrite(ws domain.Workspace, actor domain.Actor, acl []domain.ACLEntry) bool {
	if ws.Archived() {
		return false
	}
	if actor.Role == domain.RoleService || actor.Role == domain.RoleAdmin {
		return true
	}
	return actor.UserID == ws.OwnerUserID
}

// CanManageACL reports whether actor may grant or revoke ACL entries. Only
// the owner, a system ADMIN, or a SERVICE principal may manage a workspace's
// ACL; EDITOR grants do not imply ACL management.
func CanManageACL(ws domain.Workspace, actor domain.Actor) bool {
	return actor.Role == domain.RoleService || actor.Role == domain.RoleAdmin || actor.UserID == ws.OwnerUserID
}
