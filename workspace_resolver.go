package beacon

import (
	"context"
	"fmt"

	"github.com/sunbeamfin/beacon/domain"
	serrors "github.com/sunbeamfin/beacon/errors"
)

// ResolvedWorkspace is the tenant context picked for one request.
type ResolvedWorkspace struct {
	// ActiveWorkspaceID is empty when the principal belongs nowhere yet.
	ActiveWorkspaceID string
	AllowedWorkspaces []string
	Roles             []domain.Role
	Scopes            []string
}

// WorkspaceResolver turns a verified principal plus an optional workspace
// hint into an active workspace and its role-derived scope set.
type WorkspaceResolver struct {
	workspaces domain.WorkspaceRepository
}

// NewWorkspaceResolver creates a new WorkspaceResolver instance.
func NewWorkspaceResolver(workspaces domain.WorkspaceRepository) *WorkspaceResolver {
	return &WorkspaceResolver{workspaces: workspaces}
}

// ResolveForUser applies the selection rules: no memberships means no active
// workspace, a single membership selects itself, several memberships need a
// hint, and a hint always has to match a real membership.
func (r *WorkspaceResolver) ResolveForUser(ctx context.Context, userID, hint string) (*ResolvedWorkspace, error) {
	memberships, err := r.workspaces.ListUserMemberships(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspace memberships: %w", err)
	}

	allowed := make([]string, 0, len(memberships))
	for _, m := range memberships {
		allowed = append(allowed, m.WorkspaceID)
	}

	if hint != "" {
		for _, m := range memberships {
			if m.WorkspaceID == hint {
				return resolvedFromMembership(m, allowed), nil
			}
		}
		return nil, serrors.ErrNotMember
	}

	switch len(memberships) {
	case 0:
		return &ResolvedWorkspace{}, nil
	case 1:
		return resolvedFromMembership(memberships[0], allowed), nil
	default:
		return nil, serrors.ErrWorkspaceRequired
	}
}

// ResolveForToken picks the workspace claims minted into a token. It runs
// the same rules as ResolveForUser except that ambiguity is not an error
// here: a token for a multi-workspace user simply carries no active
// workspace, and the holder disambiguates per request.
func (r *WorkspaceResolver) ResolveForToken(ctx context.Context, userID, hint string) (*ResolvedWorkspace, error) {
	resolved, err := r.ResolveForUser(ctx, userID, hint)
	if err == nil {
		return resolved, nil
	}
	if !serrors.Is(err, serrors.ErrWorkspaceRequired) {
		return nil, err
	}

	memberships, err := r.workspaces.ListUserMemberships(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspace memberships: %w", err)
	}
	allowed := make([]string, 0, len(memberships))
	for _, m := range memberships {
		allowed = append(allowed, m.WorkspaceID)
	}
	return &ResolvedWorkspace{AllowedWorkspaces: allowed}, nil
}

// ResolveForClient applies the same selection rules to a service client and
// its registered workspace allow-list.
func (r *WorkspaceResolver) ResolveForClient(_ context.Context, client *domain.Client, requested string) (*ResolvedWorkspace, error) {
	allowed := append([]string(nil), client.AllowedWorkspaces...)

	if requested != "" {
		if !client.AllowsWorkspace(requested) {
			return nil, serrors.ErrNotMember
		}
		return &ResolvedWorkspace{
			ActiveWorkspaceID: requested,
			AllowedWorkspaces: allowed,
		}, nil
	}

	switch len(allowed) {
	case 0:
		return &ResolvedWorkspace{}, nil
	case 1:
		return &ResolvedWorkspace{
			ActiveWorkspaceID: allowed[0],
			AllowedWorkspaces: allowed,
		}, nil
	default:
		return nil, serrors.ErrWorkspaceRequired
	}
}

// BuildAuthContext resolves the workspace for a session-authenticated user
// and assembles the per-request identity.
func (r *WorkspaceResolver) BuildAuthContext(ctx context.Context, user *domain.User, session *domain.Session, hint string) (*domain.AuthContext, error) {
	resolved, err := r.ResolveForUser(ctx, user.ID, hint)
	if err != nil {
		return nil, err
	}

	ac := &domain.AuthContext{
		PrincipalType:     domain.PrincipalUser,
		UserID:            user.ID,
		ActiveWorkspaceID: resolved.ActiveWorkspaceID,
		AllowedWorkspaces: resolved.AllowedWorkspaces,
		Roles:             resolved.Roles,
		Scopes:            resolved.Scopes,
	}
	if session != nil {
		ac.SessionID = session.ID
		ac.MFALevel = session.MFALevel
	}
	return ac, nil
}

func resolvedFromMembership(m *domain.WorkspaceMembership, allowed []string) *ResolvedWorkspace {
	return &ResolvedWorkspace{
		ActiveWorkspaceID: m.WorkspaceID,
		AllowedWorkspaces: allowed,
		Roles:             []domain.Role{m.Role},
		Scopes:            m.Role.Scopes(),
	}
}
