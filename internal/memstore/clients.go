package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/sunbeamfin/beacon/domain"
	serrors "github.com/sunbeamfin/beacon/errors"
)

// ClientStore keeps OAuth2 clients in memory.
type ClientStore struct {
	mu      sync.RWMutex
	clients map[string]domain.Client
}

// NewClientStore creates a new ClientStore.
func NewClientStore() *ClientStore {
	return &ClientStore{clients: make(map[string]domain.Client)}
}

func (s *ClientStore) CreateClient(ctx context.Context, client *domain.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.clients[client.ID]; exists {
		return fmt.Errorf("client %s already exists", client.ID)
	}
	s.clients[client.ID] = *client
	return nil
}

func (s *ClientStore) GetClient(ctx context.Context, clientID string) (*domain.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	client, ok := s.clients[clientID]
	if !ok {
		return nil, serrors.ErrClientNotFound
	}
	return &client, nil
}

func (s *ClientStore) UpdateClient(ctx context.Context, client *domain.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[client.ID]; !ok {
		return serrors.ErrClientNotFound
	}
	s.clients[client.ID] = *client
	return nil
}

func (s *ClientStore) DeleteClient(ctx context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[clientID]; !ok {
		return serrors.ErrClientNotFound
	}
	delete(s.clients, clientID)
	return nil
}

func (s *ClientStore) ListClients(ctx context.Context, filter domain.ClientFilter) ([]*domain.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Client
	for _, client := range s.clients {
		if filter.Kind != "" && client.Kind != filter.Kind {
			continue
		}
		if filter.Search != "" && !containsFold(client.Name, filter.Search) && !containsFold(client.ID, filter.Search) {
			continue
		}
		client := client
		out = append(out, &client)
	}
	return out, nil
}

// WorkspaceStore keeps workspaces and memberships in memory.
type WorkspaceStore struct {
	mu          sync.RWMutex
	workspaces  map[string]domain.Workspace
	memberships map[string]domain.WorkspaceMembership
}

// NewWorkspaceStore creates a new WorkspaceStore.
func NewWorkspaceStore() *WorkspaceStore {
	return &WorkspaceStore{
		workspaces:  make(map[string]domain.Workspace),
		memberships: make(map[string]domain.WorkspaceMembership),
	}
}

func (s *WorkspaceStore) CreateWorkspace(ctx context.Context, ws *domain.Workspace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.workspaces[ws.ID]; exists {
		return fmt.Errorf("workspace %s already exists", ws.ID)
	}
	s.workspaces[ws.ID] = *ws
	return nil
}

func (s *WorkspaceStore) GetWorkspaceByID(ctx context.Context, id string) (*domain.Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ws, ok := s.workspaces[id]
	if !ok {
		return nil, serrors.ErrNotFound
	}
	return &ws, nil
}

func (s *WorkspaceStore) AddMembership(ctx context.Context, m *domain.WorkspaceMembership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := m.WorkspaceID + "/" + m.UserID
	if _, exists := s.memberships[key]; exists {
		return fmt.Errorf("user %s is already a member of workspace %s", m.UserID, m.WorkspaceID)
	}
	s.memberships[key] = *m
	return nil
}

func (s *WorkspaceStore) GetMembership(ctx context.Context, workspaceID, userID string) (*domain.WorkspaceMembership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.memberships[workspaceID+"/"+userID]
	if !ok {
		return nil, serrors.ErrNotFound
	}
	return &m, nil
}

func (s *WorkspaceStore) ListUserMemberships(ctx context.Context, userID string) ([]*domain.WorkspaceMembership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.WorkspaceMembership
	for _, m := range s.memberships {
		if m.UserID == userID {
			m := m
			out = append(out, &m)
		}
	}
	return out, nil
}

// IdentityStore keeps federated identity links in memory.
type IdentityStore struct {
	mu         sync.RWMutex
	identities map[string]domain.FederatedIdentity
}

// NewIdentityStore creates a new IdentityStore.
func NewIdentityStore() *IdentityStore {
	return &IdentityStore{identities: make(map[string]domain.FederatedIdentity)}
}

func (s *IdentityStore) LinkIdentity(ctx context.Context, identity *domain.FederatedIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := identity.Provider + "/" + identity.Subject
	if _, exists := s.identities[key]; exists {
		return fmt.Errorf("identity %s already linked", key)
	}
	s.identities[key] = *identity
	return nil
}

func (s *IdentityStore) GetByProviderSubject(ctx context.Context, provider, subject string) (*domain.FederatedIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	identity, ok := s.identities[provider+"/"+subject]
	if !ok {
		return nil, serrors.ErrNotFound
	}
	return &identity, nil
}

func (s *IdentityStore) ListUserIdentities(ctx context.Context, userID string) ([]*domain.FederatedIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.FederatedIdentity
	for _, identity := range s.identities {
		if identity.UserID == userID {
			identity := identity
			out = append(out, &identity)
		}
	}
	return out, nil
}
