package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/example/modconsole/internal/cases"
)

// StaticClientStore keeps clients in memory. It backs the sqlite and memory
// deployments, where there is no oauth_clients table.
type StaticClientStore struct {
	mu      sync.RWMutex
	clients map[string]Client
}

func NewStaticClientStore(clients ...Client) *StaticClientStore {
	s := &StaticClientStore{clients: make(map[string]Client, len(clients))}
	for _, c := range clients {
		s.Put(c)
	}
	return s
}

func (s *StaticClientStore) Put(c Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.Scopes = append([]string(nil), c.Scopes...)
	s.clients[c.ID] = c
}

func (s *StaticClientStore) GetClient(_ context.Context, clientID string) (*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[clientID]
	if !ok {
		return nil, ErrClientNotFound
	}
	c.Scopes = append([]string(nil), c.Scopes...)
	return &c, nil
}

// ParseStaticClients reads a comma separated list of id:secret:role triples,
// e.g. "alice:s3cret:moderator,root:t0psecret:admin". Secrets are hashed with
// bcrypt on load; every client gets the read and write case scopes.
func ParseStaticClients(raw string) (*StaticClientStore, error) {
	store := NewStaticClientStore()
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ":")
		if len(fields) != 3 || fields[0] == "" || fields[1] == "" {
			return nil, fmt.Errorf("invalid client entry %q: want id:secret:role", part)
		}
		role := cases.Role(fields[2])
		if !role.Valid() {
			return nil, fmt.Errorf("invalid client entry %q: unknown role %q", fields[0], fields[2])
		}
		hash, err := HashClientSecret(fields[1])
		if err != nil {
			return nil, fmt.Errorf("hash secret for %q: %w", fields[0], err)
		}
		store.Put(Client{
			ID:         fields[0],
			SecretHash: hash,
			Scopes:     []string{ScopeCasesRead, ScopeCasesWrite},
			Role:       role,
		})
	}
	return store, nil
}
