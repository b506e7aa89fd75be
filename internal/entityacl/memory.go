package entityacl

import (
	"context"
	"sync"
)

// MemoryGraph is an in-process GraphProvider for deployments without a
// database and for tests.
type MemoryGraph struct {
	mu   sync.RWMutex
	acls map[string]*Acl
}

// NewMemoryGraph creates an empty in-memory graph.
func NewMemoryGraph() *MemoryGraph {
	return &MemoryGraph{acls: make(map[string]*Acl)}
}

// Put stores the ACL for its resource, replacing any existing one.
func (g *MemoryGraph) Put(acl Acl) {
	g.mu.Lock()
	defer g.mu.Unlock()
	stored := acl
	stored.Entries = append([]Entry(nil), acl.Entries...)
	g.acls[acl.ResourceID] = &stored
}

// Remove deletes the resource's ACL.
func (g *MemoryGraph) Remove(resourceID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.acls, resourceID)
}

func (g *MemoryGraph) Acl(_ context.Context, resourceID string) (*Acl, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	acl, ok := g.acls[resourceID]
	if !ok {
		return nil, ErrResourceNotFound
	}
	cp := *acl
	cp.Entries = append([]Entry(nil), acl.Entries...)
	return &cp, nil
}

func (g *MemoryGraph) Parent(_ context.Context, resourceID string) (string, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	acl, ok := g.acls[resourceID]
	if !ok {
		return "", false, ErrResourceNotFound
	}
	if acl.ParentID == nil {
		return "", false, nil
	}
	return *acl.ParentID, true, nil
}

func (g *MemoryGraph) Owner(_ context.Context, resourceID string) (string, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	acl, ok := g.acls[resourceID]
	if !ok {
		return "", false, ErrResourceNotFound
	}
	if acl.OwnerID == nil {
		return "", false, nil
	}
	return *acl.OwnerID, true, nil
}

// SetParent updates the parent edge in place. Callers must run the cycle
// check first, same contract as the SQL store.
func (g *MemoryGraph) SetParent(resourceID string, parentID *string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	acl, ok := g.acls[resourceID]
	if !ok {
		return false
	}
	acl.ParentID = parentID
	return true
}
