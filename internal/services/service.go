// Package services runs the receiver's periodic background work: idle-session
// cleanup and persistence of completed transfers.
package services

import (
	"sort"
	"sync"
)

// Service defines a background service with status and on-demand actions.
type Service interface {
	Name() string
	Status() (any, error)
	Actions() map[string]Action
}

// Action executes a service command.
type Action func() (string, error)

// ServiceRegistry stores services by name.
type ServiceRegistry struct {
	repo map[string]Service
	mu   sync.RWMutex
}

func NewServiceRegistry() *ServiceRegistry {
	return &ServiceRegistry{
		repo: make(map[string]Service),
	}
}

// Register adds a service to the registry by name.
func (sr *ServiceRegistry) Register(p Service) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.repo[p.Name()] = p
}

// All returns a snapshot of all registered services.
func (sr *ServiceRegistry) All() map[string]Service {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	out := make(map[string]Service, len(sr.repo))
	for name, svc := range sr.repo {
		out[name] = svc
	}
	return out
}

// Names returns registered service names in sorted order.
func (sr *ServiceRegistry) Names() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	out := make([]string, 0, len(sr.repo))
	for name := range sr.repo {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (sr *ServiceRegistry) Get(name string) (Service, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	p, ok := sr.repo[name]
	return p, ok
}
