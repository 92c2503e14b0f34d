package providers

import (
	"context"
	"errors"
	"strings"
	"sync"

	"seamless/credentials"
	"seamless/models"
	"seamless/repository"
)

// ErrThirdPartyAPI wraps every failure of an outbound provider call.
var ErrThirdPartyAPI = errors.New("third party api error")

type LaunchRequest struct {
	PlayID   string `json:"playID" validate:"required,max=64"`
	Username string `json:"username" validate:"required,max=64"`
	Currency string `json:"currency" validate:"required,len=3,alpha"`
	Language string `json:"language" validate:"omitempty,max=8"`
	GameID   string `json:"gameID" validate:"required,max=64"`
	Device   string `json:"device" validate:"omitempty,oneof=desktop mobile"`
	Host     string `json:"host" validate:"omitempty,url"`
	MemberIP string `json:"memberIP" validate:"omitempty,ip"`
}

type VisualRequest struct {
	PlayID   string `json:"playID" validate:"required,max=64"`
	BetID    string `json:"betID" validate:"required,max=96"`
	Currency string `json:"currency" validate:"required,len=3,alpha"`
}

// Launch is what a provider hands back for a new game session.
type Launch struct {
	URL string
	// SessionToken is set when the provider assigned or was handed a new
	// token for the player.
	SessionToken string
}

type Launcher interface {
	Play(ctx context.Context, req LaunchRequest, player *models.Player, b credentials.Bundle) (Launch, error)
	Visual(ctx context.Context, req VisualRequest, player *models.Player, b credentials.Bundle) (string, error)
}

// Module is everything the integrator surface needs to know about one
// provider.
type Module struct {
	Name        string
	Credentials credentials.Table
	Repo        repository.Repository
	Launcher    Launcher
}

// Registry maps provider names to modules. Names are case-insensitive.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]Module
}

func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]Module)}
}

func (r *Registry) RegisterProvider(m Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[strings.ToLower(m.Name)] = m
}

func (r *Registry) GetProvider(name string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[strings.ToLower(name)]
	return m, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.modules))
	for name := range r.modules {
		out = append(out, name)
	}
	return out
}
