package profile

import (
	"sync"
)

// Pool holds one Client per person id.
type Pool struct {
	cfg Config

	mu      sync.Mutex
	clients map[string]*Client
	retired map[string]string // rekeyed id -> new id
}

// NewPool creates an empty pool.
func NewPool(cfg Config) *Pool {
	return &Pool{
		cfg:     cfg,
		clients: make(map[string]*Client),
		retired: make(map[string]string),
	}
}

// GetClient returns the client for personID, creating it on first use.
func (p *Pool) GetClient(personID string) *Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[personID]; ok {
		return c
	}
	c := NewClient(p.cfg, personID)
	p.clients[personID] = c
	delete(p.retired, personID)
	return c
}

// Rekey moves the session under from to the id to, keeping its cookies.
// A session can be rekeyed once; rekeying it again returns
// ErrAlreadyRekeyed.
func (p *Pool) Rekey(from, to string) (*Client, error) {
	if from == "" || to == "" {
		return nil, ErrEmptyID
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.clients[from]
	if !ok {
		if _, gone := p.retired[from]; gone {
			return nil, ErrAlreadyRekeyed
		}
		return nil, ErrNoSession
	}
	if c.Rekeyed() {
		return nil, ErrAlreadyRekeyed
	}
	if _, taken := p.clients[to]; taken {
		return nil, ErrIDInUse
	}

	c.rekey(to)
	delete(p.clients, from)
	p.clients[to] = c
	p.retired[from] = to
	return c, nil
}

// Len returns the number of sessions.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}
