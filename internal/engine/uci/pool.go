package uci

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
)

type PoolConfig struct {
	BinaryPath string
	Options    map[string]string
	Capacity   int
}

// Pool recycles engine sessions for one fixed binary/options combination.
// Broken sessions are discarded; healthy ones go back on the idle channel.
type Pool struct {
	binaryPath string
	options    map[string]string
	capacity   int

	mu    sync.Mutex
	total int
	idle  chan *Session
}

var errPoolAtCapacity = errors.New("session pool at capacity")

func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.BinaryPath == "" {
		return nil, fmt.Errorf("binary path required")
	}
	if _, err := os.Stat(cfg.BinaryPath); err != nil {
		return nil, fmt.Errorf("engine binary check: %w", err)
	}
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = 1
	}
	return &Pool{
		binaryPath: cfg.BinaryPath,
		options:    cfg.Options,
		capacity:   capacity,
		idle:       make(chan *Session, capacity),
	}, nil
}

func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	for {
		select {
		case session := <-p.idle:
			if session == nil {
				continue
			}
			if err := session.EnsureReady(ctx); err != nil {
				p.discard(session)
				continue
			}
			return session, nil
		default:
		}

		session, err := p.create(ctx)
		if err == nil {
			return session, nil
		}
		if !errors.Is(err, errPoolAtCapacity) {
			return nil, err
		}

		select {
		case session := <-p.idle:
			if session == nil {
				continue
			}
			if err := session.EnsureReady(ctx); err != nil {
				p.discard(session)
				continue
			}
			return session, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Release returns a session to the pool. A non-nil err marks the session
// broken and destroys it.
func (p *Pool) Release(session *Session, err error) {
	if session == nil {
		return
	}
	if err != nil {
		p.discard(session)
		return
	}
	select {
	case p.idle <- session:
	default:
		p.discard(session)
	}
}

func (p *Pool) Close() error {
	var errs []error
	for {
		select {
		case session := <-p.idle:
			if session == nil {
				continue
			}
			if err := session.Close(); err != nil {
				errs = append(errs, err)
			}
			p.decrement()
		default:
			if len(errs) > 0 {
				return errors.Join(errs...)
			}
			return nil
		}
	}
}

func (p *Pool) create(ctx context.Context) (*Session, error) {
	p.mu.Lock()
	if p.total >= p.capacity {
		p.mu.Unlock()
		return nil, errPoolAtCapacity
	}
	p.total++
	p.mu.Unlock()

	session, err := NewSession(ctx, p.binaryPath, p.options)
	if err != nil {
		p.decrement()
		return nil, err
	}
	return session, nil
}

func (p *Pool) discard(session *Session) {
	if session != nil {
		_ = session.Close()
	}
	p.decrement()
}

func (p *Pool) decrement() {
	p.mu.Lock()
	if p.total > 0 {
		p.total--
	}
	p.mu.Unlock()
}
