package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Engine is a single analysis process managed by the pool
type Engine interface {
	Analyzer
	Close() error
}

// Factory starts a new engine process
type Factory func(ctx context.Context) (Engine, error)

// UCIFactory returns a Factory starting the UCI engine at enginePath
func UCIFactory(enginePath string, logger *zap.Logger) Factory {
	return func(ctx context.Context) (Engine, error) {
		return NewUCIEngine(ctx, enginePath, logger)
	}
}

// Pool manages multiple chess engines and implements Analyzer by lending one
// engine per request
type Pool struct {
	engines    []Engine
	available  chan Engine
	maxEngines int
	factory    Factory
	closed     bool
	mu         sync.RWMutex
	logger     *zap.Logger
}

// NewEnginePool creates a new engine pool
func NewEnginePool(factory Factory, maxEngines int, logger *zap.Logger) *Pool {
	if maxEngines < 1 {
		maxEngines = 1
	}
	return &Pool{
		available:  make(chan Engine, maxEngines),
		maxEngines: maxEngines,
		factory:    factory,
		logger:     logger,
	}
}

// Initialize creates the initial pool of engines
func (p *Pool) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := len(p.engines); i < p.maxEngines; i++ {
		engine, err := p.factory(ctx)
		if err != nil {
			return fmt.Errorf("starting engine %d: %w", i, err)
		}

		p.engines = append(p.engines, engine)
		p.available <- engine
	}

	p.logger.Info("Engine pool initialized", zap.Int("count", len(p.engines)))
	return nil
}

// Size returns the number of engines owned by the pool
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.engines)
}

// Acquire takes an available engine, waiting until ctx is done
func (p *Pool) Acquire(ctx context.Context) (Engine, error) {
	p.mu.RLock()
	empty := len(p.engines) == 0 || p.closed
	p.mu.RUnlock()
	if empty {
		return nil, ErrEngineUnavailable
	}

	select {
	case engine, ok := <-p.available:
		if !ok {
			return nil, ErrEngineUnavailable
		}
		return engine, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: no engine available: %v", ErrEngineTimeout, ctx.Err())
	}
}

// Release returns an engine to the pool
func (p *Pool) Release(engine Engine) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return
	}

	// Non-blocking send to available channel
	select {
	case p.available <- engine:
	default:
		p.logger.Warn("Failed to return engine to pool, channel full")
	}
}

// BestMove runs one search on a pooled engine. An engine that died during
// the search is replaced.
func (p *Pool) BestMove(ctx context.Context, fen string, s Settings) (string, error) {
	engine, err := p.Acquire(ctx)
	if err != nil {
		return "", err
	}

	move, err := engine.BestMove(ctx, fen, s)
	if errors.Is(err, ErrEngineUnavailable) {
		p.replace(ctx, engine)
		return "", err
	}

	p.Release(engine)
	return move, err
}

func (p *Pool) replace(ctx context.Context, dead Engine) {
	_ = dead.Close()

	fresh, err := p.factory(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()

	for i, e := range p.engines {
		if e == dead {
			p.engines = append(p.engines[:i], p.engines[i+1:]...)
			break
		}
	}

	if err != nil {
		p.logger.Error("Error restarting engine", zap.Error(err))
		return
	}
	if p.closed {
		_ = fresh.Close()
		return
	}

	p.engines = append(p.engines, fresh)
	p.available <- fresh
	p.logger.Info("Engine restarted", zap.Int("count", len(p.engines)))
}

// Shutdown closes all engines in the pool
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true

	for i, engine := range p.engines {
		if err := engine.Close(); err != nil {
			p.logger.Error("Error closing engine", zap.Int("engine", i), zap.Error(err))
		}
	}

	close(p.available)
	p.engines = nil

	p.logger.Info("Engine pool shut down")
}
