// Package dispatch bounds how many gradient invocations run simultaneously.
//
// Each unit of work is a blocking call to an external program that owns
// CoresPerInvocation cores exclusively, so the pool width is the integer
// quotient of the global core budget. The workload is embarrassingly parallel
// by construction: invocations share no mutable state and no ordering. A
// failed invocation does not cancel siblings already in flight; the batch is
// failed after it drains.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/ilcpm/numhess/internal/log"
	"github.com/ilcpm/numhess/internal/qcprog"
)

var (
	// ErrResourceDiscovery reports an indeterminate host core count with no
	// caller override. Silently defaulting to one worker would hide a
	// configuration bug as underutilization.
	ErrResourceDiscovery = errors.New("cannot determine total core count")

	// ErrBudget reports an inconsistent resource budget, e.g. more cores
	// per invocation than the machine has. Raised before any dispatch.
	ErrBudget = errors.New("invalid resource budget")
)

// Budget is the resource envelope of one Hessian computation.
type Budget struct {
	// CoresPerInvocation is the core count each external invocation is
	// told to use exclusively.
	CoresPerInvocation int

	// TotalCores caps the whole computation. Zero means discover the host
	// core count; a nonzero value is a caller override for shared or
	// queued machines.
	TotalCores int
}

// DiscoverCores returns the host's reported core count, or 0 when it cannot
// be determined.
func DiscoverCores() int {
	return runtime.NumCPU()
}

// Resolve validates the budget against the discovered host core count and
// fills in TotalCores. discover is injectable for tests; pass DiscoverCores.
func (b Budget) Resolve(discover func() int) (Budget, error) {
	if b.CoresPerInvocation < 1 {
		return b, fmt.Errorf("%w: cores per invocation must be positive, got %d", ErrBudget, b.CoresPerInvocation)
	}

	discovered := 0
	if discover != nil {
		discovered = discover()
	}
	switch {
	case b.TotalCores > 0 && discovered > 0:
		if b.TotalCores > discovered {
			return b, fmt.Errorf("%w: total core override %d exceeds the %d cores reported by the host",
				ErrBudget, b.TotalCores, discovered)
		}
	case b.TotalCores > 0:
		log.Warn("host core count indeterminate, trusting caller override", "total_cores", b.TotalCores)
	case discovered > 0:
		b.TotalCores = discovered
	default:
		return b, ErrResourceDiscovery
	}

	if b.CoresPerInvocation > b.TotalCores {
		return b, fmt.Errorf("%w: %d cores per invocation exceed the total budget of %d",
			ErrBudget, b.CoresPerInvocation, b.TotalCores)
	}
	return b, nil
}

// MaxInFlight returns the worker pool width: floor(total/perInvocation),
// minimum 1.
func (b Budget) MaxInFlight() int {
	if b.CoresPerInvocation < 1 || b.TotalCores < 1 {
		return 1
	}
	n := b.TotalCores / b.CoresPerInvocation
	if n < 1 {
		n = 1
	}
	return n
}

// Pool runs batches of gradient invocations with bounded concurrency.
type Pool struct {
	maxInFlight int
}

// NewPool sizes a pool from a resolved budget.
func NewPool(b Budget) *Pool {
	return &Pool{maxInFlight: b.MaxInFlight()}
}

// Run dispatches every request through invoke, at most maxInFlight at a
// time, and returns the gradients in request order (attribution is by index,
// not completion order). All requests are attempted even when one fails; the
// first failure by request order is returned after the batch drains, since
// the reconstruction requires the full gradient set.
func (p *Pool) Run(ctx context.Context, reqs []qcprog.Request, invoke func(context.Context, qcprog.Request) (qcprog.Gradient, error)) ([]qcprog.Gradient, error) {
	logger := log.WithComponent("dispatch")
	logger.Info("dispatching batch", "requests", len(reqs), "max_in_flight", p.maxInFlight)

	results := make([]qcprog.Gradient, len(reqs))
	errs := make([]error, len(reqs))

	sem := make(chan struct{}, p.maxInFlight)
	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(slot int, req qcprog.Request) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			// A cancelled context stops queued work; in-flight
			// invocations run to completion inside invoke.
			if err := ctx.Err(); err != nil {
				errs[slot] = err
				return
			}
			grad, err := invoke(ctx, req)
			if err != nil {
				logger.Error("invocation failed", "index", req.Index, "error", err)
				errs[slot] = err
				return
			}
			results[slot] = grad
		}(i, req)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("gradient %d: %w", reqs[i].Index, err)
		}
	}
	logger.Info("batch complete", "requests", len(reqs))
	return results, nil
}
