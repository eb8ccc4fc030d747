// Package frontier finds the highest repository ID currently assigned by
// the hosting service, and predicts how far it moved since the last
// session so the search starts close to it.
package frontier

import (
	"context"
	"fmt"

	"github.com/poacher-dev/poacher/internal/console"
)

// DefaultStep is the initial stride of the exponential phase.
const DefaultStep int64 = 16

// Prober answers whether an identifier is assigned.
type Prober interface {
	Exists(ctx context.Context, id int64) (bool, error)
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, id int64) (bool, error)

// Exists calls f.
func (f ProberFunc) Exists(ctx context.Context, id int64) (bool, error) {
	return f(ctx, id)
}

// Locate returns the highest existing ID at or above knownLow.
//
// The exponential phase starts at knownLow+hint and moves the upper bound
// forward with a doubling stride until it lands on an unassigned ID, so a
// wrong hint only costs O(log distance) probes. The binary phase then
// narrows [lower, upper) to width one. knownLow is assumed to exist; a
// probe error aborts the search because without a reliable oracle there is
// nothing sensible to return.
func Locate(ctx context.Context, p Prober, knownLow, hint int64, log *console.Logger) (int64, error) {
	if hint < 0 {
		hint = 0
	}

	lower := knownLow
	upper := knownLow + hint
	step := DefaultStep

	log.Log("Starting binary search for latest repo ID, last ID was %d", knownLow)

	for {
		log.Log("trying ID %d", upper)
		ok, err := p.Exists(ctx, upper)
		if err != nil {
			return 0, fmt.Errorf("probing repo ID %d: %w", upper, err)
		}
		if !ok {
			log.Log("ID %d not yet used", upper)
			break
		}
		lower = upper
		upper += step
		step *= 2
	}

	log.Log("Beginning search between %d and %d", lower, upper)

	for lower+1 < upper {
		log.Log("search area size: %d", upper-lower)
		middle := lower + (upper-lower)/2

		ok, err := p.Exists(ctx, middle)
		if err != nil {
			return 0, fmt.Errorf("probing repo ID %d: %w", middle, err)
		}
		if ok {
			lower = middle
		} else {
			upper = middle
		}
	}

	return lower, nil
}

// CountingProber wraps a Prober and counts calls.
type CountingProber struct {
	Prober Prober
	Calls  int
}

// Exists forwards to the wrapped prober.
func (c *CountingProber) Exists(ctx context.Context, id int64) (bool, error) {
	c.Calls++
	return c.Prober.Exists(ctx, id)
}
