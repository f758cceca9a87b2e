package dispatch

import (
	"math/rand/v2"
	"sync"

	"flightoracle/internal/models"
)

// Generator chooses the status an oracle reports
type Generator interface {
	Next() models.StatusCode
}

// RandomGenerator draws uniformly from the reportable statuses
type RandomGenerator struct{}

// Next implements Generator
func (RandomGenerator) Next() models.StatusCode {
	return models.ReportableStatuses[rand.IntN(len(models.ReportableStatuses))]
}

// FixedGenerator always reports the same status
type FixedGenerator models.StatusCode

// Next implements Generator
func (g FixedGenerator) Next() models.StatusCode {
	return models.StatusCode(g)
}

// SequenceGenerator cycles through a fixed list of statuses
type SequenceGenerator struct {
	mtx   sync.Mutex
	codes []models.StatusCode
	next  int
}

// NewSequenceGenerator returns a generator cycling through codes
func NewSequenceGenerator(codes ...models.StatusCode) *SequenceGenerator {
	return &SequenceGenerator{codes: codes}
}

// Next implements Generator
func (g *SequenceGenerator) Next() models.StatusCode {
	g.mtx.Lock()
	defer g.mtx.Unlock()
	if len(g.codes) == 0 {
		return models.StatusUnknown
	}
	c := g.codes[g.next%len(g.codes)]
	g.next++
	return c
}
