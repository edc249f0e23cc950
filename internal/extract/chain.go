// Package extract mines book fields and ranking ids from parsed pages whose
// markup drifts between deployments of the target site. Every field is located
// by an ordered chain of strategies; the first strategy that produces a value wins.
package extract

import (
	"github.com/PuerkitoBio/goquery"
)

// Strategy attempts to mine one value from a parsed page.
// Returning false means "no result"; the chain moves on.
type Strategy[T any] interface {
	Name() string
	Attempt(doc *goquery.Document) (T, bool)
}

// Chain evaluates strategies in priority order.
type Chain[T any] []Strategy[T]

// First returns the value of the first strategy that produces one, together
// with that strategy's name.
func (c Chain[T]) First(doc *goquery.Document) (T, string, bool) {
	var zero T
	if doc == nil {
		return zero, "", false
	}
	for _, s := range c {
		if v, ok := attempt(s, doc); ok {
			return v, s.Name(), true
		}
	}
	return zero, "", false
}

// attempt runs a single strategy. A panic inside a strategy counts as a miss.
func attempt[T any](s Strategy[T], doc *goquery.Document) (value T, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			value, ok = zero, false
		}
	}()
	return s.Attempt(doc)
}
