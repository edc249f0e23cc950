package headless

import (
	"context"
	"fmt"

	"github.com/yabo083/Qidian-Weekly-Recommendation-List/internal/crawl"
	"github.com/yabo083/Qidian-Weekly-Recommendation-List/internal/ranking"
)

// Unavailable stands in for a browser mechanism that is disabled in the
// current deployment. Open always fails with ranking.ErrMechanismUnavailable.
type Unavailable struct {
	kind   crawl.MechanismKind
	reason string
}

// NewUnavailable creates an Unavailable mechanism of the given kind.
func NewUnavailable(kind crawl.MechanismKind, reason string) *Unavailable {
	return &Unavailable{kind: kind, reason: reason}
}

// Kind implements crawl.Mechanism.
func (u *Unavailable) Kind() crawl.MechanismKind {
	return u.kind
}

// Open implements crawl.Mechanism.
func (u *Unavailable) Open(context.Context, crawl.Acquisition) (crawl.Session, error) {
	return nil, fmt.Errorf("%s: %s: %w", u.kind, u.reason, ranking.ErrMechanismUnavailable)
}
