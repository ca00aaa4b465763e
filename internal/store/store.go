// Package store persists LeadRecords. The redis implementation is the
// production backend; the memory implementation backs tests and the
// no-redis fallback mode.
package store

import (
	"context"
	"errors"

	"github.com/leadpilot/api/internal/model"
)

// ErrNotFound is returned when no lead exists under the requested ID.
var ErrNotFound = errors.New("lead not found")

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Stage  model.Stage
	Source model.Source
}

// Matches reports whether a record passes the filter.
func (f Filter) Matches(l *model.LeadRecord) bool {
	if f.Stage != "" && l.Stage != f.Stage {
		return false
	}
	if f.Source != "" && l.Source != f.Source {
		return false
	}
	return true
}

// LeadStore is the record store boundary. Implementations are strongly
// consistent per record and serialize their own critical sections; callers
// get read-modify-write semantics with last-write-wins at the field level.
type LeadStore interface {
	Get(ctx context.Context, id string) (*model.LeadRecord, error)
	List(ctx context.Context, f Filter) ([]*model.LeadRecord, error)
	Upsert(ctx context.Context, lead *model.LeadRecord) error
	Delete(ctx context.Context, id string) error
}
