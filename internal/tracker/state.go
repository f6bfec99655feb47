package tracker

import "context"

// StateTx is the view of local state available inside a transaction.
type StateTx interface {
	// Get returns the record stored under Key(name), or nil if there is none.
	Get(ctx context.Context, name string) (*CompanyRecord, error)
	// Upsert replaces the stored record for rec.Key() and appends any notes
	// not stored yet.
	Upsert(ctx context.Context, rec CompanyRecord) error
	List(ctx context.Context) ([]CompanyRecord, error)
}

// LocalState is the on-disk company store.
//
// Update runs fn while holding the store's exclusive lock and commits only if
// fn returns nil. View runs fn read-only.
type LocalState interface {
	Update(ctx context.Context, fn func(tx StateTx) error) error
	View(ctx context.Context, fn func(tx StateTx) error) error
}
