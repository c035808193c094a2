package registration

import (
	"context"
)

// Store is the storage collaborator. Errors are classified with the
// platform/db sentinels: db.ErrConflict for lost races, db.ErrUnavailable
// when the store cannot be reached, db.ErrNotFound for missing rows.
type Store interface {
	// RunInTx runs fn in one transaction. NextSequence and InsertPatient
	// calls made with the ctx passed to fn take part in it.
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
	// NextSequence atomically increments and returns the counter for p. The
	// counter row stays locked until the transaction ends, and a rollback
	// releases the number.
	NextSequence(ctx context.Context, p Period) (int, error)
	InsertPatient(ctx context.Context, row PatientRow) error
	GetPatient(ctx context.Context, id PatientIdentifier) (*PatientRow, error)
	ListPatients(ctx context.Context, limit, offset int) ([]PatientRow, int, error)
	Ping(ctx context.Context) error
}
