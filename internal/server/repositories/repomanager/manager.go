// Package repomanager wires repositories to a database handle. Factory
// methods take a dbx.DBTX so the same repository code runs against the pool
// or inside a transaction.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/mlenoir/authvault/internal/dbx"
	"github.com/mlenoir/authvault/internal/server/repositories/sessionsecrets"
	"github.com/mlenoir/authvault/internal/server/repositories/users"
)

// RepositoryManager hands out repositories bound to a DB handle.
type RepositoryManager interface {
	Users(db dbx.DBTX) users.Repository
	SessionSecrets(db dbx.DBTX) sessionsecrets.Repository
	RunMigrations(ctx context.Context, db *sql.DB) error
}
