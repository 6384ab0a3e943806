// Package repomanager vends repositories bound to a database handle, so a
// service can use the same repositories over a pool or inside a transaction.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/leadcrm/internal/dbx"
	"github.com/dmitrijs2005/leadcrm/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/leadcrm/internal/server/repositories/users"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
}
