package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/diacheck/internal/dbx"
	"github.com/dmitrijs2005/diacheck/internal/server/repositories/healthmetrics"
	"github.com/dmitrijs2005/diacheck/internal/server/repositories/predictions"
	"github.com/dmitrijs2005/diacheck/internal/server/repositories/profiles"
	"github.com/dmitrijs2005/diacheck/internal/server/repositories/sessions"
	"github.com/dmitrijs2005/diacheck/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to either the pool or a
// transaction, so services can compose several stores inside dbx.WithTx.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Sessions(db dbx.DBTX) sessions.Repository
	Profiles(db dbx.DBTX) profiles.Repository
	Predictions(db dbx.DBTX) predictions.Repository
	HealthMetrics(db dbx.DBTX) healthmetrics.Repository
}
