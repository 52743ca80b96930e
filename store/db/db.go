// Package db selects the concrete database dialect for the store.
package db

import (
	"github.com/pkg/errors"

	"github.com/clankbot/clank/internal/profile"
	"github.com/clankbot/clank/store"
	"github.com/clankbot/clank/store/db/mysql"
	"github.com/clankbot/clank/store/db/sqlite"
)

// NewDBDriver creates the dialect driver named by the profile.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	switch profile.Driver {
	case "sqlite":
		return sqlite.NewDB(profile)
	case "mysql":
		return mysql.NewDB(profile)
	default:
		return nil, errors.Errorf("unknown db driver: %s", profile.Driver)
	}
}
