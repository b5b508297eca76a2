// Package controller implements a CLI controller that opens the key/value
// database of the node and injects it.
package controller

import (
	"path/filepath"

	"go.dedis.ch/keygen/cli"
	"go.dedis.ch/keygen/cli/node"
	"go.dedis.ch/keygen/core/store/kv"
	"golang.org/x/xerrors"
)

// DatabaseFile is the name of the database file in the configuration folder.
const DatabaseFile = "keygen.db"

// minimal is an initializer that opens the database when the node starts and
// closes it when the node stops.
//
// - implements node.Initializer
type minimal struct{}

// NewMinimal returns a new initializer for the database.
func NewMinimal() node.Initializer {
	return minimal{}
}

// SetCommands implements node.Initializer. It does not register any command.
func (m minimal) SetCommands(builder node.Builder) {}

// OnStart implements node.Initializer. It opens the database in the
// configuration folder and injects it.
func (m minimal) OnStart(flags cli.Flags, inj node.Injector) error {
	db, err := kv.New(filepath.Join(flags.Path("config"), DatabaseFile))
	if err != nil {
		return xerrors.Errorf("db: %v", err)
	}

	inj.Inject(db)

	return nil
}

// OnStop implements node.Initializer. It closes the database.
func (m minimal) OnStop(inj node.Injector) error {
	var db kv.DB
	err := inj.Resolve(&db)
	if err != nil {
		return xerrors.Errorf("injector: %v", err)
	}

	err = db.Close()
	if err != nil {
		return xerrors.Errorf("while closing db: %v", err)
	}

	return nil
}
