package main

import (
	"errors"

	"github.com/trezcool/goose"

	appfs "github.com/dadanisme/shule/fs"
)

var gooseRunFunc = goose.RunFS // mockable

var errMigrateEngine = errors.New("migrate requires the postgres engine")

func (cli *commandLine) migrate(args []string) error {
	if cli.db == nil {
		return errMigrateEngine
	}
	arguments := make([]string, 0)
	if len(args) > 1 {
		arguments = append(arguments, args[1:]...)
	}
	return gooseRunFunc(args[0], cli.db.DB, appfs.FS, "migrations", arguments...)
}
