package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jmoiron/sqlx"

	"github.com/dadanisme/shule/core"
	"github.com/dadanisme/shule/core/identity"
	emailsvc "github.com/dadanisme/shule/services/email"
	logsvc "github.com/dadanisme/shule/services/logger"
	inmemdoc "github.com/dadanisme/shule/storage/document/inmem"
	mongodoc "github.com/dadanisme/shule/storage/document/mongo"
	pgdoc "github.com/dadanisme/shule/storage/document/postgres"
)

var logger *log.Logger

func main() {
	defer os.Exit(0)

	logger = log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)

	conf, err := core.NewConfig()
	errAndDie(err)

	svcLogger := logsvc.NewRollbarLogger(logger, conf)
	svcLogger.Enable(false) // operator CLI; no remote error reporting

	identityRepo, db, err := setUpStore(conf)
	errAndDie(err)
	if db != nil {
		defer db.Close()
	}

	// start CLI
	cli := commandLine{
		conf:        conf,
		identitySvc: identity.NewService(identityRepo, emailsvc.NewConsoleService(conf), svcLogger, conf),
		db:          db,
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Printf("\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}

// setUpStore opens the configured document store. The *sqlx.DB handle is nil
// unless the postgres engine is configured; only migrate needs it.
func setUpStore(conf *core.Config) (identity.Repository, *sqlx.DB, error) {
	switch conf.Document.Engine {
	case "mongo":
		mdb, err := mongodoc.Open(context.Background(), conf)
		if err != nil {
			return nil, nil, err
		}
		return mongodoc.NewIdentityRepository(mdb), nil, nil

	case "postgres":
		if err := pgdoc.CreateIfNotExist(conf); err != nil {
			return nil, nil, err
		}
		db, err := pgdoc.Open(conf)
		if err != nil {
			return nil, nil, err
		}
		return pgdoc.NewIdentityRepository(db), db, nil

	case "inmem":
		db, err := inmemdoc.Open()
		if err != nil {
			return nil, nil, err
		}
		return inmemdoc.NewIdentityRepository(db), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown document engine %q", conf.Document.Engine)
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err)
	}
}
