package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dadanisme/shule/core"
	"github.com/dadanisme/shule/core/grading"
	"github.com/dadanisme/shule/core/identity"
	"github.com/dadanisme/shule/core/trigger"
	emailsvc "github.com/dadanisme/shule/services/email"
	logsvc "github.com/dadanisme/shule/services/logger"
	inmemdoc "github.com/dadanisme/shule/storage/document/inmem"
	mongodoc "github.com/dadanisme/shule/storage/document/mongo"
	pgdoc "github.com/dadanisme/shule/storage/document/postgres"
)

// The worker is the trigger runtime: it tails the document store's change
// feed and runs every aggregation handler against it.
func main() {
	conf, err := core.NewConfig()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "WORKER : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)

	if err := run(conf, logger); err != nil {
		logger.Fatal(fmt.Sprintf("worker stopped: %v", err), err)
	}
}

func run(conf *core.Config, logger core.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gradingRepo, identityRepo, src, cleanup, err := setUpStore(ctx, conf, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf)
	} else {
		mailSvc = emailsvc.NewSendgridService(logger, conf)
	}

	gradingSvc := grading.NewService(gradingRepo, logger, conf.Aggregator)
	identitySvc := identity.NewService(identityRepo, mailSvc, logger, conf)

	dispatcher := trigger.NewDispatcher(logger, conf.Aggregator)
	dispatcher.Register(gradingSvc.Bindings()...)
	dispatcher.Register(identitySvc.Bindings()...)

	logger.Info(fmt.Sprintf("worker starting : engine %q version %q", conf.Document.Engine, conf.Build))
	defer logger.Info("worker stopped")

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-shutdown
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))
		cancel()
	}()

	return dispatcher.Run(ctx, src)
}

func setUpStore(ctx context.Context, conf *core.Config, logger core.Logger) (
	grading.Repository, identity.Repository, trigger.Source, func(), error,
) {
	switch conf.Document.Engine {
	case "mongo":
		db, err := mongodoc.Open(ctx, conf)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		cleanup := func() { _ = db.Client().Disconnect(context.Background()) }
		return mongodoc.NewGradingRepository(db), mongodoc.NewIdentityRepository(db),
			mongodoc.NewSource(db, logger), cleanup, nil

	case "postgres":
		if err := pgdoc.CreateIfNotExist(conf); err != nil {
			return nil, nil, nil, nil, err
		}
		db, err := pgdoc.Open(conf)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		if err = pgdoc.Migrate(db); err != nil {
			_ = db.Close()
			return nil, nil, nil, nil, err
		}
		cleanup := func() { _ = db.Close() }
		return pgdoc.NewGradingRepository(db), pgdoc.NewIdentityRepository(db),
			pgdoc.NewSource(conf, logger), cleanup, nil

	case "inmem":
		db, err := inmemdoc.Open()
		if err != nil {
			return nil, nil, nil, nil, err
		}
		return inmemdoc.NewGradingRepository(db), inmemdoc.NewIdentityRepository(db),
			db, func() {}, nil
	}
	return nil, nil, nil, nil, fmt.Errorf("unknown document engine %q", conf.Document.Engine)
}
