package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"time"

	"github.com/dadanisme/shule/core"
	"github.com/dadanisme/shule/core/grading"
	"github.com/dadanisme/shule/core/identity"

	echoapi "github.com/dadanisme/shule/apps/api/echo"
	emailsvc "github.com/dadanisme/shule/services/email"
	logsvc "github.com/dadanisme/shule/services/logger"
	inmemdoc "github.com/dadanisme/shule/storage/document/inmem"
	mongodoc "github.com/dadanisme/shule/storage/document/mongo"
	pgdoc "github.com/dadanisme/shule/storage/document/postgres"
)

const shutdownTimeout = 5 * time.Second

func startManual() {
	// =========================================================================
	// Set up Dependencies

	conf, err := core.NewConfig()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)

	gradingRepo, identityRepo, closeStore, err := setUpStore(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up document store: %v", err), err)
	}
	defer closeStore()

	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf)
	} else {
		mailSvc = emailsvc.NewSendgridService(logger, conf)
	}
	gradingSvc := grading.NewService(gradingRepo, logger, conf.Aggregator)
	identitySvc := identity.NewService(identityRepo, mailSvc, logger, conf)

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	validate, translator := core.NewValidator()

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)

	go func() {
		if err := http.ListenAndServe("localhost:6060", http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:        conf,
			Logger:      logger,
			IdentitySvc: identitySvc,
			GradingSvc:  gradingSvc,
			Validate:    validate,
			Translator:  translator,
		},
	)

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err := <-server.Errors():
		logger.Fatal(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// asking listener to shut down and shed load
		if err := server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Fatal(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

func setUpStore(conf *core.Config) (grading.Repository, identity.Repository, func(), error) {
	switch conf.Document.Engine {
	case "mongo":
		db, err := mongodoc.Open(context.Background(), conf)
		if err != nil {
			return nil, nil, nil, err
		}
		closeStore := func() { _ = db.Client().Disconnect(context.Background()) }
		return mongodoc.NewGradingRepository(db), mongodoc.NewIdentityRepository(db), closeStore, nil

	case "postgres":
		if err := pgdoc.CreateIfNotExist(conf); err != nil {
			return nil, nil, nil, err
		}
		db, err := pgdoc.Open(conf)
		if err != nil {
			return nil, nil, nil, err
		}
		if err = pgdoc.Migrate(db); err != nil {
			_ = db.Close()
			return nil, nil, nil, err
		}
		return pgdoc.NewGradingRepository(db), pgdoc.NewIdentityRepository(db), func() { _ = db.Close() }, nil

	case "inmem":
		db, err := inmemdoc.Open()
		if err != nil {
			return nil, nil, nil, err
		}
		return inmemdoc.NewGradingRepository(db), inmemdoc.NewIdentityRepository(db), func() {}, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown document engine %q", conf.Document.Engine)
}
