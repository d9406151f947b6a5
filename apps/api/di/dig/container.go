package dig_container

import (
	"context"
	"fmt"
	"log"
	"os"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"go.uber.org/dig"

	echoapi "github.com/dadanisme/shule/apps/api/echo"
	"github.com/dadanisme/shule/core"
	"github.com/dadanisme/shule/core/grading"
	"github.com/dadanisme/shule/core/identity"
	emailsvc "github.com/dadanisme/shule/services/email"
	logsvc "github.com/dadanisme/shule/services/logger"
	inmemdoc "github.com/dadanisme/shule/storage/document/inmem"
	mongodoc "github.com/dadanisme/shule/storage/document/mongo"
	pgdoc "github.com/dadanisme/shule/storage/document/postgres"
)

// StoreCleanup releases the document store's connections.
type StoreCleanup func()

func newLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newStore(conf *core.Config) (grading.Repository, identity.Repository, StoreCleanup, error) {
	switch conf.Document.Engine {
	case "mongo":
		db, err := mongodoc.Open(context.Background(), conf)
		if err != nil {
			return nil, nil, nil, err
		}
		cleanup := func() { _ = db.Client().Disconnect(context.Background()) }
		return mongodoc.NewGradingRepository(db), mongodoc.NewIdentityRepository(db), cleanup, nil

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

func newMailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug {
		return emailsvc.NewConsoleService(conf)
	}
	return emailsvc.NewSendgridService(logger, conf)
}

func newGradingService(repo grading.Repository, logger core.Logger, conf *core.Config) *grading.Service {
	return grading.NewService(repo, logger, conf.Aggregator)
}

func newValidator() (*validator.Validate, ut.Translator) {
	return core.NewValidator()
}

func newServer(
	conf *core.Config,
	logger core.Logger,
	identitySvc *identity.Service,
	gradingSvc *grading.Service,
	validate *validator.Validate,
	translator ut.Translator,
) *echoapi.Server {
	return echoapi.NewServer(echoapi.ServerDeps{
		Conf:        conf,
		Logger:      logger,
		IdentitySvc: identitySvc,
		GradingSvc:  gradingSvc,
		Validate:    validate,
		Translator:  translator,
	})
}

func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newStore))
	must(c.Provide(newMailService))
	must(c.Provide(newGradingService))
	must(c.Provide(identity.NewService))
	must(c.Provide(newValidator))
	must(c.Provide(newServer))

	return c
}

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
