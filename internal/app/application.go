// Package app wires the fundwatch services to their stores and manages
// their lifecycle.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/civicwatch/fundwatch/internal/app/services/comments"
	"github.com/civicwatch/fundwatch/internal/app/services/reports"
	"github.com/civicwatch/fundwatch/internal/app/services/transactions"
	"github.com/civicwatch/fundwatch/internal/app/services/users"
	"github.com/civicwatch/fundwatch/internal/app/storage"
	"github.com/civicwatch/fundwatch/internal/app/storage/memory"
	"github.com/civicwatch/fundwatch/internal/app/system"
	"github.com/civicwatch/fundwatch/internal/auth"
	"github.com/civicwatch/fundwatch/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Users        storage.UserStore
	Transactions storage.TransactionStore
	Reports      storage.ReportStore
	Comments     storage.CommentStore
}

// Options carries cross-cutting construction parameters.
type Options struct {
	TokenSecret    []byte
	TokenTTL       time.Duration
	AnalyticsCache transactions.AnalyticsCache
}

// Application ties the domain services together and manages their
// lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Tokens       *auth.Issuer
	Users        *users.Service
	Transactions *transactions.Service
	Reports      *reports.Service
	Comments     *comments.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if len(opts.TokenSecret) == 0 {
		return nil, fmt.Errorf("token secret is required")
	}

	mem := memory.New()
	if stores.Users == nil {
		stores.Users = mem
	}
	if stores.Transactions == nil {
		stores.Transactions = mem
	}
	if stores.Reports == nil {
		stores.Reports = mem
	}
	if stores.Comments == nil {
		stores.Comments = mem
	}

	manager := system.NewManager()
	issuer := auth.NewIssuer(opts.TokenSecret, opts.TokenTTL, "fundwatch")

	userService := users.New(stores.Users, issuer, log)
	txService := transactions.New(stores.Transactions, opts.AnalyticsCache, log)
	reportService := reports.New(stores.Reports, stores.Transactions, log)
	commentService := comments.New(stores.Comments, stores.Transactions, log)

	for _, name := range []string{"users", "transactions", "reports", "comments"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}

	return &Application{
		manager:      manager,
		log:          log,
		Tokens:       issuer,
		Users:        userService,
		Transactions: txService,
		Reports:      reportService,
		Comments:     commentService,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before
// Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
