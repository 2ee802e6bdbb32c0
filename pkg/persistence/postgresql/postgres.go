// Package postgresql provides the PostgreSQL persistence implementation.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // postgres driver

	"github.com/mstairs/flowline/pkg/persistence"
	"github.com/mstairs/flowline/pkg/persistence/sqlbase"
)

// Persistence implements persistence.Persistence over PostgreSQL. The
// compare-and-set operations (execution claim, schedule fence, variable
// upsert) are single-statement so they hold across engine instances.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger

	workflows     *WorkflowRepository
	executions    *ExecutionRepository
	schedules     *ScheduleRepository
	webhooks      *WebhookRepository
	subscriptions *SubscriptionRepository
	variables     *VariableRepository
}

// NewPersistence opens the database, runs migrations, and wires the
// repositories.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	if err := database.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())
	if err := migrationManager.RunMigrations(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:            database,
		logger:        logger,
		workflows:     &WorkflowRepository{db: database},
		executions:    &ExecutionRepository{db: database},
		schedules:     &ScheduleRepository{db: database},
		webhooks:      &WebhookRepository{db: database},
		subscriptions: &SubscriptionRepository{db: database},
		variables:     &VariableRepository{db: database},
	}, nil
}

func (p *Persistence) Workflows() persistence.WorkflowRepository { return p.workflows }

func (p *Persistence) Executions() persistence.ExecutionRepository { return p.executions }

func (p *Persistence) Schedules() persistence.ScheduleRepository { return p.schedules }

func (p *Persistence) Webhooks() persistence.WebhookRepository { return p.webhooks }

func (p *Persistence) Subscriptions() persistence.SubscriptionRepository { return p.subscriptions }

func (p *Persistence) Variables() persistence.VariableRepository { return p.variables }

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}
