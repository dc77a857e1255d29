// Package postgresql provides PostgreSQL checkpoint persistence.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	// Registers the "postgres" database/sql driver.
	_ "github.com/lib/pq"

	"github.com/montageio/montage/pkg/models"
	"github.com/montageio/montage/pkg/persistence/sqlbase"
)

// Persistence implements checkpoint storage on PostgreSQL.
type Persistence struct {
	db             *sql.DB
	logger         *slog.Logger
	checkpointRepo *CheckpointRepository
}

// NewPersistence connects to PostgreSQL and runs pending schema migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:             database,
		logger:         logger,
		checkpointRepo: NewCheckpointRepository(database, logger),
	}, nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) SaveCheckpoint(ctx context.Context, checkpoint *models.Checkpoint) error {
	return p.checkpointRepo.Save(ctx, checkpoint)
}

func (p *Persistence) CheckpointByID(ctx context.Context, id string) (*models.Checkpoint, error) {
	return p.checkpointRepo.ByID(ctx, id)
}

func (p *Persistence) CheckpointsForWorkflow(ctx context.Context, workflowID string) ([]*models.Checkpoint, error) {
	return p.checkpointRepo.ForWorkflow(ctx, workflowID)
}

func (p *Persistence) DeleteCheckpoint(ctx context.Context, id string) error {
	return p.checkpointRepo.Delete(ctx, id)
}

func (p *Persistence) DeleteCheckpointsForWorkflow(ctx context.Context, workflowID string) error {
	return p.checkpointRepo.DeleteForWorkflow(ctx, workflowID)
}
