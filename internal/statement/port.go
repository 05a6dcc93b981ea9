package statement

import (
	"context"

	"github.com/google/uuid"

	"github.com/savichev/finparse/internal/generator"
	"github.com/savichev/finparse/internal/ingest"
	"github.com/savichev/finparse/internal/record"
	"github.com/savichev/finparse/internal/runner"
)

// VersionRunner tries cached parser versions newest-first.
type VersionRunner interface {
	Run(ctx context.Context, bankKey, statementText string, mode record.Mode, expected *runner.ExpectedSummary) (*runner.Result, error)
}

// CodeGenerator produces and caches new parser code when nothing cached works.
type CodeGenerator interface {
	Generate(ctx context.Context, req generator.Request) (*generator.Result, error)
}

// Ingestor persists parsed transactions and categorizes stored statements.
type Ingestor interface {
	Insert(ctx context.Context, req ingest.InsertRequest) (*ingest.InsertResult, error)
	Categorize(ctx context.Context, statementID uuid.UUID) (*ingest.CategorizeResult, error)
}
