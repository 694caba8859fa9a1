package identity

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/trioll/trioll-developer-portal/internal/domain"
	"github.com/trioll/trioll-developer-portal/internal/repository"
)

const defaultBackfillPage = 100

// BackfillOptions controls a developer ID backfill run.
type BackfillOptions struct {
	DryRun   bool
	Limit    int
	PageSize int
}

// BackfillReport summarises a backfill run. Planned maps subject IDs to the
// developer IDs a dry run would assign; it is nil for real runs.
type BackfillReport struct {
	Scanned  int
	Assigned int
	Skipped  int
	Failed   int
	Planned  map[string]string
}

// Backfill assigns derived developer IDs to records that have none. It is a
// one-off repair tool and never runs on the request path.
func Backfill(ctx context.Context, records repository.DeveloperRepository, deriver *Deriver, opts BackfillOptions, logger *zap.Logger) (BackfillReport, error) {
	if logger == nil {
		logger = zap.L()
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = defaultBackfillPage
	}

	var (
		report  BackfillReport
		cursor  string
		planned []string
	)
	if opts.DryRun {
		report.Planned = map[string]string{}
	}
	for {
		if opts.Limit > 0 && report.Scanned >= opts.Limit {
			return report, nil
		}
		page, err := records.ListMissingDeveloperID(ctx, cursor, pageSize)
		if err != nil {
			return report, fmt.Errorf("list records missing developer id: %w", err)
		}
		if len(page) == 0 {
			return report, nil
		}

		for _, record := range page {
			if opts.Limit > 0 && report.Scanned >= opts.Limit {
				return report, nil
			}
			if err := ctx.Err(); err != nil {
				return report, err
			}
			report.Scanned++
			cursor = record.SubjectID

			developerID, err := backfillOne(ctx, records, deriver, record, opts.DryRun, planned)
			switch {
			case err == nil:
				report.Assigned++
				if opts.DryRun {
					planned = append(planned, developerID)
					report.Planned[record.SubjectID] = developerID
				}
				logger.Info("developer id backfilled",
					zap.String("subject_id", record.SubjectID),
					zap.String("developer_id", developerID),
					zap.Bool("dry_run", opts.DryRun),
				)
			case errors.Is(err, errBackfillSkip), errors.Is(err, repository.ErrRecordExists):
				report.Skipped++
				logger.Info("backfill skipped record", zap.String("subject_id", record.SubjectID), zap.Error(err))
			default:
				report.Failed++
				logger.Warn("backfill failed for record", zap.String("subject_id", record.SubjectID), zap.Error(err))
			}
		}
	}
}

var errBackfillSkip = errors.New("record has no usable email")

// backfillOne derives and assigns one record's ID. Dry runs persist nothing,
// so IDs planned earlier in the run are passed as reserved.
func backfillOne(ctx context.Context, records repository.DeveloperRepository, deriver *Deriver, record domain.DeveloperRecord, dryRun bool, planned []string) (string, error) {
	if _, err := BaseID(record.Email); err != nil {
		return "", errBackfillSkip
	}
	if dryRun {
		return deriver.derive(ctx, record.Email, planned)
	}
	for attempt := 0; attempt < maxDeriveAttempts; attempt++ {
		developerID, err := deriver.Derive(ctx, record.Email)
		if err != nil {
			return "", err
		}
		err = records.AssignDeveloperID(ctx, record.SubjectID, developerID)
		if errors.Is(err, repository.ErrDeveloperIDTaken) {
			continue
		}
		return developerID, err
	}
	return "", fmt.Errorf("developer id still contended after %d attempts", maxDeriveAttempts)
}
