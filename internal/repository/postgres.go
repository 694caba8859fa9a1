package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/trioll/trioll-developer-portal/internal/domain"
)

// Compile-time interface assertions.
var _ DeveloperRepository = (*PostgresDeveloperRepo)(nil)

const uniqueViolation = "23505"

const developerColumns = `id, subject_id, email, COALESCE(developer_id, ''), COALESCE(company_name, ''), COALESCE(user_type, ''),
COALESCE(website, ''), COALESCE(bio, ''), COALESCE(profile_picture, ''), disabled, created_at, updated_at`

// PostgresDeveloperRepo implements DeveloperRepository on pgx.
type PostgresDeveloperRepo struct {
	db *pgxpool.Pool
}

func NewPostgresDeveloperRepo(pool *pgxpool.Pool) *PostgresDeveloperRepo {
	return &PostgresDeveloperRepo{db: pool}
}

func (r *PostgresDeveloperRepo) GetBySubject(ctx context.Context, subjectID string) (domain.DeveloperRecord, error) {
	query := `SELECT ` + developerColumns + ` FROM developer_records WHERE subject_id = $1`
	record, err := scanDeveloper(r.db.QueryRow(ctx, query, subjectID))
	if err != nil {
		return domain.DeveloperRecord{}, fmt.Errorf("get developer by subject: %w", mapNoRows(err))
	}
	return record, nil
}

// FindByEmail prefers rows that already carry a developer ID.
func (r *PostgresDeveloperRepo) FindByEmail(ctx context.Context, email string) (domain.DeveloperRecord, error) {
	query := `SELECT ` + developerColumns + ` FROM developer_records
WHERE lower(email) = lower($1)
ORDER BY (developer_id IS NULL), created_at
LIMIT 1`
	record, err := scanDeveloper(r.db.QueryRow(ctx, query, strings.TrimSpace(email)))
	if err != nil {
		return domain.DeveloperRecord{}, fmt.Errorf("find developer by email: %w", mapNoRows(err))
	}
	return record, nil
}

// ListDeveloperIDsWithPrefix matches with left() because '_' is a LIKE wildcard.
func (r *PostgresDeveloperRepo) ListDeveloperIDsWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	const query = `SELECT developer_id FROM developer_records
WHERE developer_id IS NOT NULL AND left(developer_id, length($1)) = $1`
	rows, err := r.db.Query(ctx, query, prefix)
	if err != nil {
		return nil, fmt.Errorf("list developer ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect developer ids: %w", err)
	}
	return ids, nil
}

const insertDeveloperSQL = `INSERT INTO developer_records (id, subject_id, email, developer_id, company_name, user_type, website, bio, profile_picture)
VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9)
ON CONFLICT (subject_id) DO NOTHING
RETURNING ` + developerColumns

func (r *PostgresDeveloperRepo) CreateIfAbsent(ctx context.Context, record domain.DeveloperRecord) (domain.DeveloperRecord, error) {
	row := r.db.QueryRow(ctx, insertDeveloperSQL,
		record.ID,
		record.SubjectID,
		record.Email,
		record.DeveloperID,
		record.CompanyName,
		record.UserType,
		record.Website,
		record.Bio,
		record.ProfilePicture,
	)
	created, err := scanDeveloper(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.DeveloperRecord{}, fmt.Errorf("create developer: %w", ErrRecordExists)
		}
		return domain.DeveloperRecord{}, fmt.Errorf("create developer: %w", mapUniqueViolation(err))
	}
	return created, nil
}

func (r *PostgresDeveloperRepo) AssignDeveloperID(ctx context.Context, subjectID, developerID string) error {
	const query = `UPDATE developer_records SET developer_id = $2, updated_at = NOW()
WHERE subject_id = $1 AND developer_id IS NULL`
	tag, err := r.db.Exec(ctx, query, subjectID, developerID)
	if err != nil {
		return fmt.Errorf("assign developer id: %w", mapUniqueViolation(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("assign developer id: %w", ErrRecordExists)
	}
	return nil
}

func (r *PostgresDeveloperRepo) UpdateProfile(ctx context.Context, subjectID string, update domain.ProfileUpdate) (domain.DeveloperRecord, error) {
	query := `UPDATE developer_records SET
	company_name = COALESCE($2, company_name),
	website = COALESCE($3, website),
	bio = COALESCE($4, bio),
	profile_picture = COALESCE($5, profile_picture),
	updated_at = NOW()
WHERE subject_id = $1 AND disabled = false
RETURNING ` + developerColumns
	record, err := scanDeveloper(r.db.QueryRow(ctx, query, subjectID, update.CompanyName, update.Website, update.Bio, update.ProfilePicture))
	if err != nil {
		return domain.DeveloperRecord{}, fmt.Errorf("update developer profile: %w", mapNoRows(err))
	}
	return record, nil
}

func (r *PostgresDeveloperRepo) ListMissingDeveloperID(ctx context.Context, afterSubject string, limit int) ([]domain.DeveloperRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + developerColumns + ` FROM developer_records
WHERE developer_id IS NULL AND subject_id > $1
ORDER BY subject_id
LIMIT $2`
	rows, err := r.db.Query(ctx, query, afterSubject, limit)
	if err != nil {
		return nil, fmt.Errorf("list records missing developer id: %w", err)
	}
	defer rows.Close()

	var records []domain.DeveloperRecord
	for rows.Next() {
		record, err := scanDeveloper(rows)
		if err != nil {
			return nil, fmt.Errorf("scan developer: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate developers: %w", err)
	}
	return records, nil
}

func scanDeveloper(row pgx.Row) (domain.DeveloperRecord, error) {
	var record domain.DeveloperRecord
	err := row.Scan(
		&record.ID,
		&record.SubjectID,
		&record.Email,
		&record.DeveloperID,
		&record.CompanyName,
		&record.UserType,
		&record.Website,
		&record.Bio,
		&record.ProfilePicture,
		&record.Disabled,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	return record, err
}

func mapNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrRecordNotFound
	}
	return err
}

func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		if strings.Contains(pgErr.ConstraintName, "developer_id") {
			return ErrDeveloperIDTaken
		}
		return ErrRecordExists
	}
	return err
}
