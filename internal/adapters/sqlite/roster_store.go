package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rostersync/rostersync/internal/app/domain"
	"github.com/rostersync/rostersync/internal/app/ports"
	"github.com/rostersync/rostersync/internal/db"
)

// adultAge is the cutoff below which the contact details on a roster record
// are treated as belonging to a guardian rather than the player.
const adultAge = 18

// RosterStore is the batch importer for mapped roster records. Upserts key
// on the external member id so a re-run of the same sync matches existing
// rows instead of duplicating them.
type RosterStore struct {
	db *db.Database
}

func NewRosterStore(database *db.Database) *RosterStore {
	return &RosterStore{db: database}
}

// BatchImport writes one batch of valid records inside a single
// transaction. Per-record failures are collected into the result rather
// than aborting the batch; only infrastructure failures roll it back.
func (s *RosterStore) BatchImport(ctx context.Context, organizationID, sessionID string, records []domain.TransformedRecord) (domain.ImportResult, error) {
	var result domain.ImportResult

	err := s.db.WithTx(ctx, func(tx db.Executor) error {
		for _, record := range records {
			result.TotalProcessed++
			if err := s.importOne(ctx, tx, organizationID, sessionID, record, &result); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", record.ExternalID, err))
			}
		}
		return nil
	})
	if err != nil {
		return domain.ImportResult{}, fmt.Errorf("batch import: %w", err)
	}
	return result, nil
}

func (s *RosterStore) importOne(ctx context.Context, tx db.Executor, organizationID, sessionID string, record domain.TransformedRecord, result *domain.ImportResult) error {
	now := time.Now().UnixMilli()

	playerID, existed, err := s.upsertPlayer(ctx, tx, organizationID, record, now)
	if err != nil {
		return err
	}
	if existed {
		result.PlayersReused++
	} else {
		result.PlayersCreated++
	}

	if record.Email != "" && isMinor(record.DateOfBirth) {
		guardianID, guardianExisted, err := s.upsertGuardian(ctx, tx, organizationID, record, now)
		if err != nil {
			return err
		}
		if guardianExisted {
			result.GuardiansReused++
		} else {
			result.GuardiansCreated++
		}
		if _, err := tx.ExecContext(ctx, `-- name: LinkGuardian :exec
			INSERT INTO player_guardians (player_id, guardian_id) VALUES (?, ?)
			ON CONFLICT DO NOTHING
		`, playerID, guardianID); err != nil {
			return fmt.Errorf("link guardian: %w", err)
		}
	}

	enrolled, err := s.upsertEnrollment(ctx, tx, organizationID, sessionID, playerID, record, now)
	if err != nil {
		return err
	}
	if enrolled {
		result.EnrollmentsCreated++
	} else {
		result.EnrollmentsReused++
	}
	return nil
}

func (s *RosterStore) upsertPlayer(ctx context.Context, tx db.Executor, organizationID string, record domain.TransformedRecord, now int64) (string, bool, error) {
	var existingID string
	err := tx.QueryRowContext(ctx, `-- name: GetPlayerByExternalID :one
		SELECT id FROM players WHERE organization_id = ? AND external_id = ?
	`, organizationID, record.ExternalID).Scan(&existingID)
	switch {
	case err == nil:
		_, err = tx.ExecContext(ctx, `-- name: UpdatePlayer :exec
			UPDATE players SET
				first_name = ?, last_name = ?, date_of_birth = ?, email = ?, phone = ?,
				street = ?, town = ?, county = ?, postcode = ?, active = 1, updated_at = ?
			WHERE id = ?
		`, record.FirstName, record.LastName, record.DateOfBirth, record.Email, record.Phone,
			record.Street, record.Town, record.County, record.Postcode, now, existingID)
		if err != nil {
			return "", false, fmt.Errorf("update player: %w", err)
		}
		return existingID, true, nil
	case errors.Is(err, sql.ErrNoRows):
		id := uuid.NewString()
		_, err = tx.ExecContext(ctx, `-- name: CreatePlayer :exec
			INSERT INTO players (id, organization_id, external_id, first_name, last_name, date_of_birth,
				email, phone, street, town, county, postcode, active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		`, id, organizationID, record.ExternalID, record.FirstName, record.LastName, record.DateOfBirth,
			record.Email, record.Phone, record.Street, record.Town, record.County, record.Postcode, now, now)
		if err != nil {
			return "", false, fmt.Errorf("create player: %w", err)
		}
		return id, false, nil
	default:
		return "", false, fmt.Errorf("lookup player: %w", err)
	}
}

func (s *RosterStore) upsertGuardian(ctx context.Context, tx db.Executor, organizationID string, record domain.TransformedRecord, now int64) (string, bool, error) {
	var existingID string
	err := tx.QueryRowContext(ctx, `-- name: GetGuardianByEmail :one
		SELECT id FROM guardians WHERE organization_id = ? AND email = ?
	`, organizationID, record.Email).Scan(&existingID)
	switch {
	case err == nil:
		return existingID, true, nil
	case errors.Is(err, sql.ErrNoRows):
		id := uuid.NewString()
		_, err = tx.ExecContext(ctx, `-- name: CreateGuardian :exec
			INSERT INTO guardians (id, organization_id, email, phone, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, id, organizationID, record.Email, record.Phone, now)
		if err != nil {
			return "", false, fmt.Errorf("create guardian: %w", err)
		}
		return id, false, nil
	default:
		return "", false, fmt.Errorf("lookup guardian: %w", err)
	}
}

func (s *RosterStore) upsertEnrollment(ctx context.Context, tx db.Executor, organizationID, sessionID, playerID string, record domain.TransformedRecord, now int64) (bool, error) {
	season := currentSeason()
	var existingID string
	err := tx.QueryRowContext(ctx, `-- name: GetEnrollment :one
		SELECT id FROM enrollments WHERE player_id = ? AND organization_id = ? AND season = ?
	`, playerID, organizationID, season).Scan(&existingID)
	switch {
	case err == nil:
		_, err = tx.ExecContext(ctx, `-- name: UpdateEnrollmentStatus :exec
			UPDATE enrollments SET status = ? WHERE id = ?
		`, record.EnrollmentStatus, existingID)
		if err != nil {
			return false, fmt.Errorf("update enrollment: %w", err)
		}
		return false, nil
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `-- name: CreateEnrollment :exec
			INSERT INTO enrollments (id, player_id, organization_id, season, status, enrolled_at, import_session_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, uuid.NewString(), playerID, organizationID, season, record.EnrollmentStatus, record.EnrollmentDate, sessionID, now)
		if err != nil {
			return false, fmt.Errorf("create enrollment: %w", err)
		}
		return true, nil
	default:
		return false, fmt.Errorf("lookup enrollment: %w", err)
	}
}

// DeactivateMember soft-deletes a player when the federation reports the
// membership as removed.
func (s *RosterStore) DeactivateMember(ctx context.Context, organizationID, externalID string) error {
	result, err := s.db.ExecContext(ctx, `-- name: DeactivatePlayer :exec
		UPDATE players SET active = 0, updated_at = ? WHERE organization_id = ? AND external_id = ?
	`, time.Now().UnixMilli(), organizationID, externalID)
	if err != nil {
		return fmt.Errorf("deactivate player: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ports.ErrNotFound
	}
	return nil
}

func isMinor(dateOfBirth string) bool {
	dob, err := time.Parse("2006-01-02", dateOfBirth)
	if err != nil {
		return false
	}
	return time.Since(dob) < adultAge*365*24*time.Hour
}

func currentSeason() string {
	return fmt.Sprintf("%d", time.Now().Year())
}
