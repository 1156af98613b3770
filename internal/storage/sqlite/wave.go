package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/slok/wavemig/internal/model"
)

const waveColumns = `
	id, name, workspace_id, members,
	concurrency_limit, manual_mode, status,
	progress_total, progress_completed, progress_failed,
	created_at, updated_at, completed_at
`

// CreateWave creates a wave and its pending member tasks.
func (r *Repository) CreateWave(ctx context.Context, w model.Wave) error {
	if err := w.Validate(); err != nil {
		return fmt.Errorf("invalid wave: %w", err)
	}

	members, err := json.Marshal(w.Members)
	if err != nil {
		return fmt.Errorf("could not marshal members: %w", err)
	}

	now := r.now().UTC()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	if w.Status == "" {
		w.Status = model.WaveStatusPending
	}
	if w.Progress.Total == 0 {
		w.Progress.Total = len(w.Members)
	}

	waveExists := false
	err = r.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO waves (`+waveColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			w.ID, w.Name, w.WorkspaceID, string(members),
			w.ConcurrencyLimit, w.ManualMode, w.Status,
			w.Progress.Total, w.Progress.Completed, w.Progress.Failed,
			toMillis(w.CreatedAt), toMillis(now), nullableMillis(w.CompletedAt),
		)
		if err != nil {
			if !isUniqueViolation(err) {
				return fmt.Errorf("could not insert wave: %w", err)
			}
			waveExists = true
		}

		// Tasks are always topped up so a wave re-creation never leaves members without tasks,
		// existing ones are never duplicated nor reset.
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO wave_tasks (wave_id, source_id, position, status, error, created_at, updated_at)
			VALUES (?, ?, ?, ?, '', ?, ?)
			ON CONFLICT(wave_id, source_id) DO NOTHING
		`)
		if err != nil {
			return fmt.Errorf("could not prepare statement: %w", err)
		}
		defer stmt.Close()

		for i, sourceID := range w.Members {
			_, err := stmt.ExecContext(ctx, w.ID, sourceID, i, model.TaskStatusPending, toMillis(now), toMillis(now))
			if err != nil {
				return fmt.Errorf("could not insert task %s: %w", sourceID, err)
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	if waveExists {
		return fmt.Errorf("wave %s: %w", w.ID, model.ErrAlreadyExists)
	}

	r.logger.Debugf("Created wave %s with %d tasks", w.ID, len(w.Members))
	return nil
}

// GetWave retrieves a wave by ID.
func (r *Repository) GetWave(ctx context.Context, id string) (*model.Wave, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+waveColumns+` FROM waves WHERE id = ?`, id)
	w, err := scanWave(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("wave %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query wave: %w", err)
	}

	w.Status = model.PromoteStatus(w.Status, w.Progress)
	return &w, nil
}

// ListWaves returns all waves, newest first. Stored non terminal statuses whose counters
// say the wave finished are returned already promoted.
func (r *Repository) ListWaves(ctx context.Context) ([]model.Wave, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+waveColumns+` FROM waves ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("could not query waves: %w", err)
	}
	defer rows.Close()

	var waves []model.Wave
	for rows.Next() {
		w, err := scanWave(rows)
		if err != nil {
			return nil, fmt.Errorf("could not scan row: %w", err)
		}

		promoted := model.PromoteStatus(w.Status, w.Progress)
		if promoted != w.Status {
			r.logger.Debugf("Wave %s status promoted from %s to %s", w.ID, w.Status, promoted)
			w.Status = promoted
		}
		waves = append(waves, w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return waves, nil
}

// UpdateWaveProgress stores the wave counters, status and changed member states in a single
// transaction. Writes to the legacy results table are best effort: when the table is missing
// the member states are kept in the wave results snapshot instead.
func (r *Repository) UpdateWaveProgress(ctx context.Context, u model.WaveProgressUpdate) error {
	if err := u.Progress.Validate(); err != nil {
		return fmt.Errorf("invalid progress: %w", err)
	}
	if u.Status != nil && *u.Status == "" {
		return fmt.Errorf("empty wave status: %w", model.ErrNotValid)
	}

	now := r.now().UTC()
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var status *string
		var completedAt *int64
		if u.Status != nil {
			s := string(*u.Status)
			status = &s
			if u.Status.IsTerminal() {
				ms := toMillis(now)
				completedAt = &ms
			}
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE waves
			SET
				progress_total = ?,
				progress_completed = ?,
				progress_failed = ?,
				status = COALESCE(?, status),
				completed_at = CASE WHEN ? IS NULL THEN completed_at ELSE ? END,
				updated_at = ?
			WHERE id = ?
		`,
			u.Progress.Total, u.Progress.Completed, u.Progress.Failed,
			status, completedAt, completedAt, toMillis(now), u.WaveID,
		)
		if err != nil {
			return fmt.Errorf("could not update wave: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("could not get rows affected: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("wave %s: %w", u.WaveID, model.ErrNotFound)
		}

		var compat []model.TaskUpdate
		for _, m := range u.Members {
			m.WaveID = u.WaveID
			if err := r.writeTask(ctx, tx, m, now); err != nil {
				return err
			}

			missing, err := r.writeLegacyResult(ctx, tx, m, now)
			if missing {
				compat = append(compat, m)
				continue
			}
			if err != nil {
				r.logger.Warningf("Could not write legacy result for task %s of wave %s: %v", m.SourceID, u.WaveID, err)
			}
		}

		if len(compat) > 0 {
			r.logger.Warningf("Legacy results table missing, storing %d member states in wave %s snapshot", len(compat), u.WaveID)
			if err := r.writeSnapshot(ctx, tx, u.WaveID, compat, now); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	r.logger.Debugf("Updated wave %s progress: %+v", u.WaveID, u.Progress)
	return nil
}

func scanWave(s scanner) (model.Wave, error) {
	var w model.Wave
	var members string
	var createdAt, updatedAt int64
	var completedAt sql.NullInt64

	err := s.Scan(
		&w.ID,
		&w.Name,
		&w.WorkspaceID,
		&members,
		&w.ConcurrencyLimit,
		&w.ManualMode,
		&w.Status,
		&w.Progress.Total,
		&w.Progress.Completed,
		&w.Progress.Failed,
		&createdAt,
		&updatedAt,
		&completedAt,
	)
	if err != nil {
		return model.Wave{}, err
	}

	if err := json.Unmarshal([]byte(members), &w.Members); err != nil {
		return model.Wave{}, fmt.Errorf("invalid wave members: %w", err)
	}

	w.CreatedAt = timeFromMillis(createdAt)
	w.UpdatedAt = timeFromMillis(updatedAt)
	w.CompletedAt = timePtrFromMillis(completedAt)

	return w, nil
}

// snapshotEntry is a member state stored in the wave compatibility snapshot.
type snapshotEntry struct {
	TargetID  string         `json:"target_id,omitempty"`
	Status    string         `json:"status"`
	Error     string         `json:"error,omitempty"`
	Result    map[string]any `json:"result,omitempty"`
	UpdatedAt int64          `json:"updated_at"`
}

func (r *Repository) readSnapshot(ctx context.Context, q queryer, waveID string) (map[string]snapshotEntry, error) {
	var raw sql.NullString
	err := q.QueryRowContext(ctx, `SELECT results_snapshot FROM waves WHERE id = ?`, waveID).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return map[string]snapshotEntry{}, nil
		}
		return nil, fmt.Errorf("could not read wave snapshot: %w", err)
	}

	snapshot := map[string]snapshotEntry{}
	if raw.Valid && raw.String != "" {
		if err := json.Unmarshal([]byte(raw.String), &snapshot); err != nil {
			return nil, fmt.Errorf("invalid wave snapshot: %w", err)
		}
	}

	return snapshot, nil
}

func (r *Repository) writeSnapshot(ctx context.Context, tx *sql.Tx, waveID string, members []model.TaskUpdate, now time.Time) error {
	if waveID == "" {
		return nil
	}

	snapshot, err := r.readSnapshot(ctx, tx, waveID)
	if err != nil {
		return err
	}

	for _, m := range members {
		entry := snapshot[m.SourceID]
		if m.TargetID != "" && entry.TargetID == "" {
			entry.TargetID = m.TargetID
		}
		entry.Status = string(m.Status)
		entry.Error = m.Error
		if m.Result != nil {
			entry.Result = mergePayload(entry.Result, m.Result)
		}
		entry.UpdatedAt = toMillis(now)
		snapshot[m.SourceID] = entry
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("could not marshal wave snapshot: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE waves SET results_snapshot = ? WHERE id = ?`, string(data), waveID); err != nil {
		return fmt.Errorf("could not write wave snapshot: %w", err)
	}

	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}
