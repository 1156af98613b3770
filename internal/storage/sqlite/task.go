package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/slok/wavemig/internal/model"
)

const taskColumns = `wave_id, source_id, target_id, status, error, result, started_at, completed_at, updated_at`

const resultColumns = `wave_id, source_id, target_id, status, error, payload, updated_at`

// CreateTask creates an ad-hoc task.
func (r *Repository) CreateTask(ctx context.Context, t model.MigrationTask) error {
	if t.Status == "" {
		t.Status = model.TaskStatusPending
	}
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}

	result, err := encodeJSON(t.Result)
	if err != nil {
		return err
	}

	now := toMillis(r.now().UTC())
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO wave_tasks (wave_id, source_id, target_id, position, status, error, result, started_at, completed_at, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.WaveID, t.SourceID, t.TargetID, t.Status, t.Error, result,
		nullableMillis(t.StartedAt), nullableMillis(t.CompletedAt), now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("task %s: %w", t.SourceID, model.ErrAlreadyExists)
		}
		return fmt.Errorf("could not insert task: %w", err)
	}

	r.logger.Debugf("Created task %s (wave: %q)", t.SourceID, t.WaveID)
	return nil
}

// GetTask returns the reconciled state of a single task.
func (r *Repository) GetTask(ctx context.Context, waveID, sourceID string) (*model.MigrationTask, error) {
	return r.loadTask(ctx, r.db, waveID, sourceID)
}

// FindTaskByProjects returns the most recently updated task migrating sourceID into targetID.
func (r *Repository) FindTaskByProjects(ctx context.Context, sourceID, targetID string) (*model.MigrationTask, error) {
	var waveID string
	err := r.db.QueryRowContext(ctx, `
		SELECT wave_id FROM wave_tasks
		WHERE source_id = ? AND target_id = ?
		ORDER BY updated_at DESC
		LIMIT 1
	`, sourceID, targetID).Scan(&waveID)
	if errors.Is(err, sql.ErrNoRows) {
		err = r.db.QueryRowContext(ctx, `
			SELECT wave_id FROM migration_results
			WHERE source_id = ? AND target_id = ?
			ORDER BY updated_at DESC
			LIMIT 1
		`, sourceID, targetID).Scan(&waveID)
		if isMissingTable(err) {
			err = sql.ErrNoRows
		}
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("task %s -> %s: %w", sourceID, targetID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query task: %w", err)
	}

	return r.loadTask(ctx, r.db, waveID, sourceID)
}

// GetTasksForWave returns one task per wave member, in member order. Each task is reconciled
// from the task row created with the wave and the explicit result records, the most recently
// updated one wins and explicit results win ties. Members without any record are returned as
// pending.
func (r *Repository) GetTasksForWave(ctx context.Context, waveID string) ([]model.MigrationTask, error) {
	wave, err := r.GetWave(ctx, waveID)
	if err != nil {
		return nil, err
	}

	cands := map[string][]candidate{}

	rows, err := r.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM wave_tasks WHERE wave_id = ?`, waveID)
	if err != nil {
		return nil, fmt.Errorf("could not query tasks: %w", err)
	}
	err = scanAll(rows, func(s scanner) error {
		t, err := scanTask(s)
		if err != nil {
			return err
		}
		cands[t.SourceID] = append(cands[t.SourceID], candidate{task: t})
		return nil
	})
	if err != nil {
		return nil, err
	}

	results, err := r.loadResults(ctx, r.db, waveID, "")
	if err != nil {
		return nil, err
	}
	for _, t := range results {
		cands[t.SourceID] = append(cands[t.SourceID], candidate{task: t, explicit: true})
	}

	tasks := make([]model.MigrationTask, 0, len(wave.Members))
	seen := make(map[string]struct{}, len(wave.Members))
	for _, sourceID := range wave.Members {
		seen[sourceID] = struct{}{}
		if cs, ok := cands[sourceID]; ok {
			tasks = append(tasks, reconcile(cs))
			continue
		}
		tasks = append(tasks, model.MigrationTask{
			SourceID: sourceID,
			WaveID:   waveID,
			Status:   model.TaskStatusPending,
		})
	}

	// Records of sources that are not members anymore are still returned, after the members.
	var extra []string
	for sourceID := range cands {
		if _, ok := seen[sourceID]; !ok {
			extra = append(extra, sourceID)
		}
	}
	sort.Strings(extra)
	for _, sourceID := range extra {
		tasks = append(tasks, reconcile(cands[sourceID]))
	}

	return tasks, nil
}

// SetTaskStatus transitions a single task in one transaction.
func (r *Repository) SetTaskStatus(ctx context.Context, u model.TaskUpdate) error {
	if u.SourceID == "" {
		return fmt.Errorf("source id is required: %w", model.ErrNotValid)
	}
	if !u.Status.Valid() {
		return fmt.Errorf("unknown task status %q: %w", u.Status, model.ErrNotValid)
	}

	now := r.now().UTC()
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if u.FromStatus != "" {
			stored, found, err := storedStatus(ctx, tx, u.WaveID, u.SourceID)
			if err != nil {
				return err
			}
			if found && stored != u.FromStatus {
				return fmt.Errorf("task %s is %s, expected %s: %w", u.SourceID, stored, u.FromStatus, model.ErrConflict)
			}
		}

		if err := r.writeTask(ctx, tx, u, now); err != nil {
			return err
		}

		missing, err := r.writeLegacyResult(ctx, tx, u, now)
		if missing {
			return r.writeSnapshot(ctx, tx, u.WaveID, []model.TaskUpdate{u}, now)
		}
		if err != nil {
			r.logger.Warningf("Could not write legacy result for task %s: %v", u.SourceID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.logger.Debugf("Task %s (wave: %q) transitioned to %s", u.SourceID, u.WaveID, u.Status)
	return nil
}

// UpsertTaskResult merges a worker result into the most recent result record of the
// (source, wave) pair, or inserts it. Older duplicated records of the pair are removed so
// only one authoritative record remains. The task row is kept in sync.
func (r *Repository) UpsertTaskResult(ctx context.Context, res model.TaskResult) error {
	if res.SourceID == "" {
		return fmt.Errorf("source id is required: %w", model.ErrNotValid)
	}
	if !res.Status.Valid() {
		return fmt.Errorf("unknown task status %q: %w", res.Status, model.ErrNotValid)
	}

	now := r.now().UTC()
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		payload, missing, err := r.mergeResultRecord(ctx, tx, res, now)
		if err != nil {
			return err
		}

		update := model.TaskUpdate{
			SourceID: res.SourceID,
			WaveID:   res.WaveID,
			TargetID: res.TargetID,
			Status:   res.Status,
			Error:    res.Error,
			Result:   payload,
		}

		if missing {
			if err := r.writeSnapshot(ctx, tx, res.WaveID, []model.TaskUpdate{update}, now); err != nil {
				return err
			}
		}

		return r.syncTaskRow(ctx, tx, update, now)
	})
	if err != nil {
		return err
	}

	r.logger.Debugf("Upserted result for task %s (wave: %q): %s", res.SourceID, res.WaveID, res.Status)
	return nil
}

// mergeResultRecord writes the result record and returns the merged payload. missing is true
// when the results table doesn't exist.
func (r *Repository) mergeResultRecord(ctx context.Context, tx *sql.Tx, res model.TaskResult, now time.Time) (payload map[string]any, missing bool, err error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, target_id, payload FROM migration_results
		WHERE source_id = ? AND wave_id = ?
		ORDER BY updated_at DESC
	`, res.SourceID, res.WaveID)
	if err != nil {
		if isMissingTable(err) {
			r.logger.Warningf("Legacy results table missing, result of task %s kept on the task record", res.SourceID)
			return res.Payload, true, nil
		}
		return nil, false, fmt.Errorf("could not query results: %w", err)
	}

	type record struct {
		id       string
		targetID string
		payload  sql.NullString
	}
	var records []record
	err = scanAll(rows, func(s scanner) error {
		var rec record
		if err := s.Scan(&rec.id, &rec.targetID, &rec.payload); err != nil {
			return err
		}
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if len(records) == 0 {
		encoded, err := encodeJSON(res.Payload)
		if err != nil {
			return nil, false, err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO migration_results (id, source_id, target_id, wave_id, status, error, payload, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, ulid.Make().String(), res.SourceID, res.TargetID, res.WaveID, res.Status, res.Error, encoded, toMillis(now), toMillis(now))
		if err != nil {
			return nil, false, fmt.Errorf("could not insert result: %w", err)
		}
		return res.Payload, false, nil
	}

	latest := records[0]
	existing, err := decodeJSON(latest.payload)
	if err != nil {
		return nil, false, err
	}
	payload = mergePayload(existing, res.Payload)
	encoded, err := encodeJSON(payload)
	if err != nil {
		return nil, false, err
	}

	targetID := latest.targetID
	if targetID == "" {
		targetID = res.TargetID
	} else if res.TargetID != "" && res.TargetID != targetID {
		r.logger.Warningf("Ignoring target %s for task %s, already bound to %s", res.TargetID, res.SourceID, targetID)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE migration_results
		SET target_id = ?, status = ?, error = ?, payload = ?, updated_at = ?
		WHERE id = ?
	`, targetID, res.Status, res.Error, encoded, toMillis(now), latest.id)
	if err != nil {
		return nil, false, fmt.Errorf("could not update result: %w", err)
	}

	for _, dup := range records[1:] {
		if _, err := tx.ExecContext(ctx, `DELETE FROM migration_results WHERE id = ?`, dup.id); err != nil {
			return nil, false, fmt.Errorf("could not remove duplicated result: %w", err)
		}
	}

	return payload, false, nil
}

// syncTaskRow mirrors a result into the task row if it exists, results of unknown tasks are
// only kept in the results records.
func (r *Repository) syncTaskRow(ctx context.Context, tx *sql.Tx, u model.TaskUpdate, now time.Time) error {
	storedTarget, found, err := storedTargetID(ctx, tx, u.WaveID, u.SourceID)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	if storedTarget != "" && u.TargetID != "" && storedTarget != u.TargetID {
		u.TargetID = storedTarget
	}

	return r.upsertTaskRow(ctx, tx, u, now)
}

// writeTask upserts the task row refusing to rebind an already provisioned target.
func (r *Repository) writeTask(ctx context.Context, tx *sql.Tx, u model.TaskUpdate, now time.Time) error {
	storedTarget, _, err := storedTargetID(ctx, tx, u.WaveID, u.SourceID)
	if err != nil {
		return err
	}
	if storedTarget != "" && u.TargetID != "" && storedTarget != u.TargetID {
		return fmt.Errorf("task %s is already bound to target %s, can't rebind to %s: %w", u.SourceID, storedTarget, u.TargetID, model.ErrNotValid)
	}

	return r.upsertTaskRow(ctx, tx, u, now)
}

func (r *Repository) upsertTaskRow(ctx context.Context, tx *sql.Tx, u model.TaskUpdate, now time.Time) error {
	result, err := encodeJSON(u.Result)
	if err != nil {
		return err
	}

	var startedAt, completedAt *int64
	ms := toMillis(now)
	if u.Status == model.TaskStatusInProgress {
		startedAt = &ms
	}
	if u.Status.IsTerminal() {
		completedAt = &ms
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO wave_tasks (wave_id, source_id, target_id, position, status, error, result, started_at, completed_at, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(wave_id, source_id) DO UPDATE SET
			target_id = CASE WHEN wave_tasks.target_id = '' THEN excluded.target_id ELSE wave_tasks.target_id END,
			status = excluded.status,
			error = excluded.error,
			result = COALESCE(excluded.result, wave_tasks.result),
			started_at = CASE excluded.status
				WHEN 'in_progress' THEN CASE
					WHEN wave_tasks.status = 'in_progress' AND wave_tasks.started_at IS NOT NULL THEN wave_tasks.started_at
					ELSE excluded.started_at
				END
				WHEN 'pending' THEN NULL
				ELSE wave_tasks.started_at
			END,
			completed_at = excluded.completed_at,
			updated_at = excluded.updated_at
	`, u.WaveID, u.SourceID, u.TargetID, u.Status, u.Error, result, startedAt, completedAt, ms, ms)
	if err != nil {
		return fmt.Errorf("could not write task %s: %w", u.SourceID, err)
	}

	return nil
}

// writeLegacyResult mirrors a task state into the results table. missing is true when the
// table doesn't exist.
func (r *Repository) writeLegacyResult(ctx context.Context, tx *sql.Tx, u model.TaskUpdate, now time.Time) (missing bool, err error) {
	payload, err := encodeJSON(u.Result)
	if err != nil {
		return false, err
	}

	ms := toMillis(now)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO migration_results (id, source_id, target_id, wave_id, status, error, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id, wave_id) DO UPDATE SET
			target_id = CASE WHEN migration_results.target_id = '' THEN excluded.target_id ELSE migration_results.target_id END,
			status = excluded.status,
			error = excluded.error,
			payload = COALESCE(excluded.payload, migration_results.payload),
			updated_at = excluded.updated_at
	`, ulid.Make().String(), u.SourceID, u.TargetID, u.WaveID, u.Status, u.Error, payload, ms, ms)
	if err != nil {
		if isMissingTable(err) {
			return true, nil
		}
		return false, err
	}

	return false, nil
}

func storedStatus(ctx context.Context, q queryer, waveID, sourceID string) (model.TaskStatus, bool, error) {
	var status string
	err := q.QueryRowContext(ctx, `SELECT status FROM wave_tasks WHERE wave_id = ? AND source_id = ?`, waveID, sourceID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("could not query task status: %w", err)
	}
	return model.TaskStatus(status), true, nil
}

func storedTargetID(ctx context.Context, q queryer, waveID, sourceID string) (targetID string, found bool, err error) {
	err = q.QueryRowContext(ctx, `SELECT target_id FROM wave_tasks WHERE wave_id = ? AND source_id = ?`, waveID, sourceID).Scan(&targetID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("could not query task target: %w", err)
	}
	return targetID, true, nil
}

func (r *Repository) loadTask(ctx context.Context, q queryer, waveID, sourceID string) (*model.MigrationTask, error) {
	var cands []candidate

	row := q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM wave_tasks WHERE wave_id = ? AND source_id = ?`, waveID, sourceID)
	t, err := scanTask(row)
	switch {
	case err == nil:
		cands = append(cands, candidate{task: t})
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("could not query task: %w", err)
	}

	results, err := r.loadResults(ctx, q, waveID, sourceID)
	if err != nil {
		return nil, err
	}
	for _, t := range results {
		cands = append(cands, candidate{task: t, explicit: true})
	}

	if len(cands) == 0 {
		return nil, fmt.Errorf("task %s (wave: %q): %w", sourceID, waveID, model.ErrNotFound)
	}

	task := reconcile(cands)
	return &task, nil
}

// loadResults returns the explicit results of a wave, optionally filtered by source. When the
// results table is missing the wave snapshot is used instead.
func (r *Repository) loadResults(ctx context.Context, q queryer, waveID, sourceID string) ([]model.MigrationTask, error) {
	query := `SELECT ` + resultColumns + ` FROM migration_results WHERE wave_id = ?`
	args := []any{waveID}
	if sourceID != "" {
		query += ` AND source_id = ?`
		args = append(args, sourceID)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		if isMissingTable(err) {
			return r.loadSnapshotResults(ctx, q, waveID, sourceID)
		}
		return nil, fmt.Errorf("could not query results: %w", err)
	}

	var results []model.MigrationTask
	err = scanAll(rows, func(s scanner) error {
		t, err := scanResult(s)
		if err != nil {
			return err
		}
		results = append(results, t)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return results, nil
}

func (r *Repository) loadSnapshotResults(ctx context.Context, q queryer, waveID, sourceID string) ([]model.MigrationTask, error) {
	if waveID == "" {
		return nil, nil
	}

	snapshot, err := r.readSnapshot(ctx, q, waveID)
	if err != nil {
		return nil, err
	}

	var results []model.MigrationTask
	for id, entry := range snapshot {
		if sourceID != "" && id != sourceID {
			continue
		}
		results = append(results, model.MigrationTask{
			SourceID:  id,
			TargetID:  entry.TargetID,
			WaveID:    waveID,
			Status:    model.TaskStatus(entry.Status),
			Error:     entry.Error,
			Result:    entry.Result,
			UpdatedAt: timeFromMillis(entry.UpdatedAt),
		})
	}

	return results, nil
}

// candidate is one stored record of a task.
type candidate struct {
	task     model.MigrationTask
	explicit bool
}

// reconcile picks the authoritative record of a task: the most recently updated one, explicit
// results winning ties. Missing target and result are filled from the other records.
func reconcile(cands []candidate) model.MigrationTask {
	best := cands[0]
	for _, c := range cands[1:] {
		switch {
		case c.task.UpdatedAt.After(best.task.UpdatedAt):
			best = c
		case c.task.UpdatedAt.Equal(best.task.UpdatedAt) && c.explicit && !best.explicit:
			best = c
		}
	}

	task := best.task
	for _, c := range cands {
		if task.TargetID == "" && c.task.TargetID != "" {
			task.TargetID = c.task.TargetID
		}
		if task.Result == nil && c.task.Result != nil {
			task.Result = c.task.Result
		}
		if task.StartedAt == nil && c.task.StartedAt != nil {
			task.StartedAt = c.task.StartedAt
		}
		if task.CompletedAt == nil && task.Status.IsTerminal() && c.task.CompletedAt != nil {
			task.CompletedAt = c.task.CompletedAt
		}
	}

	return task
}

func scanAll(rows *sql.Rows, f func(s scanner) error) error {
	defer rows.Close()
	for rows.Next() {
		if err := f(rows); err != nil {
			return fmt.Errorf("could not scan row: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating rows: %w", err)
	}
	return nil
}

func scanTask(s scanner) (model.MigrationTask, error) {
	var t model.MigrationTask
	var result sql.NullString
	var startedAt, completedAt sql.NullInt64
	var updatedAt int64

	err := s.Scan(
		&t.WaveID,
		&t.SourceID,
		&t.TargetID,
		&t.Status,
		&t.Error,
		&result,
		&startedAt,
		&completedAt,
		&updatedAt,
	)
	if err != nil {
		return model.MigrationTask{}, err
	}

	t.Result, err = decodeJSON(result)
	if err != nil {
		return model.MigrationTask{}, err
	}
	t.StartedAt = timePtrFromMillis(startedAt)
	t.CompletedAt = timePtrFromMillis(completedAt)
	t.UpdatedAt = timeFromMillis(updatedAt)

	return t, nil
}

func scanResult(s scanner) (model.MigrationTask, error) {
	var t model.MigrationTask
	var payload sql.NullString
	var updatedAt int64

	err := s.Scan(
		&t.WaveID,
		&t.SourceID,
		&t.TargetID,
		&t.Status,
		&t.Error,
		&payload,
		&updatedAt,
	)
	if err != nil {
		return model.MigrationTask{}, err
	}

	t.Result, err = decodeJSON(payload)
	if err != nil {
		return model.MigrationTask{}, err
	}
	t.UpdatedAt = timeFromMillis(updatedAt)
	if t.Status.IsTerminal() {
		completedAt := t.UpdatedAt
		t.CompletedAt = &completedAt
	}

	return t, nil
}
