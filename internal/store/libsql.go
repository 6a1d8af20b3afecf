package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/driprun/driprun/pkg/schema"
)

// LibSQLStore implements Store on an embedded libSQL database.
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens (creating if needed) the database at path. The caller
// should run Migrate before first use.
func NewLibSQLStore(path string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", "file:"+path)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "open database %s", path).WithCause(err)
	}

	// Embedded SQLite: a single writer connection avoids SQLITE_BUSY under
	// concurrent workers; the CAS queries stay atomic either way.
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows (journal_mode reports the resulting mode), and
	// the driver rejects Exec on row-returning statements, so use QueryRow.
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		var result string
		_ = db.QueryRow(pragma).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

func (s *LibSQLStore) Close() error {
	return s.db.Close()
}

// --- Automations ---

func (s *LibSQLStore) CreateAutomation(ctx context.Context, a *Automation) error {
	def, err := json.Marshal(a.Definition)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "marshal automation definition").WithCause(err)
	}
	now := timeOrNow(a.CreatedAt)
	a.CreatedAt = now
	a.UpdatedAt = now
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO automations (id, workspace_id, name, status, definition, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.WorkspaceID, a.Name, string(a.Status), string(def),
		fmtTime(now), fmtTime(now))
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "insert automation %s", a.ID).WithCause(err)
	}
	return nil
}

func (s *LibSQLStore) GetAutomation(ctx context.Context, workspaceID, id string) (*Automation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, name, status, definition, created_at, updated_at
		FROM automations WHERE workspace_id = ? AND id = ?`, workspaceID, id)
	return scanAutomation(row)
}

func (s *LibSQLStore) ListAutomations(ctx context.Context, workspaceID string) ([]*Automation, error) {
	return s.queryAutomations(ctx, `
		SELECT id, workspace_id, name, status, definition, created_at, updated_at
		FROM automations WHERE workspace_id = ? ORDER BY created_at, id`, workspaceID)
}

func (s *LibSQLStore) ListRunningAutomations(ctx context.Context, workspaceID string) ([]*Automation, error) {
	return s.queryAutomations(ctx, `
		SELECT id, workspace_id, name, status, definition, created_at, updated_at
		FROM automations WHERE workspace_id = ? AND status = 'running' ORDER BY created_at, id`, workspaceID)
}

func (s *LibSQLStore) queryAutomations(ctx context.Context, query string, args ...any) ([]*Automation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "query automations").WithCause(err)
	}
	defer rows.Close()

	var out []*Automation
	for rows.Next() {
		a, err := scanAutomation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) UpdateAutomation(ctx context.Context, a *Automation) error {
	def, err := json.Marshal(a.Definition)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "marshal automation definition").WithCause(err)
	}
	a.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE automations SET name = ?, status = ?, definition = ?, updated_at = ?
		WHERE workspace_id = ? AND id = ?`,
		a.Name, string(a.Status), string(def), fmtTime(a.UpdatedAt),
		a.WorkspaceID, a.ID)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "update automation %s", a.ID).WithCause(err)
	}
	return checkRowsAffected(res, "automation", a.ID)
}

func (s *LibSQLStore) DeleteAutomation(ctx context.Context, workspaceID, id string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM automations WHERE workspace_id = ? AND id = ?`, workspaceID, id)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "delete automation %s", id).WithCause(err)
	}
	return checkRowsAffected(res, "automation", id)
}

func (s *LibSQLStore) SetAutomationStatus(ctx context.Context, workspaceID, id string, status schema.AutomationStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE automations SET status = ?, updated_at = ?
		WHERE workspace_id = ? AND id = ?`,
		string(status), fmtTime(time.Now().UTC()), workspaceID, id)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "set automation %s status", id).WithCause(err)
	}
	return checkRowsAffected(res, "automation", id)
}

// --- Runs ---

func (s *LibSQLStore) CreateRun(ctx context.Context, r *Run) error {
	r.StartedAt = timeOrNow(r.StartedAt)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, workspace_id, automation_id, contact_id, status,
			current_step_id, steps_executed, failure_reason, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.WorkspaceID, r.AutomationID, r.ContactID, string(r.Status),
		nullStr(r.CurrentStepID), r.StepsExecuted, nullStr(r.FailureReason),
		fmtTime(r.StartedAt), nullTime(r.EndedAt))
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "insert run %s", r.ID).WithCause(err)
	}
	return nil
}

func (s *LibSQLStore) GetRun(ctx context.Context, workspaceID, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, automation_id, contact_id, status,
			current_step_id, steps_executed, failure_reason, started_at, ended_at
		FROM runs WHERE workspace_id = ? AND id = ?`, workspaceID, id)
	return scanRun(row)
}

func (s *LibSQLStore) ListRuns(ctx context.Context, f RunFilter) ([]*Run, error) {
	query := `SELECT id, workspace_id, automation_id, contact_id, status,
		current_step_id, steps_executed, failure_reason, started_at, ended_at
		FROM runs WHERE workspace_id = ?`
	args := []any{f.WorkspaceID}
	if f.AutomationID != "" {
		query += " AND automation_id = ?"
		args = append(args, f.AutomationID)
	}
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, string(f.Status))
	}
	query += " ORDER BY started_at DESC, id"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "query runs").WithCause(err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) UpdateRun(ctx context.Context, r *Run) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, current_step_id = ?, steps_executed = ?,
			failure_reason = ?, ended_at = ?
		WHERE workspace_id = ? AND id = ?`,
		string(r.Status), nullStr(r.CurrentStepID), r.StepsExecuted,
		nullStr(r.FailureReason), nullTime(r.EndedAt),
		r.WorkspaceID, r.ID)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "update run %s", r.ID).WithCause(err)
	}
	return checkRowsAffected(res, "run", r.ID)
}

func (s *LibSQLStore) CountRuns(ctx context.Context, workspaceID, automationID, contactID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM runs
		WHERE workspace_id = ? AND automation_id = ? AND contact_id = ?`,
		workspaceID, automationID, contactID).Scan(&n)
	if err != nil {
		return 0, schema.NewError(schema.ErrCodeStore, "count runs").WithCause(err)
	}
	return n, nil
}

func (s *LibSQLStore) CancelRunsForAutomation(ctx context.Context, workspaceID, automationID, reason string) (int, error) {
	now := fmtTime(time.Now().UTC())
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = 'cancelled', failure_reason = ?, ended_at = ?
		WHERE workspace_id = ? AND automation_id = ? AND status = 'running'`,
		reason, now, workspaceID, automationID)
	if err != nil {
		return 0, schema.NewErrorf(schema.ErrCodeStore, "cancel runs for automation %s", automationID).WithCause(err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// --- Queue ---

func (s *LibSQLStore) CreateQueueItem(ctx context.Context, q *QueueItem) error {
	now := timeOrNow(q.CreatedAt)
	q.CreatedAt = now
	q.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO queue_items (id, workspace_id, run_id, automation_id,
			contact_id, step_id, status, run_at, attempts, last_error,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.WorkspaceID, q.RunID, q.AutomationID, q.ContactID,
		q.StepID, string(q.Status), fmtTime(q.RunAt), q.Attempts,
		nullStr(q.LastError), fmtTime(now), fmtTime(now))
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "insert queue item %s", q.ID).WithCause(err)
	}
	return nil
}

func (s *LibSQLStore) GetQueueItem(ctx context.Context, workspaceID, id string) (*QueueItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, run_id, automation_id, contact_id, step_id,
			status, run_at, attempts, last_error, created_at, updated_at
		FROM queue_items WHERE workspace_id = ? AND id = ?`, workspaceID, id)
	return scanQueueItem(row)
}

func (s *LibSQLStore) DueQueueItems(ctx context.Context, workspaceID string, now time.Time, limit int) ([]*QueueItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, run_id, automation_id, contact_id, step_id,
			status, run_at, attempts, last_error, created_at, updated_at
		FROM queue_items
		WHERE workspace_id = ? AND status = 'queued' AND run_at <= ?
		ORDER BY run_at, id LIMIT ?`,
		workspaceID, fmtTime(now), limit)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "query due queue items").WithCause(err)
	}
	defer rows.Close()

	var out []*QueueItem
	for rows.Next() {
		q, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) ClaimQueueItem(ctx context.Context, workspaceID, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE queue_items SET status = 'processing', updated_at = ?
		WHERE workspace_id = ? AND id = ? AND status = 'queued'`,
		fmtTime(time.Now().UTC()), workspaceID, id)
	if err != nil {
		return false, schema.NewErrorf(schema.ErrCodeStore, "claim queue item %s", id).WithCause(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, schema.NewError(schema.ErrCodeStore, "claim rows affected").WithCause(err)
	}
	return n == 1, nil
}

func (s *LibSQLStore) FinishQueueItem(ctx context.Context, workspaceID, id string, status schema.QueueItemStatus, lastError string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE queue_items SET status = ?, last_error = ?, updated_at = ?
		WHERE workspace_id = ? AND id = ?`,
		string(status), nullStr(lastError), fmtTime(time.Now().UTC()),
		workspaceID, id)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "finish queue item %s", id).WithCause(err)
	}
	return checkRowsAffected(res, "queue item", id)
}

func (s *LibSQLStore) RequeueItem(ctx context.Context, workspaceID, id string, runAt time.Time, attempts int, lastError string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE queue_items SET status = 'queued', run_at = ?, attempts = ?,
			last_error = ?, updated_at = ?
		WHERE workspace_id = ? AND id = ?`,
		fmtTime(runAt), attempts, nullStr(lastError), fmtTime(time.Now().UTC()),
		workspaceID, id)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "requeue item %s", id).WithCause(err)
	}
	return checkRowsAffected(res, "queue item", id)
}

func (s *LibSQLStore) LiveQueueItemForRun(ctx context.Context, workspaceID, runID string) (*QueueItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, run_id, automation_id, contact_id, step_id,
			status, run_at, attempts, last_error, created_at, updated_at
		FROM queue_items
		WHERE workspace_id = ? AND run_id = ? AND status IN ('queued', 'processing')
		LIMIT 1`, workspaceID, runID)
	return scanQueueItem(row)
}

func (s *LibSQLStore) QueueItemsForRun(ctx context.Context, workspaceID, runID string) ([]*QueueItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, run_id, automation_id, contact_id, step_id,
			status, run_at, attempts, last_error, created_at, updated_at
		FROM queue_items WHERE workspace_id = ? AND run_id = ?
		ORDER BY created_at, id`, workspaceID, runID)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "query queue items for run").WithCause(err)
	}
	defer rows.Close()

	var out []*QueueItem
	for rows.Next() {
		q, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// --- Event log ---

func (s *LibSQLStore) AppendEvent(ctx context.Context, e *ContactEvent) error {
	e.OccurredAt = timeOrNow(e.OccurredAt)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contact_events (id, workspace_id, contact_id, type, meta, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.WorkspaceID, e.ContactID, e.Type, rawOrNil(e.Meta), fmtTime(e.OccurredAt))
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "append event %s", e.ID).WithCause(err)
	}
	return nil
}

func (s *LibSQLStore) EventsAfter(ctx context.Context, w EventWindow) ([]*ContactEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, contact_id, type, meta, occurred_at
		FROM contact_events
		WHERE workspace_id = ? AND (occurred_at > ? OR (occurred_at = ? AND id > ?))
		ORDER BY occurred_at, id LIMIT ?`,
		w.WorkspaceID, fmtTime(w.After.OccurredAt), fmtTime(w.After.OccurredAt),
		w.After.EventID, w.Limit)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "query events").WithCause(err)
	}
	defer rows.Close()

	var out []*ContactEvent
	for rows.Next() {
		e := &ContactEvent{}
		var meta sql.NullString
		var occurred string
		if err := rows.Scan(&e.ID, &e.WorkspaceID, &e.ContactID, &e.Type, &meta, &occurred); err != nil {
			return nil, schema.NewError(schema.ErrCodeStore, "scan event").WithCause(err)
		}
		if meta.Valid {
			e.Meta = json.RawMessage(meta.String)
		}
		e.OccurredAt = parseTime(occurred)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) HasEventSince(ctx context.Context, workspaceID, contactID, eventType string, since time.Time) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM contact_events
			WHERE workspace_id = ? AND contact_id = ? AND type = ? AND occurred_at >= ?
		)`, workspaceID, contactID, eventType, fmtTime(since)).Scan(&n)
	if err != nil {
		return false, schema.NewError(schema.ErrCodeStore, "check events since").WithCause(err)
	}
	return n == 1, nil
}

// --- Cursor ---

func (s *LibSQLStore) GetCursor(ctx context.Context, workspaceID string) (EventCursor, error) {
	var c EventCursor
	var occurred, updated string
	err := s.db.QueryRowContext(ctx, `
		SELECT workspace_id, occurred_at, event_id, updated_at
		FROM event_cursors WHERE workspace_id = ?`, workspaceID).
		Scan(&c.WorkspaceID, &occurred, &c.EventID, &updated)
	if err == sql.ErrNoRows {
		// Zero cursor: everything in the log is unread.
		return EventCursor{WorkspaceID: workspaceID}, nil
	}
	if err != nil {
		return EventCursor{}, schema.NewError(schema.ErrCodeStore, "read cursor").WithCause(err)
	}
	c.OccurredAt = parseTime(occurred)
	c.UpdatedAt = parseTime(updated)
	return c, nil
}

func (s *LibSQLStore) AdvanceCursor(ctx context.Context, workspaceID string, expected, next EventCursor) (bool, error) {
	now := fmtTime(time.Now().UTC())
	if expected.EventID == "" && expected.OccurredAt.IsZero() {
		// First advance for the workspace. The insert loses the race when a
		// concurrent scan got there first.
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO event_cursors (workspace_id, occurred_at, event_id, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (workspace_id) DO NOTHING`,
			workspaceID, fmtTime(next.OccurredAt), next.EventID, now)
		if err != nil {
			return false, schema.NewError(schema.ErrCodeStore, "insert cursor").WithCause(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, schema.NewError(schema.ErrCodeStore, "cursor rows affected").WithCause(err)
		}
		return n == 1, nil
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE event_cursors SET occurred_at = ?, event_id = ?, updated_at = ?
		WHERE workspace_id = ? AND occurred_at = ? AND event_id = ?`,
		fmtTime(next.OccurredAt), next.EventID, now,
		workspaceID, fmtTime(expected.OccurredAt), expected.EventID)
	if err != nil {
		return false, schema.NewError(schema.ErrCodeStore, "advance cursor").WithCause(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, schema.NewError(schema.ErrCodeStore, "cursor rows affected").WithCause(err)
	}
	return n == 1, nil
}

// --- Contacts ---

func (s *LibSQLStore) UpsertContact(ctx context.Context, c *Contact) error {
	tags, err := json.Marshal(c.Tags)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "marshal contact tags").WithCause(err)
	}
	lists, err := json.Marshal(c.Lists)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "marshal contact lists").WithCause(err)
	}
	now := time.Now().UTC()
	c.CreatedAt = timeOrNow(c.CreatedAt)
	c.UpdatedAt = now
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO contacts (id, workspace_id, email, first_name, last_name,
			status, lifecycle_stage, temperature, lead_score, tags, lists,
			fields, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (workspace_id, id) DO UPDATE SET
			email = excluded.email,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			status = excluded.status,
			lifecycle_stage = excluded.lifecycle_stage,
			temperature = excluded.temperature,
			lead_score = excluded.lead_score,
			tags = excluded.tags,
			lists = excluded.lists,
			fields = excluded.fields,
			updated_at = excluded.updated_at`,
		c.ID, c.WorkspaceID, c.Email, nullStr(c.FirstName), nullStr(c.LastName),
		nullStr(c.Status), nullStr(c.LifecycleStage), nullStr(c.Temperature),
		c.LeadScore, string(tags), string(lists), rawOrNil(c.Fields),
		fmtTime(c.CreatedAt), fmtTime(now))
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "upsert contact %s", c.ID).WithCause(err)
	}
	return nil
}

func (s *LibSQLStore) GetContact(ctx context.Context, workspaceID, id string) (*Contact, error) {
	c := &Contact{}
	var firstName, lastName, status, stage, temp, tags, lists, fields sql.NullString
	var created, updated string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, email, first_name, last_name, status,
			lifecycle_stage, temperature, lead_score, tags, lists, fields,
			created_at, updated_at
		FROM contacts WHERE workspace_id = ? AND id = ?`, workspaceID, id).
		Scan(&c.ID, &c.WorkspaceID, &c.Email, &firstName, &lastName, &status,
			&stage, &temp, &c.LeadScore, &tags, &lists, &fields, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("contact", id)
	}
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "read contact %s", id).WithCause(err)
	}
	c.FirstName = firstName.String
	c.LastName = lastName.String
	c.Status = status.String
	c.LifecycleStage = stage.String
	c.Temperature = temp.String
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &c.Tags); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "decode tags for contact %s", id).WithCause(err)
		}
	}
	if lists.Valid && lists.String != "" {
		if err := json.Unmarshal([]byte(lists.String), &c.Lists); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "decode lists for contact %s", id).WithCause(err)
		}
	}
	if fields.Valid {
		c.Fields = json.RawMessage(fields.String)
	}
	c.CreatedAt = parseTime(created)
	c.UpdatedAt = parseTime(updated)
	return c, nil
}

// --- scan helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAutomation(row rowScanner) (*Automation, error) {
	a := &Automation{}
	var status, def, created, updated string
	err := row.Scan(&a.ID, &a.WorkspaceID, &a.Name, &status, &def, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("automation", "")
	}
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "scan automation").WithCause(err)
	}
	a.Status = schema.AutomationStatus(status)
	a.Definition = &schema.AutomationDefinition{}
	if err := json.Unmarshal([]byte(def), a.Definition); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "decode definition for automation %s", a.ID).WithCause(err)
	}
	a.CreatedAt = parseTime(created)
	a.UpdatedAt = parseTime(updated)
	return a, nil
}

func scanRun(row rowScanner) (*Run, error) {
	r := &Run{}
	var status, started string
	var currentStep, failureReason, ended sql.NullString
	err := row.Scan(&r.ID, &r.WorkspaceID, &r.AutomationID, &r.ContactID,
		&status, &currentStep, &r.StepsExecuted, &failureReason, &started, &ended)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("run", "")
	}
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "scan run").WithCause(err)
	}
	r.Status = schema.RunStatus(status)
	r.CurrentStepID = currentStep.String
	r.FailureReason = failureReason.String
	r.StartedAt = parseTime(started)
	if ended.Valid {
		t := parseTime(ended.String)
		r.EndedAt = &t
	}
	return r, nil
}

func scanQueueItem(row rowScanner) (*QueueItem, error) {
	q := &QueueItem{}
	var status, runAt, created, updated string
	var lastError sql.NullString
	err := row.Scan(&q.ID, &q.WorkspaceID, &q.RunID, &q.AutomationID,
		&q.ContactID, &q.StepID, &status, &runAt, &q.Attempts, &lastError,
		&created, &updated)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("queue item", "")
	}
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "scan queue item").WithCause(err)
	}
	q.Status = schema.QueueItemStatus(status)
	q.LastError = lastError.String
	q.RunAt = parseTime(runAt)
	q.CreatedAt = parseTime(created)
	q.UpdatedAt = parseTime(updated)
	return q, nil
}

// --- value helpers ---

// Times are stored as RFC 3339 UTC text with a fixed-width fraction so that
// lexicographic SQL comparison matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func rawOrNil(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "%s rows affected", entity).WithCause(err)
	}
	if n == 0 {
		return storeNotFound(entity, id)
	}
	return nil
}

func storeNotFound(entity, id string) error {
	if id == "" {
		return schema.NewErrorf(schema.ErrCodeNotFound, "%s not found", entity)
	}
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %s not found", entity, id)
}
