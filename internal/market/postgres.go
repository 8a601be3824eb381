package market

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore backs the engagement core with postgres. Invariants that need
// to hold across concurrent writers are enforced with unique indexes and row
// locks rather than read-then-write checks:
//
//   - one active task per creator: partial unique index on (created_by)
//   - one request per (task, requester): unique index
//   - accept / reopen / gated append: single transaction with FOR UPDATE
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL,
			images TEXT[] NOT NULL DEFAULT '{}',
			location TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			created_by TEXT NOT NULL,
			assigned_to TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_one_active
			ON tasks (created_by) WHERE status IN ('open', 'in_progress');`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status_created ON tasks (status, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS requests (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			requester TEXT NOT NULL,
			message TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_requests_task_requester
			ON requests (task_id, requester);`,
		`CREATE INDEX IF NOT EXISTS idx_requests_task_status ON requests (task_id, status);`,
		`CREATE INDEX IF NOT EXISTS idx_requests_requester ON requests (requester, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS channels (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			participant_a TEXT NOT NULL,
			participant_b TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_channels_task_pair
			ON channels (task_id, LEAST(participant_a, participant_b), GREATEST(participant_a, participant_b));`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			channel_id TEXT NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
			sender TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_channel_created ON messages (channel_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			type TEXT NOT NULL,
			title TEXT NOT NULL,
			body TEXT NOT NULL,
			from_user_id TEXT NOT NULL,
			task_id TEXT NOT NULL DEFAULT '',
			channel_id TEXT NOT NULL DEFAULT '',
			action_url TEXT NOT NULL DEFAULT '',
			read BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_user_read
			ON notifications (user_id, read, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS ratings (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			rater TEXT NOT NULL,
			target TEXT NOT NULL,
			score INTEGER NOT NULL,
			comment TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_ratings_task_rater_target
			ON ratings (task_id, rater, target);`,
		`CREATE INDEX IF NOT EXISTS idx_ratings_target ON ratings (target, created_at DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" && pgErr.ConstraintName == constraint
}

// --- tasks ---

const taskColumns = `id, title, description, images, location, status, created_by, assigned_to, created_at, updated_at`

func scanTask(row pgx.Row) (Task, error) {
	var (
		t          Task
		status     string
		createdBy  string
		assignedTo string
	)
	if err := row.Scan(
		&t.ID,
		&t.Title,
		&t.Description,
		&t.Images,
		&t.Location,
		&status,
		&createdBy,
		&assignedTo,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		return Task{}, err
	}
	t.Status = TaskStatus(status)
	t.CreatedBy = UserID(createdBy)
	t.AssignedTo = UserID(assignedTo)
	return t, nil
}

func (s *PostgresStore) CreateTask(ctx context.Context, task Task) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	task.UpdatedAt = task.CreatedAt
	if task.Images == nil {
		task.Images = []string{}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO tasks (`+taskColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		task.ID,
		task.Title,
		task.Description,
		task.Images,
		task.Location,
		string(task.Status),
		string(task.CreatedBy),
		string(task.AssignedTo),
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "idx_tasks_one_active") {
			return ErrActiveTaskExists
		}
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTask(ctx context.Context, id string) (Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1`, id)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Task{}, ErrTaskNotFound
		}
		return Task{}, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) ListTasks(ctx context.Context, filter TaskFilter) ([]Task, int, error) {
	where := make([]string, 0, 2)
	args := make([]any, 0, 4)

	switch {
	case filter.Status != "":
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status=$%d", len(args)))
	case !filter.All:
		where = append(where, "status <> 'closed'")
	}
	if needle := strings.TrimSpace(filter.Search); needle != "" {
		args = append(args, "%"+needle+"%")
		where = append(where, fmt.Sprintf("(title ILIKE $%d OR description ILIKE $%d)", len(args), len(args)))
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tasks`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultTaskPageLimit
	}
	args = append(args, limit, filter.Skip)
	query := fmt.Sprintf(`SELECT `+taskColumns+` FROM tasks`+clause+
		` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	out := make([]Task, 0, limit)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate tasks: %w", err)
	}
	return out, total, nil
}

func (s *PostgresStore) ListTasksByCreator(ctx context.Context, creator UserID) ([]Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE created_by=$1 ORDER BY created_at DESC`,
		string(creator),
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks by creator: %w", err)
	}
	defer rows.Close()

	out := make([]Task, 0, 4)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountActiveTasks(ctx context.Context, creator UserID) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM tasks WHERE created_by=$1 AND status IN ('open', 'in_progress')`,
		string(creator),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active tasks: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) CloseTask(ctx context.Context, id string) (Task, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE tasks SET status='closed', updated_at=$2
		  WHERE id=$1 AND status <> 'closed'
		  RETURNING `+taskColumns,
		id, time.Now().UTC(),
	)
	t, err := scanTask(row)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Task{}, fmt.Errorf("close task: %w", err)
	}
	// No row updated: distinguish missing from already closed.
	if _, err := s.GetTask(ctx, id); err != nil {
		return Task{}, err
	}
	return Task{}, ErrTaskAlreadyClosed
}

func (s *PostgresStore) ReopenTask(ctx context.Context, id string) (Task, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Task{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1 FOR UPDATE`, id)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Task{}, ErrTaskNotFound
		}
		return Task{}, fmt.Errorf("lock task: %w", err)
	}
	if t.Status != TaskStatusInProgress {
		return Task{}, ErrTaskNotInProgress
	}

	ts := time.Now().UTC()
	if _, err := tx.Exec(ctx,
		`UPDATE requests SET status='rejected', updated_at=$2 WHERE task_id=$1 AND status='accepted'`,
		id, ts,
	); err != nil {
		return Task{}, fmt.Errorf("revoke accepted request: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE tasks SET status='open', assigned_to='', updated_at=$2 WHERE id=$1`,
		id, ts,
	); err != nil {
		return Task{}, fmt.Errorf("reopen task: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Task{}, fmt.Errorf("commit tx: %w", err)
	}

	t.Status = TaskStatusOpen
	t.AssignedTo = ""
	t.UpdatedAt = ts
	return t, nil
}

// --- requests ---

const requestColumns = `id, task_id, requester, message, status, created_at, updated_at`

func scanRequest(row pgx.Row) (Request, error) {
	var (
		r         Request
		requester string
		status    string
	)
	if err := row.Scan(
		&r.ID,
		&r.TaskID,
		&requester,
		&r.Message,
		&status,
		&r.CreatedAt,
		&r.UpdatedAt,
	); err != nil {
		return Request{}, err
	}
	r.Requester = UserID(requester)
	r.Status = RequestStatus(status)
	return r, nil
}

func (s *PostgresStore) CreateRequest(ctx context.Context, req Request) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	req.UpdatedAt = req.CreatedAt

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		status    string
		createdBy string
	)
	err = tx.QueryRow(ctx, `SELECT status, created_by FROM tasks WHERE id=$1 FOR UPDATE`, req.TaskID).
		Scan(&status, &createdBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTaskNotFound
		}
		return fmt.Errorf("lock task: %w", err)
	}
	if TaskStatus(status) != TaskStatusOpen {
		return ErrTaskNotOpen
	}
	if UserID(createdBy) == req.Requester {
		return ErrOwnTask
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO requests (`+requestColumns+`) VALUES ($1,$2,$3,$4,'pending',$5,$6)`,
		req.ID, req.TaskID, string(req.Requester), req.Message, req.CreatedAt, req.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "idx_requests_task_requester") {
			return ErrDuplicateRequest
		}
		return fmt.Errorf("insert request: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRequest(ctx context.Context, id string) (Request, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM requests WHERE id=$1`, id)
	r, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrRequestNotFound
		}
		return Request{}, fmt.Errorf("get request: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) FindRequest(ctx context.Context, taskID string, requester UserID) (Request, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM requests WHERE task_id=$1 AND requester=$2`,
		taskID, string(requester),
	)
	r, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrRequestNotFound
		}
		return Request{}, fmt.Errorf("find request: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) listRequests(ctx context.Context, query string, args ...any) ([]Request, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	out := make([]Request, 0, 4)
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListRequestsByTask(ctx context.Context, taskID string) ([]Request, error) {
	return s.listRequests(ctx,
		`SELECT `+requestColumns+` FROM requests WHERE task_id=$1 ORDER BY created_at DESC`, taskID)
}

func (s *PostgresStore) ListRequestsByRequester(ctx context.Context, requester UserID) ([]Request, error) {
	return s.listRequests(ctx,
		`SELECT `+requestColumns+` FROM requests WHERE requester=$1 ORDER BY created_at DESC`,
		string(requester))
}

func (s *PostgresStore) ListPendingRequestsForCreator(ctx context.Context, creator UserID) ([]Request, error) {
	return s.listRequests(ctx,
		`SELECT r.id, r.task_id, r.requester, r.message, r.status, r.created_at, r.updated_at
		   FROM requests r
		   JOIN tasks t ON t.id = r.task_id
		  WHERE t.created_by=$1 AND t.status='open' AND r.status='pending'
		  ORDER BY r.created_at DESC`,
		string(creator))
}

func (s *PostgresStore) CountPendingRequestsForCreator(ctx context.Context, creator UserID) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*)
		   FROM requests r
		   JOIN tasks t ON t.id = r.task_id
		  WHERE t.created_by=$1 AND t.status='open' AND r.status='pending'`,
		string(creator),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending requests: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) AcceptRequest(ctx context.Context, id string) (Request, Task, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Request{}, Task{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `SELECT `+requestColumns+` FROM requests WHERE id=$1 FOR UPDATE`, id)
	r, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, Task{}, ErrRequestNotFound
		}
		return Request{}, Task{}, fmt.Errorf("lock request: %w", err)
	}
	if r.Status != RequestStatusPending {
		return Request{}, Task{}, ErrRequestNotPending
	}

	row = tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1 FOR UPDATE`, r.TaskID)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, Task{}, ErrTaskNotFound
		}
		return Request{}, Task{}, fmt.Errorf("lock task: %w", err)
	}
	if t.Status != TaskStatusOpen {
		return Request{}, Task{}, ErrTaskNotOpen
	}

	ts := time.Now().UTC()
	if _, err := tx.Exec(ctx,
		`UPDATE requests SET status='accepted', updated_at=$2 WHERE id=$1`, id, ts,
	); err != nil {
		return Request{}, Task{}, fmt.Errorf("accept request: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE tasks SET status='in_progress', assigned_to=$2, updated_at=$3 WHERE id=$1`,
		t.ID, string(r.Requester), ts,
	); err != nil {
		return Request{}, Task{}, fmt.Errorf("assign task: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE requests SET status='rejected', updated_at=$3
		  WHERE task_id=$1 AND id <> $2 AND status='pending'`,
		t.ID, id, ts,
	); err != nil {
		return Request{}, Task{}, fmt.Errorf("reject siblings: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Request{}, Task{}, fmt.Errorf("commit tx: %w", err)
	}

	r.Status = RequestStatusAccepted
	r.UpdatedAt = ts
	t.Status = TaskStatusInProgress
	t.AssignedTo = r.Requester
	t.UpdatedAt = ts
	return r, t, nil
}

func (s *PostgresStore) RejectRequest(ctx context.Context, id string) (Request, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE requests SET status='rejected', updated_at=$2
		  WHERE id=$1 AND status='pending'
		  RETURNING `+requestColumns,
		id, time.Now().UTC(),
	)
	r, err := scanRequest(row)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Request{}, fmt.Errorf("reject request: %w", err)
	}
	if _, err := s.GetRequest(ctx, id); err != nil {
		return Request{}, err
	}
	return Request{}, ErrRequestNotPending
}

// --- chat ---

const channelColumns = `id, task_id, participant_a, participant_b, created_at`

func scanChannel(row pgx.Row) (Channel, error) {
	var (
		c    Channel
		a, b string
	)
	if err := row.Scan(&c.ID, &c.TaskID, &a, &b, &c.CreatedAt); err != nil {
		return Channel{}, err
	}
	c.Participants = [2]UserID{UserID(a), UserID(b)}
	return c, nil
}

func (s *PostgresStore) FindChannel(ctx context.Context, taskID string, a, b UserID) (Channel, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+channelColumns+` FROM channels
		  WHERE task_id=$1
		    AND LEAST(participant_a, participant_b)=LEAST($2::text, $3::text)
		    AND GREATEST(participant_a, participant_b)=GREATEST($2::text, $3::text)`,
		taskID, string(a), string(b),
	)
	c, err := scanChannel(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Channel{}, ErrChannelNotFound
		}
		return Channel{}, fmt.Errorf("find channel: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) GetOrCreateChannel(ctx context.Context, taskID string, a, b UserID) (Channel, bool, error) {
	c, err := s.FindChannel(ctx, taskID, a, b)
	if err == nil {
		return c, false, nil
	}
	if !errors.Is(err, ErrChannelNotFound) {
		return Channel{}, false, err
	}

	c = Channel{
		ID:           uuid.NewString(),
		TaskID:       taskID,
		Participants: [2]UserID{a, b},
		CreatedAt:    time.Now().UTC(),
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO channels (`+channelColumns+`) VALUES ($1,$2,$3,$4,$5)`,
		c.ID, c.TaskID, string(a), string(b), c.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "idx_channels_task_pair") {
			// Lost the creation race; the winner's channel is the channel.
			return s.channelAfterRace(ctx, taskID, a, b)
		}
		return Channel{}, false, fmt.Errorf("insert channel: %w", err)
	}
	return c, true, nil
}

func (s *PostgresStore) channelAfterRace(ctx context.Context, taskID string, a, b UserID) (Channel, bool, error) {
	c, err := s.FindChannel(ctx, taskID, a, b)
	if err != nil {
		return Channel{}, false, err
	}
	return c, false, nil
}

func (s *PostgresStore) ListChannelsByUser(ctx context.Context, user UserID) ([]Channel, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+channelColumns+` FROM channels
		  WHERE participant_a=$1 OR participant_b=$1
		  ORDER BY created_at DESC`,
		string(user),
	)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	out := make([]Channel, 0, 4)
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListMessages(ctx context.Context, channelID string) ([]Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, channel_id, sender, content, created_at
		   FROM messages WHERE channel_id=$1 ORDER BY created_at ASC`,
		channelID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := make([]Message, 0, 16)
	for rows.Next() {
		var (
			m      Message
			sender string
		)
		if err := rows.Scan(&m.ID, &m.ChannelID, &sender, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Sender = UserID(sender)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreatorHasMessaged(ctx context.Context, taskID string, user UserID) (bool, error) {
	return creatorHasMessaged(ctx, s.pool, taskID, user)
}

// querier covers both the pool and an open transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func creatorHasMessaged(ctx context.Context, q querier, taskID string, user UserID) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1
			  FROM messages m
			  JOIN channels c ON c.id = m.channel_id
			  JOIN tasks t ON t.id = c.task_id
			 WHERE c.task_id=$1
			   AND m.sender = t.created_by
			   AND (c.participant_a=$2 OR c.participant_b=$2)
		)`,
		taskID, string(user),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("creator contact lookup: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, taskID string, sender, recipient UserID, content string) (Message, Channel, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Message{}, Channel{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1 FOR UPDATE`, taskID)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, Channel{}, false, ErrTaskNotFound
		}
		return Message{}, Channel{}, false, fmt.Errorf("lock task: %w", err)
	}

	// Lock the task's request rows so an accept/reject racing this send
	// serializes against the policy check below.
	rows, err := tx.Query(ctx,
		`SELECT `+requestColumns+` FROM requests WHERE task_id=$1 FOR UPDATE`, taskID)
	if err != nil {
		return Message{}, Channel{}, false, fmt.Errorf("lock requests: %w", err)
	}
	requests := make([]Request, 0, 4)
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			rows.Close()
			return Message{}, Channel{}, false, fmt.Errorf("scan request: %w", err)
		}
		requests = append(requests, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Message{}, Channel{}, false, fmt.Errorf("iterate requests: %w", err)
	}

	decision, err := CanChat(sender, t, requests, func(u UserID) (bool, error) {
		return creatorHasMessaged(ctx, tx, taskID, u)
	})
	if err != nil {
		return Message{}, Channel{}, false, err
	}
	if !decision.Allowed {
		return Message{}, Channel{}, false, ChatDenied(decision.Reason)
	}

	// The task row lock serializes channel creation per task.
	row = tx.QueryRow(ctx,
		`SELECT `+channelColumns+` FROM channels
		  WHERE task_id=$1
		    AND LEAST(participant_a, participant_b)=LEAST($2::text, $3::text)
		    AND GREATEST(participant_a, participant_b)=GREATEST($2::text, $3::text)`,
		taskID, string(sender), string(recipient),
	)
	ch, err := scanChannel(row)
	created := false
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return Message{}, Channel{}, false, fmt.Errorf("find channel: %w", err)
		}
		ch = Channel{
			ID:           uuid.NewString(),
			TaskID:       taskID,
			Participants: [2]UserID{sender, recipient},
			CreatedAt:    time.Now().UTC(),
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO channels (`+channelColumns+`) VALUES ($1,$2,$3,$4,$5)`,
			ch.ID, ch.TaskID, string(sender), string(recipient), ch.CreatedAt,
		); err != nil {
			return Message{}, Channel{}, false, fmt.Errorf("insert channel: %w", err)
		}
		created = true
	}

	msg := Message{
		ID:        uuid.NewString(),
		ChannelID: ch.ID,
		Sender:    sender,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO messages (id, channel_id, sender, content, created_at) VALUES ($1,$2,$3,$4,$5)`,
		msg.ID, msg.ChannelID, string(msg.Sender), msg.Content, msg.CreatedAt,
	); err != nil {
		return Message{}, Channel{}, false, fmt.Errorf("insert message: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Message{}, Channel{}, false, fmt.Errorf("commit tx: %w", err)
	}
	return msg, ch, created, nil
}

// --- notifications ---

const notificationColumns = `id, user_id, type, title, body, from_user_id, task_id, channel_id, action_url, read, created_at`

func scanNotification(row pgx.Row) (Notification, error) {
	var (
		n        Notification
		userID   string
		notifTyp string
		from     string
	)
	if err := row.Scan(
		&n.ID,
		&userID,
		&notifTyp,
		&n.Title,
		&n.Body,
		&from,
		&n.TaskID,
		&n.ChannelID,
		&n.ActionURL,
		&n.Read,
		&n.CreatedAt,
	); err != nil {
		return Notification{}, err
	}
	n.UserID = UserID(userID)
	n.Type = NotificationType(notifTyp)
	n.FromUserID = UserID(from)
	return n, nil
}

func (s *PostgresStore) CreateNotification(ctx context.Context, n Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO notifications (`+notificationColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		n.ID, string(n.UserID), string(n.Type), n.Title, n.Body,
		string(n.FromUserID), n.TaskID, n.ChannelID, n.ActionURL, n.Read, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListNotifications(ctx context.Context, user UserID, unreadOnly bool, limit, skip int) ([]Notification, int, int, error) {
	if limit <= 0 {
		limit = DefaultNotificationPageLimit
	}
	clause := `WHERE user_id=$1`
	if unreadOnly {
		clause += ` AND read=FALSE`
	}

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications `+clause, string(user),
	).Scan(&total); err != nil {
		return nil, 0, 0, fmt.Errorf("count notifications: %w", err)
	}
	unread, err := s.CountUnreadNotifications(ctx, user)
	if err != nil {
		return nil, 0, 0, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+notificationColumns+` FROM notifications `+clause+
			` ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		string(user), limit, skip,
	)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	out := make([]Notification, 0, limit)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, 0, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, total, unread, rows.Err()
}

func (s *PostgresStore) CountUnreadNotifications(ctx context.Context, user UserID) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id=$1 AND read=FALSE`,
		string(user),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) MarkNotificationRead(ctx context.Context, user UserID, id string) (Notification, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE notifications SET read=TRUE WHERE id=$1 AND user_id=$2 RETURNING `+notificationColumns,
		id, string(user),
	)
	n, err := scanNotification(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Notification{}, ErrNotificationNotFound
		}
		return Notification{}, fmt.Errorf("mark notification read: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) MarkAllNotificationsRead(ctx context.Context, user UserID) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE notifications SET read=TRUE WHERE user_id=$1 AND read=FALSE`,
		string(user),
	); err != nil {
		return fmt.Errorf("mark all notifications read: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteNotification(ctx context.Context, user UserID, id string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM notifications WHERE id=$1 AND user_id=$2`,
		id, string(user),
	)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

// --- ratings ---

func (s *PostgresStore) CreateRating(ctx context.Context, r Rating) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ratings (id, task_id, rater, target, score, comment, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		r.ID, r.TaskID, string(r.Rater), string(r.Target), r.Score, r.Comment, r.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "idx_ratings_task_rater_target") {
			return ErrDuplicateRating
		}
		return fmt.Errorf("insert rating: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListRatingsForUser(ctx context.Context, target UserID, limit int) ([]Rating, error) {
	if limit <= 0 {
		limit = DefaultRatingPageLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, task_id, rater, target, score, comment, created_at
		   FROM ratings WHERE target=$1 ORDER BY created_at DESC LIMIT $2`,
		string(target), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list ratings: %w", err)
	}
	defer rows.Close()

	out := make([]Rating, 0, limit)
	for rows.Next() {
		var (
			r           Rating
			rater, targ string
		)
		if err := rows.Scan(&r.ID, &r.TaskID, &rater, &targ, &r.Score, &r.Comment, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan rating: %w", err)
		}
		r.Rater = UserID(rater)
		r.Target = UserID(targ)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) RatingSummary(ctx context.Context, target UserID) (float64, int, error) {
	var (
		avg   float64
		count int
	)
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(AVG(score), 0), COUNT(*) FROM ratings WHERE target=$1`,
		string(target),
	).Scan(&avg, &count)
	if err != nil {
		return 0, 0, fmt.Errorf("rating summary: %w", err)
	}
	return avg, count, nil
}
