package store

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/learning-platform/services/progress/internal/course"
)

const (
	pgForeignKeyViolation = "23503"
	pgLockNotAvailable    = "55P03"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists the course tree and completions in Postgres.
type PostgresStore struct {
	pool *pgxpool.Pool
	pgQueries
	// LockWait is applied as lock_timeout inside WithModuleLock.
	LockWait time.Duration
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, pgQueries: pgQueries{q: pool}, LockWait: 5 * time.Second}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) ToggleLessonCompletion(ctx context.Context, userID, lessonID uuid.UUID) (course.LessonCompletion, error) {
	const q = `INSERT INTO lesson_completions (user_id, lesson_id, is_completed, completed_at, last_accessed)
	           VALUES ($1, $2, true, now(), now())
	           ON CONFLICT (user_id, lesson_id) DO UPDATE SET
	             is_completed  = NOT lesson_completions.is_completed,
	             completed_at  = CASE WHEN lesson_completions.is_completed THEN lesson_completions.completed_at
	                                  ELSE COALESCE(lesson_completions.completed_at, now()) END,
	             last_accessed = now()
	           RETURNING user_id, lesson_id, is_completed, completed_at, last_accessed`
	var lc course.LessonCompletion
	err := s.pool.QueryRow(ctx, q, userID, lessonID).
		Scan(&lc.UserID, &lc.LessonID, &lc.IsCompleted, &lc.CompletedAt, &lc.LastAccessed)
	if err != nil {
		return course.LessonCompletion{}, mapWriteErr(err, course.KindLesson, lessonID)
	}
	return lc, nil
}

// WithModuleLock runs fn in a transaction holding a transaction-scoped
// advisory lock on (user, module).
func (s *PostgresStore) WithModuleLock(ctx context.Context, userID, moduleID uuid.UUID, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if s.LockWait > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.LockWait.Milliseconds())); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, advisoryKey(userID, moduleID)); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable {
			return fmt.Errorf("module lock %s/%s: %w", userID, moduleID, course.ErrConcurrentUpdate)
		}
		return err
	}
	if err := fn(pgQueries{q: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func advisoryKey(userID, moduleID uuid.UUID) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("module_completion"))
	_, _ = h.Write([]byte{':'})
	_, _ = h.Write(userID[:])
	_, _ = h.Write(moduleID[:])
	return int64(h.Sum64())
}

func (s *PostgresStore) ListModuleCompletions(ctx context.Context, after *Cursor, limit int) ([]course.ModuleCompletion, error) {
	if limit <= 0 {
		limit = 100
	}
	var (
		rows pgx.Rows
		err  error
	)
	if after == nil {
		rows, err = s.pool.Query(ctx,
			`SELECT user_id, module_id, is_completed, completed_at
			 FROM module_completions
			 WHERE is_completed
			 ORDER BY user_id, module_id
			 LIMIT $1`, limit)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT user_id, module_id, is_completed, completed_at
			 FROM module_completions
			 WHERE is_completed AND (user_id, module_id) > ($2, $3)
			 ORDER BY user_id, module_id
			 LIMIT $1`, limit, after.UserID, after.ModuleID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []course.ModuleCompletion{}
	for rows.Next() {
		var mc course.ModuleCompletion
		if err := rows.Scan(&mc.UserID, &mc.ModuleID, &mc.IsCompleted, &mc.CompletedAt); err != nil {
			return nil, err
		}
		out = append(out, mc)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Enroll(ctx context.Context, userID, courseID uuid.UUID) (course.Enrollment, error) {
	const q = `INSERT INTO enrollments (user_id, course_id, enrolled_at)
	           VALUES ($1, $2, now())
	           ON CONFLICT (user_id, course_id) DO UPDATE SET user_id = EXCLUDED.user_id
	           RETURNING user_id, course_id, enrolled_at`
	var e course.Enrollment
	if err := s.pool.QueryRow(ctx, q, userID, courseID).Scan(&e.UserID, &e.CourseID, &e.EnrolledAt); err != nil {
		return course.Enrollment{}, mapWriteErr(err, course.KindCourse, courseID)
	}
	return e, nil
}

// pgQueries implements Reader and Writer over either the pool or a tx.
type pgQueries struct {
	q querier
}

func (p pgQueries) GetCourse(ctx context.Context, courseID uuid.UUID) (course.Course, error) {
	var c course.Course
	err := p.q.QueryRow(ctx, `SELECT id, title FROM courses WHERE id = $1`, courseID).Scan(&c.ID, &c.Title)
	if errors.Is(err, pgx.ErrNoRows) {
		return course.Course{}, course.NotFound(course.KindCourse, courseID)
	}
	return c, err
}

func (p pgQueries) GetModule(ctx context.Context, moduleID uuid.UUID) (course.Module, error) {
	var m course.Module
	err := p.q.QueryRow(ctx, `SELECT id, course_id, title, position FROM modules WHERE id = $1`, moduleID).
		Scan(&m.ID, &m.CourseID, &m.Title, &m.Order)
	if errors.Is(err, pgx.ErrNoRows) {
		return course.Module{}, course.NotFound(course.KindModule, moduleID)
	}
	return m, err
}

func (p pgQueries) GetLesson(ctx context.Context, lessonID uuid.UUID) (course.Lesson, error) {
	var l course.Lesson
	err := p.q.QueryRow(ctx, `SELECT id, module_id, title, position, is_required FROM lessons WHERE id = $1`, lessonID).
		Scan(&l.ID, &l.ModuleID, &l.Title, &l.Order, &l.IsRequired)
	if errors.Is(err, pgx.ErrNoRows) {
		return course.Lesson{}, course.NotFound(course.KindLesson, lessonID)
	}
	return l, err
}

func (p pgQueries) ListModules(ctx context.Context, courseID uuid.UUID) ([]course.Module, error) {
	rows, err := p.q.Query(ctx,
		`SELECT id, course_id, title, position FROM modules WHERE course_id = $1 ORDER BY position, id`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []course.Module{}
	for rows.Next() {
		var m course.Module
		if err := rows.Scan(&m.ID, &m.CourseID, &m.Title, &m.Order); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (p pgQueries) ListCourseLessons(ctx context.Context, courseID uuid.UUID) ([]course.Lesson, error) {
	return p.listLessons(ctx,
		`SELECT l.id, l.module_id, l.title, l.position, l.is_required
		 FROM lessons l JOIN modules m ON m.id = l.module_id
		 WHERE m.course_id = $1
		 ORDER BY m.position, m.id, l.position, l.id`, courseID)
}

func (p pgQueries) ListModuleLessons(ctx context.Context, moduleID uuid.UUID) ([]course.Lesson, error) {
	return p.listLessons(ctx,
		`SELECT id, module_id, title, position, is_required
		 FROM lessons WHERE module_id = $1 ORDER BY position, id`, moduleID)
}

func (p pgQueries) listLessons(ctx context.Context, q string, arg uuid.UUID) ([]course.Lesson, error) {
	rows, err := p.q.Query(ctx, q, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []course.Lesson{}
	for rows.Next() {
		var l course.Lesson
		if err := rows.Scan(&l.ID, &l.ModuleID, &l.Title, &l.Order, &l.IsRequired); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (p pgQueries) GetLessonCompletion(ctx context.Context, userID, lessonID uuid.UUID) (*course.LessonCompletion, error) {
	var lc course.LessonCompletion
	err := p.q.QueryRow(ctx,
		`SELECT user_id, lesson_id, is_completed, completed_at, last_accessed
		 FROM lesson_completions WHERE user_id = $1 AND lesson_id = $2`, userID, lessonID).
		Scan(&lc.UserID, &lc.LessonID, &lc.IsCompleted, &lc.CompletedAt, &lc.LastAccessed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &lc, nil
}

func (p pgQueries) GetModuleCompletion(ctx context.Context, userID, moduleID uuid.UUID) (*course.ModuleCompletion, error) {
	var mc course.ModuleCompletion
	err := p.q.QueryRow(ctx,
		`SELECT user_id, module_id, is_completed, completed_at
		 FROM module_completions WHERE user_id = $1 AND module_id = $2`, userID, moduleID).
		Scan(&mc.UserID, &mc.ModuleID, &mc.IsCompleted, &mc.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &mc, nil
}

func (p pgQueries) CountLessonCompletions(ctx context.Context, userID uuid.UUID, lessonIDs []uuid.UUID) (int, error) {
	if len(lessonIDs) == 0 {
		return 0, nil
	}
	var n int
	err := p.q.QueryRow(ctx,
		`SELECT count(*) FROM lesson_completions
		 WHERE user_id = $1 AND lesson_id = ANY($2) AND is_completed`, userID, lessonIDs).Scan(&n)
	return n, err
}

func (p pgQueries) ListCompletedModuleIDs(ctx context.Context, userID uuid.UUID, moduleIDs []uuid.UUID) ([]uuid.UUID, error) {
	out := []uuid.UUID{}
	if len(moduleIDs) == 0 {
		return out, nil
	}
	rows, err := p.q.Query(ctx,
		`SELECT module_id FROM module_completions
		 WHERE user_id = $1 AND module_id = ANY($2) AND is_completed`, userID, moduleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	done := make(map[uuid.UUID]struct{})
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		done[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, id := range moduleIDs {
		if _, ok := done[id]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (p pgQueries) IsEnrolled(ctx context.Context, userID, courseID uuid.UUID) (bool, error) {
	var ok bool
	err := p.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM enrollments WHERE user_id = $1 AND course_id = $2)`, userID, courseID).Scan(&ok)
	return ok, err
}

func (p pgQueries) ListEnrollments(ctx context.Context, courseID uuid.UUID) ([]course.Enrollment, error) {
	rows, err := p.q.Query(ctx,
		`SELECT user_id, course_id, enrolled_at FROM enrollments
		 WHERE course_id = $1 ORDER BY enrolled_at, user_id`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []course.Enrollment{}
	for rows.Next() {
		var e course.Enrollment
		if err := rows.Scan(&e.UserID, &e.CourseID, &e.EnrolledAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p pgQueries) UpsertLessonCompletion(ctx context.Context, userID, lessonID uuid.UUID, isCompleted bool, completedAt *time.Time) (course.LessonCompletion, error) {
	const q = `INSERT INTO lesson_completions (user_id, lesson_id, is_completed, completed_at, last_accessed)
	           VALUES ($1, $2, $3::boolean,
	                   CASE WHEN $3::boolean THEN COALESCE($4::timestamptz, now()) END, now())
	           ON CONFLICT (user_id, lesson_id) DO UPDATE SET
	             is_completed  = EXCLUDED.is_completed,
	             completed_at  = COALESCE(lesson_completions.completed_at, EXCLUDED.completed_at),
	             last_accessed = now()
	           RETURNING user_id, lesson_id, is_completed, completed_at, last_accessed`
	var lc course.LessonCompletion
	err := p.q.QueryRow(ctx, q, userID, lessonID, isCompleted, completedAt).
		Scan(&lc.UserID, &lc.LessonID, &lc.IsCompleted, &lc.CompletedAt, &lc.LastAccessed)
	if err != nil {
		return course.LessonCompletion{}, mapWriteErr(err, course.KindLesson, lessonID)
	}
	return lc, nil
}

func (p pgQueries) UpsertModuleCompletion(ctx context.Context, userID, moduleID uuid.UUID, isCompleted bool, completedAt *time.Time) (course.ModuleCompletion, error) {
	const q = `INSERT INTO module_completions (user_id, module_id, is_completed, completed_at)
	           VALUES ($1, $2, $3::boolean,
	                   CASE WHEN $3::boolean THEN COALESCE($4::timestamptz, now()) END)
	           ON CONFLICT (user_id, module_id) DO UPDATE SET
	             is_completed = EXCLUDED.is_completed,
	             completed_at = COALESCE(module_completions.completed_at, EXCLUDED.completed_at)
	           RETURNING user_id, module_id, is_completed, completed_at`
	var mc course.ModuleCompletion
	err := p.q.QueryRow(ctx, q, userID, moduleID, isCompleted, completedAt).
		Scan(&mc.UserID, &mc.ModuleID, &mc.IsCompleted, &mc.CompletedAt)
	if err != nil {
		return course.ModuleCompletion{}, mapWriteErr(err, course.KindModule, moduleID)
	}
	return mc, nil
}

func mapWriteErr(err error, kind course.Kind, id uuid.UUID) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
		return course.NotFound(kind, id)
	}
	return err
}
