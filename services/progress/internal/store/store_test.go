package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/example/learning-platform/services/progress/internal/course"
)

var (
	_ Store = (*InMemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
	_ Tx    = pgQueries{}
)

type fixture struct {
	s       *InMemoryStore
	course  course.Course
	module  course.Module
	lessons []course.Lesson
}

func newFixture(t *testing.T, lessons int) fixture {
	t.Helper()
	s := NewInMemoryStore()
	c := s.AddCourse(course.Course{Title: "Go basics"})
	m, err := s.AddModule(course.Module{CourseID: c.ID, Title: "Syntax", Order: 1})
	if err != nil {
		t.Fatalf("add module: %v", err)
	}
	f := fixture{s: s, course: c, module: m}
	for i := 0; i < lessons; i++ {
		l, err := s.AddLesson(course.Lesson{ModuleID: m.ID, Title: "lesson", Order: i})
		if err != nil {
			t.Fatalf("add lesson: %v", err)
		}
		f.lessons = append(f.lessons, l)
	}
	return f
}

func TestInMemoryStore_ToggleCreatesCompleted(t *testing.T) {
	f := newFixture(t, 1)
	user := uuid.New()

	lc, err := f.s.ToggleLessonCompletion(context.Background(), user, f.lessons[0].ID)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if !lc.IsCompleted || lc.CompletedAt == nil {
		t.Fatalf("expected completed record with timestamp, got %+v", lc)
	}
}

func TestInMemoryStore_ToggleKeepsFirstCompletedAt(t *testing.T) {
	f := newFixture(t, 1)
	user := uuid.New()
	ctx := context.Background()
	t0 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	now := t0
	f.s.SetClock(func() time.Time { return now })

	first, _ := f.s.ToggleLessonCompletion(ctx, user, f.lessons[0].ID)
	now = t0.Add(time.Hour)
	off, _ := f.s.ToggleLessonCompletion(ctx, user, f.lessons[0].ID)
	if off.IsCompleted {
		t.Fatal("expected second toggle to un-complete")
	}
	if off.CompletedAt == nil || !off.CompletedAt.Equal(*first.CompletedAt) {
		t.Fatalf("completed_at must survive un-toggle, got %v", off.CompletedAt)
	}
	now = t0.Add(2 * time.Hour)
	again, _ := f.s.ToggleLessonCompletion(ctx, user, f.lessons[0].ID)
	if !again.CompletedAt.Equal(t0) {
		t.Fatalf("re-completion must keep first timestamp, got %v", again.CompletedAt)
	}
	if !again.LastAccessed.Equal(now) {
		t.Fatalf("expected last_accessed %v, got %v", now, again.LastAccessed)
	}
}

func TestInMemoryStore_UpsertModuleRatchet(t *testing.T) {
	f := newFixture(t, 1)
	user := uuid.New()
	ctx := context.Background()
	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(24 * time.Hour)

	mc, err := f.s.UpsertModuleCompletion(ctx, user, f.module.ID, true, &t1)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !mc.CompletedAt.Equal(t1) {
		t.Fatalf("expected %v, got %v", t1, mc.CompletedAt)
	}
	mc, _ = f.s.UpsertModuleCompletion(ctx, user, f.module.ID, true, &t2)
	if !mc.CompletedAt.Equal(t1) {
		t.Fatalf("completed_at overwritten: %v", mc.CompletedAt)
	}
}

func TestInMemoryStore_UnknownIDs(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	user := uuid.New()

	if _, err := f.s.ToggleLessonCompletion(ctx, user, uuid.New()); !errors.Is(err, course.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := f.s.UpsertModuleCompletion(ctx, user, uuid.New(), true, nil); !errors.Is(err, course.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := f.s.GetCourse(ctx, uuid.New()); !errors.Is(err, course.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := f.s.Enroll(ctx, user, uuid.New()); !errors.Is(err, course.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	lc, err := f.s.GetLessonCompletion(ctx, user, uuid.New())
	if err != nil || lc != nil {
		t.Fatalf("expected nil, nil for absent record, got %v, %v", lc, err)
	}
}

func TestInMemoryStore_CountLessonCompletions(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	user := uuid.New()
	other := uuid.New()

	_, _ = f.s.ToggleLessonCompletion(ctx, user, f.lessons[0].ID)
	_, _ = f.s.ToggleLessonCompletion(ctx, user, f.lessons[1].ID)
	_, _ = f.s.ToggleLessonCompletion(ctx, user, f.lessons[1].ID)
	_, _ = f.s.ToggleLessonCompletion(ctx, other, f.lessons[2].ID)

	ids := []uuid.UUID{f.lessons[0].ID, f.lessons[1].ID, f.lessons[2].ID}
	n, err := f.s.CountLessonCompletions(ctx, user, ids)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 completion, got %d", n)
	}
}

func TestInMemoryStore_ListOrdering(t *testing.T) {
	s := NewInMemoryStore()
	c := s.AddCourse(course.Course{Title: "c"})
	m2, _ := s.AddModule(course.Module{CourseID: c.ID, Title: "second", Order: 2})
	m1, _ := s.AddModule(course.Module{CourseID: c.ID, Title: "first", Order: 1})
	l2, _ := s.AddLesson(course.Lesson{ModuleID: m2.ID, Order: 1})
	l1, _ := s.AddLesson(course.Lesson{ModuleID: m1.ID, Order: 5})

	mods, _ := s.ListModules(context.Background(), c.ID)
	if len(mods) != 2 || mods[0].ID != m1.ID {
		t.Fatalf("expected modules ordered by position, got %+v", mods)
	}
	lessons, _ := s.ListCourseLessons(context.Background(), c.ID)
	if len(lessons) != 2 || lessons[0].ID != l1.ID || lessons[1].ID != l2.ID {
		t.Fatalf("expected lessons ordered by module then position, got %+v", lessons)
	}
}

func TestInMemoryStore_ListModuleCompletionsPaging(t *testing.T) {
	s := NewInMemoryStore()
	c := s.AddCourse(course.Course{Title: "c"})
	ctx := context.Background()
	var mods []course.Module
	for i := 0; i < 3; i++ {
		m, _ := s.AddModule(course.Module{CourseID: c.ID, Order: i})
		mods = append(mods, m)
	}
	users := []uuid.UUID{uuid.New(), uuid.New()}
	for _, u := range users {
		for _, m := range mods {
			if _, err := s.UpsertModuleCompletion(ctx, u, m.ID, true, nil); err != nil {
				t.Fatalf("upsert: %v", err)
			}
		}
	}
	// not completed: excluded
	_, _ = s.UpsertModuleCompletion(ctx, uuid.New(), mods[0].ID, false, nil)

	var (
		seen   int
		cursor *Cursor
	)
	for {
		page, err := s.ListModuleCompletions(ctx, cursor, 4)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(page) == 0 {
			break
		}
		for i, mc := range page {
			if cursor != nil && !cursor.Less(*CursorOf(mc)) {
				t.Fatalf("page item %d not after cursor", i)
			}
			cursor = CursorOf(mc)
			seen++
		}
	}
	if seen != 6 {
		t.Fatalf("expected 6 completed modules, got %d", seen)
	}
}

func TestInMemoryStore_EnrollIdempotent(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	user := uuid.New()

	first, err := f.s.Enroll(ctx, user, f.course.ID)
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}
	second, _ := f.s.Enroll(ctx, user, f.course.ID)
	if !first.EnrolledAt.Equal(second.EnrolledAt) {
		t.Fatal("expected re-enroll to keep original enrolled_at")
	}
	ok, _ := f.s.IsEnrolled(ctx, user, f.course.ID)
	if !ok {
		t.Fatal("expected enrolled")
	}
	list, _ := f.s.ListEnrollments(ctx, f.course.ID)
	if len(list) != 1 {
		t.Fatalf("expected 1 enrollment, got %d", len(list))
	}
}

func TestInMemoryStore_WithModuleLockTimeout(t *testing.T) {
	f := newFixture(t, 1)
	f.s.LockWait = 20 * time.Millisecond
	user := uuid.New()
	ctx := context.Background()

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- f.s.WithModuleLock(ctx, user, f.module.ID, func(Tx) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	err := f.s.WithModuleLock(ctx, user, f.module.ID, func(Tx) error { return nil })
	if !errors.Is(err, course.ErrConcurrentUpdate) {
		t.Fatalf("expected ErrConcurrentUpdate, got %v", err)
	}
	// other pairs are independent
	if err := f.s.WithModuleLock(ctx, uuid.New(), f.module.ID, func(Tx) error { return nil }); err != nil {
		t.Fatalf("independent lock: %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("holder: %v", err)
	}
	if err := f.s.WithModuleLock(ctx, user, f.module.ID, func(Tx) error { return nil }); err != nil {
		t.Fatalf("lock after release: %v", err)
	}
	if n := f.s.lockCount(); n != 0 {
		t.Fatalf("expected idle module locks to be dropped, got %d", n)
	}
}

func TestInMemoryStore_ModuleLocksDoNotAccumulate(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		if err := f.s.WithModuleLock(ctx, uuid.New(), f.module.ID, func(Tx) error { return nil }); err != nil {
			t.Fatalf("lock %d: %v", i, err)
		}
	}
	if n := f.s.lockCount(); n != 0 {
		t.Fatalf("expected no module locks after all holders returned, got %d", n)
	}
}

func TestCursorLess(t *testing.T) {
	a := Cursor{UserID: uuid.MustParse("00000000-0000-0000-0000-000000000001"), ModuleID: uuid.MustParse("00000000-0000-0000-0000-0000000000ff")}
	b := Cursor{UserID: uuid.MustParse("00000000-0000-0000-0000-000000000002"), ModuleID: uuid.MustParse("00000000-0000-0000-0000-000000000001")}
	if !a.Less(b) || b.Less(a) {
		t.Fatal("expected user_id to dominate ordering")
	}
	c := Cursor{UserID: a.UserID, ModuleID: uuid.MustParse("00000000-0000-0000-0000-000000000100")}
	if !a.Less(c) {
		t.Fatal("expected module_id tiebreak")
	}
	if a.Less(a) {
		t.Fatal("cursor must not be less than itself")
	}
}

func TestAdvisoryKeyDistinct(t *testing.T) {
	u, m := uuid.New(), uuid.New()
	if advisoryKey(u, m) != advisoryKey(u, m) {
		t.Fatal("expected stable key")
	}
	if advisoryKey(u, m) == advisoryKey(m, u) {
		t.Fatal("expected key to depend on argument order")
	}
}

func TestMigrationNames(t *testing.T) {
	names, err := migrationNames()
	if err != nil {
		t.Fatalf("read migrations: %v", err)
	}
	if len(names) == 0 || names[0] != "001_init.sql" {
		t.Fatalf("unexpected migrations: %v", names)
	}
}

func (s *InMemoryStore) lockCount() int {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	return len(s.locks)
}
