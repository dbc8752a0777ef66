package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/learning-platform/services/progress/internal/course"
)

type pairKey struct {
	user   uuid.UUID
	target uuid.UUID
}

// InMemoryStore is a development and test implementation.
// WARNING: state is lost on restart and is not shared across instances.
type InMemoryStore struct {
	mu          sync.RWMutex
	courses     map[uuid.UUID]course.Course
	modules     map[uuid.UUID]course.Module
	lessons     map[uuid.UUID]course.Lesson
	lessonDone  map[pairKey]course.LessonCompletion
	moduleDone  map[pairKey]course.ModuleCompletion
	enrollments map[pairKey]course.Enrollment

	locksMu sync.Mutex
	locks   map[pairKey]*moduleLock
	// LockWait bounds WithModuleLock. Zero means wait until ctx is done.
	LockWait time.Duration

	now func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		courses:     make(map[uuid.UUID]course.Course),
		modules:     make(map[uuid.UUID]course.Module),
		lessons:     make(map[uuid.UUID]course.Lesson),
		lessonDone:  make(map[pairKey]course.LessonCompletion),
		moduleDone:  make(map[pairKey]course.ModuleCompletion),
		enrollments: make(map[pairKey]course.Enrollment),
		locks:       make(map[pairKey]*moduleLock),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source. Tests only.
func (s *InMemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *InMemoryStore) AddCourse(c course.Course) course.Course {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	s.courses[c.ID] = c
	return c
}

func (s *InMemoryStore) AddModule(m course.Module) (course.Module, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.courses[m.CourseID]; !ok {
		return course.Module{}, course.NotFound(course.KindCourse, m.CourseID)
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	s.modules[m.ID] = m
	return m, nil
}

func (s *InMemoryStore) AddLesson(l course.Lesson) (course.Lesson, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.modules[l.ModuleID]; !ok {
		return course.Lesson{}, course.NotFound(course.KindModule, l.ModuleID)
	}
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	s.lessons[l.ID] = l
	return l, nil
}

func (s *InMemoryStore) GetCourse(_ context.Context, courseID uuid.UUID) (course.Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.courses[courseID]
	if !ok {
		return course.Course{}, course.NotFound(course.KindCourse, courseID)
	}
	return c, nil
}

func (s *InMemoryStore) GetModule(_ context.Context, moduleID uuid.UUID) (course.Module, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.modules[moduleID]
	if !ok {
		return course.Module{}, course.NotFound(course.KindModule, moduleID)
	}
	return m, nil
}

func (s *InMemoryStore) GetLesson(_ context.Context, lessonID uuid.UUID) (course.Lesson, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.lessons[lessonID]
	if !ok {
		return course.Lesson{}, course.NotFound(course.KindLesson, lessonID)
	}
	return l, nil
}

func (s *InMemoryStore) ListModules(_ context.Context, courseID uuid.UUID) ([]course.Module, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.modulesOf(courseID), nil
}

func (s *InMemoryStore) modulesOf(courseID uuid.UUID) []course.Module {
	out := []course.Module{}
	for _, m := range s.modules {
		if m.CourseID == courseID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (s *InMemoryStore) lessonsOf(moduleID uuid.UUID) []course.Lesson {
	out := []course.Lesson{}
	for _, l := range s.lessons {
		if l.ModuleID == moduleID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (s *InMemoryStore) ListCourseLessons(_ context.Context, courseID uuid.UUID) ([]course.Lesson, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []course.Lesson{}
	for _, m := range s.modulesOf(courseID) {
		out = append(out, s.lessonsOf(m.ID)...)
	}
	return out, nil
}

func (s *InMemoryStore) ListModuleLessons(_ context.Context, moduleID uuid.UUID) ([]course.Lesson, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lessonsOf(moduleID), nil
}

func (s *InMemoryStore) GetLessonCompletion(_ context.Context, userID, lessonID uuid.UUID) (*course.LessonCompletion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lc, ok := s.lessonDone[pairKey{userID, lessonID}]
	if !ok {
		return nil, nil
	}
	return &lc, nil
}

func (s *InMemoryStore) GetModuleCompletion(_ context.Context, userID, moduleID uuid.UUID) (*course.ModuleCompletion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mc, ok := s.moduleDone[pairKey{userID, moduleID}]
	if !ok {
		return nil, nil
	}
	return &mc, nil
}

func (s *InMemoryStore) CountLessonCompletions(_ context.Context, userID uuid.UUID, lessonIDs []uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	seen := make(map[uuid.UUID]struct{}, len(lessonIDs))
	for _, id := range lessonIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if lc, ok := s.lessonDone[pairKey{userID, id}]; ok && lc.IsCompleted {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) ListCompletedModuleIDs(_ context.Context, userID uuid.UUID, moduleIDs []uuid.UUID) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []uuid.UUID{}
	for _, id := range moduleIDs {
		if mc, ok := s.moduleDone[pairKey{userID, id}]; ok && mc.IsCompleted {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *InMemoryStore) UpsertLessonCompletion(_ context.Context, userID, lessonID uuid.UUID, isCompleted bool, completedAt *time.Time) (course.LessonCompletion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lessons[lessonID]; !ok {
		return course.LessonCompletion{}, course.NotFound(course.KindLesson, lessonID)
	}
	now := s.now()
	key := pairKey{userID, lessonID}
	lc, ok := s.lessonDone[key]
	if !ok {
		lc = course.LessonCompletion{UserID: userID, LessonID: lessonID}
	}
	lc.IsCompleted = isCompleted
	if isCompleted {
		lc.CompletedAt = course.FirstCompletedAt(lc.CompletedAt, completedAt, now)
	}
	lc.LastAccessed = now
	s.lessonDone[key] = lc
	return lc, nil
}

func (s *InMemoryStore) UpsertModuleCompletion(_ context.Context, userID, moduleID uuid.UUID, isCompleted bool, completedAt *time.Time) (course.ModuleCompletion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.modules[moduleID]; !ok {
		return course.ModuleCompletion{}, course.NotFound(course.KindModule, moduleID)
	}
	key := pairKey{userID, moduleID}
	mc, ok := s.moduleDone[key]
	if !ok {
		mc = course.ModuleCompletion{UserID: userID, ModuleID: moduleID}
	}
	mc.IsCompleted = isCompleted
	if isCompleted {
		mc.CompletedAt = course.FirstCompletedAt(mc.CompletedAt, completedAt, s.now())
	}
	s.moduleDone[key] = mc
	return mc, nil
}

func (s *InMemoryStore) ToggleLessonCompletion(_ context.Context, userID, lessonID uuid.UUID) (course.LessonCompletion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lessons[lessonID]; !ok {
		return course.LessonCompletion{}, course.NotFound(course.KindLesson, lessonID)
	}
	now := s.now()
	key := pairKey{userID, lessonID}
	lc, ok := s.lessonDone[key]
	if !ok {
		lc = course.LessonCompletion{UserID: userID, LessonID: lessonID}
	}
	lc.IsCompleted = !lc.IsCompleted
	if lc.IsCompleted {
		lc.CompletedAt = course.FirstCompletedAt(lc.CompletedAt, nil, now)
	}
	lc.LastAccessed = now
	s.lessonDone[key] = lc
	return lc, nil
}

// moduleLock is removed from the map once no holder or waiter references it.
type moduleLock struct {
	ch   chan struct{}
	refs int
}

func (s *InMemoryStore) refLock(key pairKey) *moduleLock {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &moduleLock{ch: make(chan struct{}, 1)}
		s.locks[key] = l
	}
	l.refs++
	return l
}

func (s *InMemoryStore) unrefLock(key pairKey, l *moduleLock) {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, key)
	}
}

func (s *InMemoryStore) WithModuleLock(ctx context.Context, userID, moduleID uuid.UUID, fn func(tx Tx) error) error {
	key := pairKey{userID, moduleID}
	l := s.refLock(key)
	defer s.unrefLock(key, l)

	var timeout <-chan time.Time
	if s.LockWait > 0 {
		t := time.NewTimer(s.LockWait)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case l.ch <- struct{}{}:
	case <-timeout:
		return fmt.Errorf("module lock %s/%s: %w", userID, moduleID, course.ErrConcurrentUpdate)
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.ch }()
	return fn(s)
}

func (s *InMemoryStore) ListModuleCompletions(_ context.Context, after *Cursor, limit int) ([]course.ModuleCompletion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 100
	}
	out := make([]course.ModuleCompletion, 0, len(s.moduleDone))
	for _, mc := range s.moduleDone {
		if !mc.IsCompleted {
			continue
		}
		if after != nil && !after.Less(*CursorOf(mc)) {
			continue
		}
		out = append(out, mc)
	}
	sort.Slice(out, func(i, j int) bool { return CursorOf(out[i]).Less(*CursorOf(out[j])) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) Enroll(_ context.Context, userID, courseID uuid.UUID) (course.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.courses[courseID]; !ok {
		return course.Enrollment{}, course.NotFound(course.KindCourse, courseID)
	}
	key := pairKey{userID, courseID}
	if e, ok := s.enrollments[key]; ok {
		return e, nil
	}
	e := course.Enrollment{UserID: userID, CourseID: courseID, EnrolledAt: s.now()}
	s.enrollments[key] = e
	return e, nil
}

func (s *InMemoryStore) IsEnrolled(_ context.Context, userID, courseID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.enrollments[pairKey{userID, courseID}]
	return ok, nil
}

func (s *InMemoryStore) ListEnrollments(_ context.Context, courseID uuid.UUID) ([]course.Enrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []course.Enrollment{}
	for _, e := range s.enrollments {
		if e.CourseID == courseID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EnrolledAt.Equal(out[j].EnrolledAt) {
			return out[i].EnrolledAt.Before(out[j].EnrolledAt)
		}
		return out[i].UserID.String() < out[j].UserID.String()
	})
	return out, nil
}

func (s *InMemoryStore) Ping(context.Context) error { return nil }
