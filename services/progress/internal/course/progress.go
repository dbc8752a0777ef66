package course

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// CourseProgress is the roll-up returned to callers and encoded verbatim.
type CourseProgress struct {
	Completed             int         `json:"completed"`
	Total                 int         `json:"total"`
	Percentage            float64     `json:"percentage"`
	CompletedModules      []uuid.UUID `json:"completed_modules"`
	IsCourseCompleted     bool        `json:"is_course_completed"`
	CompletedModulesCount int         `json:"completed_modules_count"`
	TotalModulesCount     int         `json:"total_modules_count"`
}

type ModuleProgress struct {
	ModuleID    uuid.UUID  `json:"module_id"`
	Completed   int        `json:"completed"`
	Total       int        `json:"total"`
	Percentage  float64    `json:"percentage"`
	IsCompleted bool       `json:"is_completed"`
	CompletedAt *time.Time `json:"completed_at"`
}

// LearnerProgress is one enrollment's line in a CourseReport.
type LearnerProgress struct {
	UserID           uuid.UUID `json:"user_id"`
	EnrolledAt       time.Time `json:"enrolled_at"`
	Progress         float64   `json:"progress"`
	CompletedLessons int       `json:"completed_lessons"`
	TotalLessons     int       `json:"total_lessons"`
	CourseCompleted  bool      `json:"course_completed"`
}

type CourseReport struct {
	CourseID         uuid.UUID         `json:"course_id"`
	CourseTitle      string            `json:"course_title"`
	TotalEnrollments int               `json:"total_enrollments"`
	AverageProgress  float64           `json:"average_progress"`
	Learners         []LearnerProgress `json:"learners"`
}

// Percentage returns part/total*100 rounded to two decimals, and 0 when
// total is not positive.
func Percentage(part, total int) float64 {
	if total <= 0 {
		return 0
	}
	return Round2(float64(part) / float64(total) * 100)
}

func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
