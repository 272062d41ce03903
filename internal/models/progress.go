package models

import "time"

// DayLayout is the UTC calendar-day format used for streak bookkeeping.
const DayLayout = "2006-01-02"

type UserProgress struct {
	UserID            string    `json:"user_id" gorm:"primaryKey;size:255"`
	XP                int64     `json:"xp"`
	CurrentStreak     int       `json:"current_streak"`
	LongestStreak     int       `json:"longest_streak"`
	LastActiveDay     string    `json:"last_active_day" gorm:"size:10"`
	QuizzesCompleted  int       `json:"quizzes_completed"`
	QuestionsAnswered int       `json:"questions_answered"`
	CorrectAnswers    int       `json:"correct_answers"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type DailyActivity struct {
	ID        uint      `json:"-" gorm:"primaryKey"`
	UserID    string    `json:"user_id" gorm:"not null;size:255;uniqueIndex:idx_user_day"`
	Day       string    `json:"day" gorm:"not null;size:10;uniqueIndex:idx_user_day"`
	Quizzes   int       `json:"quizzes"`
	Questions int       `json:"questions"`
	Correct   int       `json:"correct"`
	XP        int64     `json:"xp"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// XPEntry records one award. SessionID is unique so a completion is never
// credited twice.
type XPEntry struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	UserID    string    `json:"user_id" gorm:"not null;index;size:255"`
	SessionID uint      `json:"session_id" gorm:"not null;uniqueIndex"`
	SubjectID *uint     `json:"subject_id" gorm:"index"`
	XP        int64     `json:"xp"`
	AwardedAt time.Time `json:"awarded_at" gorm:"index"`
}
