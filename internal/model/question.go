package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

// QuestionType enumerates supported question kinds. Single-choice and
// short-answer questions grade by exact match, multiple-choice by set match,
// essays wait for manual grading.
type QuestionType string

const (
	QuestionTypeSingleChoice   QuestionType = "SINGLE_CHOICE"
	QuestionTypeMultipleChoice QuestionType = "MULTIPLE_CHOICE"
	QuestionTypeShortAnswer    QuestionType = "SHORT_ANSWER"
	QuestionTypeEssay          QuestionType = "ESSAY"
)

// Question represents a single exam question, including the answer key.
type Question struct {
	ID            uuid.UUID       `json:"id"`
	ExamID        uuid.UUID       `json:"exam_id"`
	QuestionText  string          `json:"question_text"`
	QuestionType  QuestionType    `json:"question_type"`
	Options       json.RawMessage `json:"options"`
	CorrectAnswer string          `json:"correct_answer"`
	Points        float64         `json:"points"`
	OrderNum      int             `json:"order_num"`
}

// QuestionForStudent is a question without the answer key, sent to students.
type QuestionForStudent struct {
	ID           uuid.UUID       `json:"id"`
	QuestionText string          `json:"question_text"`
	QuestionType QuestionType    `json:"question_type"`
	Options      json.RawMessage `json:"options"`
	Points       float64         `json:"points"`
	OrderNum     int             `json:"order_num"`
}

// ForStudent strips the answer key from a question.
func (q Question) ForStudent() QuestionForStudent {
	return QuestionForStudent{
		ID:           q.ID,
		QuestionText: q.QuestionText,
		QuestionType: q.QuestionType,
		Options:      q.Options,
		Points:       q.Points,
		OrderNum:     q.OrderNum,
	}
}
