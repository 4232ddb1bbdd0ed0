package models

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// Operation tags recorded by the document endpoints.
const (
	OperationTextAnalysis   = "pdf_text_analysis"
	OperationQuestionAnswer = "pdf_question_answer"
	OperationSummarization  = "pdf_summarization"
)

// Transaction is one immutable entry of the credit ledger. Exactly one is
// written per successful deduction.
type Transaction struct {
	ID           uuid.UUID      `json:"id"`
	AccountEmail string         `json:"account_email"`
	Amount       int            `json:"credits_used"`
	Operation    string         `json:"operation"`
	Metadata     map[string]any `json:"metadata"`
	CreatedAt    time.Time      `json:"timestamp"`
}

func (t *Transaction) Clone() *Transaction {
	cp := *t
	cp.Metadata = maps.Clone(t.Metadata)
	return &cp
}
