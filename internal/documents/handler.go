// Package documents serves the credit-metered document operations. The
// operations themselves are mocked; what is real is the schema check, the
// deduction and the ledger entry behind each call.
package documents

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/paperlens/backend/internal/credits"
	"github.com/paperlens/backend/internal/middleware"
	"github.com/paperlens/backend/internal/models"
)

const maxBodyBytes = 1 << 20

// Operation is one entry of the catalogue: a route name, its fixed cost and
// the tag recorded on the ledger.
type Operation struct {
	Name string
	Cost int
	Tag  string
}

var (
	Analyze   = Operation{Name: "analyze", Cost: 2, Tag: models.OperationTextAnalysis}
	Ask       = Operation{Name: "ask", Cost: 3, Tag: models.OperationQuestionAnswer}
	Summarize = Operation{Name: "summarize", Cost: 4, Tag: models.OperationSummarization}
)

// Catalogue lists every document operation.
var Catalogue = []Operation{Analyze, Ask, Summarize}

type AnalyzeRequest struct {
	Text     string `json:"text"`
	Question string `json:"question"`
}

type AskRequest struct {
	Question string `json:"question"`
	Context  string `json:"context"`
}

type SummarizeRequest struct {
	Text        string `json:"text"`
	SummaryType string `json:"summary_type"`
}

type Handler struct {
	credits   *credits.Service
	validator *Validator
	now       func() time.Time
	log       *slog.Logger
}

func NewHandler(svc *credits.Service, v *Validator, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{credits: svc, validator: v, now: time.Now, log: log}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// POST /api/pdf/analyze
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	h.run(w, r, Analyze, &req, func() (map[string]any, func(remaining int) map[string]any) {
		if req.Question == "" {
			req.Question = "Explain this text"
		}
		meta := map[string]any{"text_length": len(req.Text), "question": req.Question}
		return meta, func(remaining int) map[string]any {
			return map[string]any{"analysis": analysisText(req, remaining)}
		}
	})
}

// POST /api/pdf/ask
func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	h.run(w, r, Ask, &req, func() (map[string]any, func(remaining int) map[string]any) {
		meta := map[string]any{"question": req.Question, "context_length": len(req.Context)}
		return meta, func(remaining int) map[string]any {
			return map[string]any{
				"answer":     answerText(req, remaining),
				"confidence": 0.85,
				"sources":    []string{"Mock PDF content"},
			}
		}
	})
}

// POST /api/pdf/summarize
func (h *Handler) Summarize(w http.ResponseWriter, r *http.Request) {
	var req SummarizeRequest
	h.run(w, r, Summarize, &req, func() (map[string]any, func(remaining int) map[string]any) {
		if req.SummaryType == "" {
			req.SummaryType = "brief"
		}
		meta := map[string]any{"text_length": len(req.Text), "summary_type": req.SummaryType}
		return meta, func(int) map[string]any {
			summary := summaryText(req)
			return map[string]any{
				"summary":      summary,
				"summary_type": req.SummaryType,
				"word_count":   len(strings.Fields(summary)),
			}
		}
	})
}

// run validates the body against op's schema, decodes it into dst, deducts
// op.Cost and writes the body produced by prepare. Nothing is deducted when the
// body is rejected.
func (h *Handler) run(w http.ResponseWriter, r *http.Request, op Operation, dst any,
	prepare func() (map[string]any, func(remaining int) map[string]any)) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		writeDetail(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "could not read request body")
		return
	}
	if err := h.validator.ValidateInput(op.Name, raw); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid JSON")
		return
	}

	meta, build := prepare()
	if _, err := h.credits.Deduct(r.Context(), acc.Email, op.Cost, op.Tag, meta); err != nil {
		if errors.Is(err, credits.ErrInsufficientCredits) {
			credits.WriteDeductError(w, h.log, acc.Email, err)
			return
		}
		h.log.Error("document operation deduction failed", "operation", op.Tag, "email", acc.Email, "error", err)
		writeDetail(w, http.StatusPaymentRequired, "Failed to deduct credits for "+op.Name)
		return
	}

	remaining := 0
	if bal, err := h.credits.GetAvailableCredits(r.Context(), acc.Email); err == nil {
		remaining = bal.Total
	}
	body := build(remaining)
	body["credits_used"] = op.Cost
	body["operation"] = op.Tag
	body["timestamp"] = h.now().UTC().Format(time.RFC3339)

	if out, err := json.Marshal(body); err == nil {
		if err := h.validator.ValidateOutput(op.Name, out); err != nil {
			h.log.Warn("document response failed output schema", "operation", op.Tag, "error", err)
		}
	}
	h.log.Info("document operation served", "operation", op.Tag, "email", acc.Email, "credits", op.Cost)
	writeJSON(w, http.StatusOK, body)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func analysisText(req AnalyzeRequest, remaining int) string {
	return fmt.Sprintf(`Based on the selected text, here's my analysis:

Question: %s

Text analyzed: "%s"

Analysis: This appears to be content from a PDF document. In a full deployment this text would be processed by a language model to provide insights, explanations or answers about the content.

Key points identified:
- The text contains %d characters
- Analysis requested: %s

Credits used: %d
Remaining credits: %d`, req.Question, clip(req.Text, 200), len(req.Text), req.Question, Analyze.Cost, remaining)
}

func answerText(req AskRequest, remaining int) string {
	ctxLine := "No specific context provided."
	if req.Context != "" {
		ctxLine = fmt.Sprintf("Context analyzed: %q", clip(req.Context, 150))
	}
	return fmt.Sprintf(`Question: %s

Based on the PDF content provided, here's my answer:

%s

Answer: This is a mock response to your question. In a full deployment the document would be searched for relevant passages and a language model would formulate the answer.

Credits used: %d
Remaining credits: %d`, req.Question, ctxLine, Ask.Cost, remaining)
}

func summaryText(req SummarizeRequest) string {
	n := len(req.Text)
	switch req.SummaryType {
	case "key_points":
		return fmt.Sprintf(`Key Points Summary:

- Main topic: content analysis from PDF document
- Document length: %d characters
- Summary type requested: key_points
- A full deployment would identify main themes, important facts and conclusions

Credits used: %d`, n, Summarize.Cost)
	case "detailed":
		return fmt.Sprintf(`Detailed Summary:

This summary covers the provided PDF content in detail. The document contains %d characters of text that would be processed by a language model to extract meaningful insights, including the major topics, their context and the relationships between them.

Credits used: %d`, n, Summarize.Cost)
	default:
		return fmt.Sprintf(`Brief Summary:

This PDF content (%d characters) covers topics that would be concisely summarized, highlighting the most important points and main themes.

Credits used: %d`, n, Summarize.Cost)
	}
}
