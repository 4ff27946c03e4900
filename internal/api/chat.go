package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shelfmate/shelfmate/internal/book"
	"github.com/shelfmate/shelfmate/internal/pipeline"
)

// maxRequestBytes limits chat request bodies.
const maxRequestBytes = 64 * 1024

// chatHandler serves the chat endpoint on top of the pipeline.
type chatHandler struct {
	pipeline *pipeline.Pipeline
	logger   *slog.Logger
}

// chatRequest is the POST /api/v1/chat body.
type chatRequest struct {
	Message   string `json:"message"`
	Persona   string `json:"persona,omitempty"`
	UserName  string `json:"user_name,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// bookPayload is the wire form of a recommended book.
type bookPayload struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Author      string   `json:"author"`
	Description string   `json:"description,omitempty"`
	Genre       string   `json:"genre,omitempty"`
	Rating      *float64 `json:"rating,omitempty"`
	CoverURL    string   `json:"cover_url,omitempty"`
	Year        *int     `json:"year_published,omitempty"`
	ISBN        string   `json:"isbn,omitempty"`
	Source      string   `json:"source"`
}

type recommendationPayload struct {
	Book        bookPayload `json:"book"`
	Explanation string      `json:"explanation"`
}

// chatResponse is the POST /api/v1/chat response body.
type chatResponse struct {
	SessionID       string                  `json:"session_id"`
	Message         string                  `json:"message"`
	Recommendations []recommendationPayload `json:"recommendations"`
	QueryUnderstood bool                    `json:"query_understood"`
	BookNotFound    string                  `json:"book_not_found,omitempty"`
	Note            string                  `json:"note,omitempty"`
}

func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.pipeline.HandleTurn(r.Context(), pipeline.TurnRequest{
		Message:   req.Message,
		PersonaID: req.Persona,
		UserName:  req.UserName,
		SessionID: req.SessionID,
	})
	switch {
	case errors.Is(err, pipeline.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "message is required")
		return
	case err != nil:
		// Deep failures inside a turn degrade; reaching here means the
		// request itself died (cancellation, deadline).
		h.logger.Error("chat turn failed", "error", err)
		writeError(w, http.StatusInternalServerError, "I had trouble with that request, please try rephrasing")
		return
	}

	writeJSON(w, http.StatusOK, toChatResponse(result))
}

func toChatResponse(res pipeline.TurnResult) chatResponse {
	out := chatResponse{
		SessionID:       res.SessionID,
		Message:         res.Message,
		Recommendations: make([]recommendationPayload, len(res.Recommendations)),
		QueryUnderstood: res.QueryUnderstood,
		BookNotFound:    res.BookNotFound,
		Note:            res.ErrorNote,
	}
	for i, rec := range res.Recommendations {
		out.Recommendations[i] = recommendationPayload{
			Book:        toBookPayload(rec.Book),
			Explanation: rec.Explanation,
		}
	}
	return out
}

func toBookPayload(b book.Book) bookPayload {
	return bookPayload{
		ID:          b.ID,
		Title:       b.Title,
		Author:      b.Author,
		Description: b.Description,
		Genre:       b.Genre,
		Rating:      b.Rating,
		CoverURL:    b.CoverURL,
		Year:        b.Year,
		ISBN:        b.ISBN,
		Source:      string(b.Source),
	}
}
