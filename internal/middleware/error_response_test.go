package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/retinaseo/internal/model"
)

func TestWriteErrorResponse_WritesUnifiedFormat(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteErrorResponse(rec, http.StatusBadRequest, &model.APIError{
		Code:     "TEST_ERROR",
		Message:  "Something is wrong.",
		Category: "validation",
		Action:   "Fix the input.",
	})

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Code != "TEST_ERROR" || body.Message != "Something is wrong." || body.Category != "validation" || body.Action != "Fix the input." {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestWriteError_MapsDomainErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"insufficient credits", &model.InsufficientCreditsError{Required: 10, Available: 3}, http.StatusPaymentRequired, model.ErrCodeInsufficientCredits},
		{"in progress", fmt.Errorf("submit: %w", model.ErrGenerationInProgress), http.StatusConflict, model.ErrCodeGenerationBusy},
		{"validation", model.NewValidationError("Topic is required."), http.StatusUnprocessableEntity, model.ErrCodeValidation},
		{"unknown", errors.New("db down"), http.StatusInternalServerError, model.ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, httptest.NewRequest(http.MethodPost, "/api/generations", nil), tt.err)

			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			var body ErrorResponseBody
			json.NewDecoder(rec.Body).Decode(&body)
			if body.Code != tt.code {
				t.Errorf("code = %q, want %q", body.Code, tt.code)
			}
		})
	}
}

func TestWriteInternalServerError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteInternalServerError(rec)

	var body ErrorResponseBody
	json.NewDecoder(rec.Body).Decode(&body)
	if rec.Code != http.StatusInternalServerError || body.Code != model.ErrCodeInternal {
		t.Errorf("got %d %+v", rec.Code, body)
	}
}
