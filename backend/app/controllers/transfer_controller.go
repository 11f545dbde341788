package controllers

import (
	"net/http"

	"chunk-relay/backend/app/dto"
	"chunk-relay/backend/app/repo"
	"chunk-relay/backend/app/session"
	"chunk-relay/backend/global"

	"github.com/go-chi/chi/v5"
)

// TransferController exposes the live session store and the result history.
type TransferController struct {
	Store      *session.Store
	ResultRepo *repo.TransferResultRepository
}

func NewTransferController(store *session.Store, results *repo.TransferResultRepository) *TransferController {
	return &TransferController{Store: store, ResultRepo: results}
}

func (c *TransferController) Sessions(w http.ResponseWriter, r *http.Request) {
	list := c.Store.List()
	resp := dto.SessionListResponse{Count: len(list), Sessions: make([]dto.SessionResponse, 0, len(list))}
	for _, info := range list {
		resp.Sessions = append(resp.Sessions, toSessionResponse(info))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (c *TransferController) Session(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	info, ok := c.Store.Get(id)
	if !ok {
		if c.Store.IsFinalized(id) {
			writeJSONError(w, http.StatusGone, "session finalized")
			return
		}
		writeJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	resp := toSessionResponse(info)
	resp.Received, _ = c.Store.Indices(id)
	writeJSON(w, http.StatusOK, resp)
}

func (c *TransferController) Results(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionId")
	if c.ResultRepo == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "results store unavailable")
		return
	}
	rows, err := c.ResultRepo.ListBySession(id)
	if err != nil {
		global.Logger.Error().Err(err).Str("session", id).Msg("list results")
		writeJSONError(w, http.StatusInternalServerError, "list results failed")
		return
	}
	if len(rows) == 0 {
		writeJSONError(w, http.StatusNotFound, "no results for session")
		return
	}
	resp := dto.ResultListResponse{SessionID: id, Results: make([]dto.ResultResponse, 0, len(rows))}
	for _, row := range rows {
		resp.Results = append(resp.Results, dto.ResultResponse{
			Status:            row.Status,
			FileName:          row.FileName,
			Message:           row.Message,
			ProcessedFileSize: row.ProcessedFileSize,
			OutputPath:        row.OutputPath,
			ProcessedAt:       row.ProcessedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func toSessionResponse(info session.Info) dto.SessionResponse {
	return dto.SessionResponse{
		SessionID:      info.ID,
		FileName:       info.FileName,
		FileSize:       info.FileSize,
		SourceID:       info.SourceID,
		ReceivedChunks: info.Received,
		TotalChunks:    info.TotalChunks,
		Progress:       info.Progress(),
		Assembling:     info.Assembling,
		StartTime:      info.StartTime,
		LastActivity:   info.LastActivity,
	}
}
