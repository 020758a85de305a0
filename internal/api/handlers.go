package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/filedesk/internal/apperr"
	"github.com/starford/filedesk/internal/fileservice"
)

const (
	msgFileNotFound = "File not found"
	msgUIDRequired  = "uid is required"
)

// Handler holds API route handlers.
type Handler struct {
	svc            *fileservice.Service
	maxUploadBytes int64
}

// NewHandler creates a new Handler. maxUploadBytes limits multipart uploads.
func NewHandler(svc *fileservice.Service, maxUploadBytes int64) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &Handler{svc: svc, maxUploadBytes: maxUploadBytes}
}

// fileUID extracts the {uid} route parameter; zero means missing or invalid.
func fileUID(r *http.Request) int64 {
	uid, err := strconv.ParseInt(chi.URLParam(r, "uid"), 10, 64)
	if err != nil || uid < 0 {
		return 0
	}
	return uid
}

// clientMessage strips the sentinel suffix from an invalid-argument error.
func clientMessage(err error) string {
	return strings.TrimSuffix(err.Error(), ": "+apperr.ErrInvalidArgument.Error())
}

// writeServiceError maps service errors to status codes. op names the
// operation in 500 responses, e.g. "Failed to move file".
func writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, apperr.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, clientMessage(err))
	case errors.Is(err, apperr.ErrStorageNotFound):
		writeError(w, http.StatusNotFound, "Storage not found")
	case errors.Is(err, apperr.ErrFolderNotFound):
		writeError(w, http.StatusNotFound, "Folder not found")
	case errors.Is(err, apperr.ErrNotFound):
		writeError(w, http.StatusNotFound, msgFileNotFound)
	case errors.Is(err, apperr.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, "Permission denied")
	case errors.Is(err, apperr.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "File already exists")
	case errors.Is(err, apperr.ErrFolderConflict):
		writeError(w, http.StatusConflict, "Folder conflicts with an existing file")
	case errors.Is(err, apperr.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		slog.Error(strings.ToLower(op),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, op+": "+err.Error())
	}
}

// GetFile handles GET /api/files/{uid}.
//
//	@Summary		Get a file by uid
//	@Tags			files
//	@Produce		json
//	@Param			uid	path		int	true	"File uid"
//	@Success		200	{object}	FileResponse
//	@Failure		400	{object}	errResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/files/{uid} [get]
func (h *Handler) GetFile(w http.ResponseWriter, r *http.Request) {
	uid := fileUID(r)
	if uid == 0 {
		writeError(w, http.StatusBadRequest, msgUIDRequired)
		return
	}
	file, err := h.svc.Get(r.Context(), uid)
	if err != nil {
		writeServiceError(w, r, "Failed to retrieve file", err)
		return
	}
	writeJSON(w, http.StatusOK, file)
}

// DeleteFile handles DELETE /api/files/{uid}.
//
//	@Summary		Delete a file and prune emptied folders
//	@Tags			files
//	@Produce		json
//	@Param			uid	path		int	true	"File uid"
//	@Success		200	{object}	StatusResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/files/{uid} [delete]
func (h *Handler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	uid := fileUID(r)
	if uid == 0 {
		writeError(w, http.StatusBadRequest, msgUIDRequired)
		return
	}
	if err := h.svc.Delete(r.Context(), uid); err != nil {
		writeServiceError(w, r, "Failed to delete file", err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Success: true, Message: "File deleted successfully"})
}

// RenameFile handles POST /api/files/{uid}/rename.
//
//	@Summary		Rename a file inside its folder
//	@Tags			files
//	@Accept			json
//	@Produce		json
//	@Param			uid		path		int				true	"File uid"
//	@Param			body	body		RenameRequest	true	"New name and conflict strategy (REPLACE, RENAME, CANCEL; default RENAME)"
//	@Success		200		{object}	RenameResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/files/{uid}/rename [post]
func (h *Handler) RenameFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	uid := fileUID(r)
	if uid == 0 {
		writeError(w, http.StatusBadRequest, msgUIDRequired)
		return
	}
	var req RenameRequest
	if msg, ok := decodeBody(r.Body, &req); !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	res, err := h.svc.Rename(r.Context(), uid, req.NewFileName, req.ConflictStrategy)
	if err != nil {
		writeServiceError(w, r, "Failed to rename file", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// MoveFile handles POST /api/files/{uid}/move.
//
//	@Summary		Move a file to another folder, creating it when missing
//	@Tags			files
//	@Accept			json
//	@Produce		json
//	@Param			uid		path		int			true	"File uid"
//	@Param			body	body		MoveRequest	true	"Target path, optional new name and conflict strategy (default REPLACE)"
//	@Success		200		{object}	MoveResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/files/{uid}/move [post]
func (h *Handler) MoveFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	uid := fileUID(r)
	if uid == 0 {
		writeError(w, http.StatusBadRequest, msgUIDRequired)
		return
	}
	var req MoveRequest
	if msg, ok := decodeBody(r.Body, &req); !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	res, err := h.svc.Move(r.Context(), uid, fileservice.MoveInput{
		TargetPath:       req.TargetPath,
		NewFileName:      req.NewFileName,
		ConflictStrategy: req.ConflictStrategy,
	})
	if err != nil {
		writeServiceError(w, r, "Failed to move file", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// UpdateMetadata handles PUT /api/files/{uid}.
//
//	@Summary		Update the metadata of a file
//	@Description	Only title, description, alternative, keywords and copyright are applied.
//	@Tags			files
//	@Accept			json
//	@Produce		json
//	@Param			uid		path		int					true	"File uid"
//	@Param			body	body		map[string]string	true	"Metadata fields"
//	@Success		200		{object}	StatusResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/files/{uid} [put]
func (h *Handler) UpdateMetadata(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	uid := fileUID(r)
	if uid == 0 {
		writeError(w, http.StatusBadRequest, msgUIDRequired)
		return
	}
	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if _, err := h.svc.UpdateMetadata(r.Context(), uid, fields); err != nil {
		writeServiceError(w, r, "Failed to update metadata", err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Success: true, Message: "Metadata updated successfully"})
}
