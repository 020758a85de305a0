package api

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/starford/filedesk/internal/fileservice"
)

const defaultMaxUploadBytes = 50 << 20 // 50 MB

// UploadFile handles POST /api/files (multipart/form-data).
//
// Form fields: file (required), targetPath (required), fileName and
// storageUid (default 1). An existing file with the same name is replaced.
//
//	@Summary		Upload a file, creating the target folders
//	@Tags			files
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			file		formData	file	true	"File content"
//	@Param			targetPath	formData	string	true	"Folder path, e.g. projects/2024"
//	@Param			fileName	formData	string	false	"Name to store the file under"
//	@Param			storageUid	formData	int		false	"Storage uid (default 1)"
//	@Success		201			{object}	FileResponse
//	@Failure		400			{object}	errResponse
//	@Failure		403			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/files [post]
func (h *Handler) UploadFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer file.Close()

	targetPath := r.FormValue("targetPath")
	if targetPath == "" {
		writeError(w, http.StatusBadRequest, "targetPath is required")
		return
	}
	storageUID := 1
	if raw := r.FormValue("storageUid"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "storageUid must be a positive integer")
			return
		}
		storageUID = n
	}

	detail, err := h.svc.Upload(r.Context(), fileservice.UploadInput{
		StorageUID: storageUID,
		TargetPath: targetPath,
		FileName:   r.FormValue("fileName"),
		ClientName: header.Filename,
		Reader:     file,
	})
	if err != nil {
		writeServiceError(w, r, "Upload failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, detail)
}

// FileContent handles GET /api/files/{uid}/content.
//
//	@Summary		Download the content of a file
//	@Tags			files
//	@Produce		octet-stream
//	@Param			uid	path		int	true	"File uid"
//	@Success		200	{file}		binary
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/files/{uid}/content [get]
func (h *Handler) FileContent(w http.ResponseWriter, r *http.Request) {
	uid := fileUID(r)
	if uid == 0 {
		writeError(w, http.StatusBadRequest, msgUIDRequired)
		return
	}
	rc, detail, err := h.svc.Open(r.Context(), uid)
	if err != nil {
		writeServiceError(w, r, "Failed to read file", err)
		return
	}
	defer rc.Close()

	contentType := detail.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": detail.Name}))
	w.Header().Set("ETag", strconv.Quote(detail.Checksum))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		slog.Warn("stream file failed", slog.Int64("uid", uid), slog.String("error", err.Error()))
	}
}
