package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/starford/filedesk/internal/fileservice"
	"github.com/starford/filedesk/internal/testutil"
)

// testEnv sets up a temp storage, catalog, service, and router for testing.
// An empty authToken means auth is disabled.
func testEnv(t *testing.T, authToken string) (http.Handler, string) {
	t.Helper()
	return testEnvWithEvents(t, authToken, nil)
}

func testEnvWithEvents(t *testing.T, authToken string, events http.Handler) (http.Handler, string) {
	t.Helper()
	f, _, dir := testutil.TestFactory(t)
	svc := fileservice.NewService(f, nil, testutil.Logger())
	router := NewRouter(svc, RouterConfig{
		AuthEnabled:    authToken != "",
		Token:          authToken,
		MaxUploadBytes: 1 << 20,
		Events:         events,
	})
	return router, dir
}

type uploadForm struct {
	filename   string
	content    []byte
	targetPath string
	fileName   string
	storageUID string
}

func upload(t *testing.T, router http.Handler, form uploadForm) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if form.filename != "" {
		part, err := mw.CreateFormFile("file", form.filename)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = io.Copy(part, bytes.NewReader(form.content))
	}
	for k, v := range map[string]string{"targetPath": form.targetPath, "fileName": form.fileName, "storageUid": form.storageUID} {
		if v != "" {
			_ = mw.WriteField(k, v)
		}
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/files", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func mustUpload(t *testing.T, router http.Handler, targetPath, filename, content string) FileResponse {
	t.Helper()
	w := upload(t, router, uploadForm{filename: filename, content: []byte(content), targetPath: targetPath})
	if w.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body = %s", w.Code, w.Body.String())
	}
	var file FileResponse
	if err := json.Unmarshal(w.Body.Bytes(), &file); err != nil {
		t.Fatal(err)
	}
	return file
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errResponse {
	t.Helper()
	var e errResponse
	if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	return e
}

func filePath(uid int64, suffix string) string {
	return "/files/" + strconv.FormatInt(uid, 10) + suffix
}

func TestUploadAndGetFile(t *testing.T) {
	router, dir := testEnv(t, "")

	file := mustUpload(t, router, "reports/2024", "q1.txt", "quarter one")
	if file.Identifier != "/reports/2024/q1.txt" {
		t.Errorf("identifier = %q", file.Identifier)
	}
	if file.StorageUID != 1 || file.Size != 11 || file.Extension != "txt" {
		t.Errorf("unexpected file %+v", file)
	}
	if _, err := os.Stat(filepath.Join(dir, "reports", "2024", "q1.txt")); err != nil {
		t.Fatalf("file not on disk: %v", err)
	}

	w := doJSON(t, router, http.MethodGet, filePath(file.UID, ""), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var got FileResponse
	_ = json.Unmarshal(w.Body.Bytes(), &got)
	if got.UID != file.UID || got.Name != "q1.txt" || got.MimeType != "text/plain" {
		t.Errorf("get = %+v", got)
	}
	if got.CreatedAt.IsZero() || got.ModifiedAt.IsZero() {
		t.Errorf("timestamps missing: %+v", got)
	}
}

func TestUpload_FileNameOverridesClientName(t *testing.T) {
	router, _ := testEnv(t, "")
	w := upload(t, router, uploadForm{filename: "client.bin", content: []byte("x"), targetPath: "/", fileName: "chosen.txt"})
	if w.Code != http.StatusCreated {
		t.Fatalf("upload = %d, body = %s", w.Code, w.Body.String())
	}
	var file FileResponse
	_ = json.Unmarshal(w.Body.Bytes(), &file)
	if file.Identifier != "/chosen.txt" {
		t.Errorf("identifier = %q", file.Identifier)
	}
}

func TestUpload_ReplaceKeepsUID(t *testing.T) {
	router, _ := testEnv(t, "")
	first := mustUpload(t, router, "docs", "a.txt", "one")
	second := mustUpload(t, router, "docs", "a.txt", "two")
	if first.UID != second.UID {
		t.Errorf("uid changed on replace: %d != %d", first.UID, second.UID)
	}
}

func TestUpload_Validation(t *testing.T) {
	router, _ := testEnv(t, "")

	cases := []struct {
		name   string
		form   uploadForm
		status int
		msg    string
	}{
		{"MissingFile", uploadForm{targetPath: "x"}, http.StatusBadRequest, "No file uploaded"},
		{"MissingTargetPath", uploadForm{filename: "a.txt", content: []byte("a")}, http.StatusBadRequest, "targetPath is required"},
		{"BadStorageUID", uploadForm{filename: "a.txt", content: []byte("a"), targetPath: "x", storageUID: "abc"}, http.StatusBadRequest, ""},
		{"ReadOnlyStorage", uploadForm{filename: "a.txt", content: []byte("a"), targetPath: "x", storageUID: "2"}, http.StatusForbidden, ""},
		{"UnknownStorage", uploadForm{filename: "a.txt", content: []byte("a"), targetPath: "x", storageUID: "9"}, http.StatusNotFound, "Storage not found"},
		{"TooLarge", uploadForm{filename: "big.bin", content: bytes.Repeat([]byte("a"), 2<<20), targetPath: "x"}, http.StatusRequestEntityTooLarge, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := upload(t, router, tc.form)
			if w.Code != tc.status {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tc.status, w.Body.String())
			}
			e := decodeError(t, w)
			if !e.Error || e.StatusCode != tc.status {
				t.Errorf("error body = %+v", e)
			}
			if tc.msg != "" && e.Message != tc.msg {
				t.Errorf("message = %q, want %q", e.Message, tc.msg)
			}
		})
	}
}

func TestUpload_FolderConflict(t *testing.T) {
	router, _ := testEnv(t, "")
	mustUpload(t, router, "/", "taken", "file, not folder")
	w := upload(t, router, uploadForm{filename: "a.txt", content: []byte("a"), targetPath: "taken/sub"})
	if w.Code != http.StatusConflict {
		t.Errorf("folder conflict = %d, want 409 (body %s)", w.Code, w.Body.String())
	}
}

func TestGetFile_Errors(t *testing.T) {
	router, _ := testEnv(t, "")

	w := doJSON(t, router, http.MethodGet, "/files/abc", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid uid = %d, want 400", w.Code)
	}
	if e := decodeError(t, w); e.Message != "uid is required" {
		t.Errorf("message = %q", e.Message)
	}

	w = doJSON(t, router, http.MethodGet, "/files/777", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing file = %d, want 404", w.Code)
	}
	if e := decodeError(t, w); e.Message != "File not found" {
		t.Errorf("message = %q", e.Message)
	}
}

func TestFileContent(t *testing.T) {
	router, _ := testEnv(t, "")
	file := mustUpload(t, router, "dl", "notes.txt", "download me")

	w := doJSON(t, router, http.MethodGet, filePath(file.UID, "/content"), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("content status = %d", w.Code)
	}
	if w.Body.String() != "download me" {
		t.Errorf("body = %q", w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/plain" {
		t.Errorf("content type = %q", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "notes.txt") {
		t.Errorf("content disposition = %q", cd)
	}
}

func TestDeleteFile(t *testing.T) {
	router, dir := testEnv(t, "")
	file := mustUpload(t, router, "a/b", "gone.txt", "x")

	w := doJSON(t, router, http.MethodDelete, filePath(file.UID, ""), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp StatusResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Success || resp.Message != "File deleted successfully" {
		t.Errorf("resp = %+v", resp)
	}
	if _, err := os.Stat(filepath.Join(dir, "a")); !os.IsNotExist(err) {
		t.Errorf("empty folders not pruned: %v", err)
	}

	w = doJSON(t, router, http.MethodDelete, filePath(file.UID, ""), nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", w.Code)
	}
}

func TestRenameFile(t *testing.T) {
	router, _ := testEnv(t, "")
	src := mustUpload(t, router, "r", "src.txt", "s")
	mustUpload(t, router, "r", "dst.txt", "d")

	w := doJSON(t, router, http.MethodPost, filePath(src.UID, "/rename"), RenameRequest{NewFileName: "dst.txt"})
	if w.Code != http.StatusOK {
		t.Fatalf("rename status = %d, body = %s", w.Code, w.Body.String())
	}
	var res RenameResponse
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	if res.Name != "dst_01.txt" || res.PreviousName != "src.txt" || res.UID != src.UID {
		t.Errorf("rename = %+v", res)
	}

	w = doJSON(t, router, http.MethodPost, filePath(src.UID, "/rename"), RenameRequest{NewFileName: "dst.txt", ConflictStrategy: "CANCEL"})
	if w.Code != http.StatusConflict {
		t.Errorf("cancel rename = %d, want 409", w.Code)
	}

	w = doJSON(t, router, http.MethodPost, filePath(src.UID, "/rename"), map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing name = %d, want 400", w.Code)
	}
	if e := decodeError(t, w); e.Message != "newFileName is required" {
		t.Errorf("message = %q", e.Message)
	}

	w = doJSON(t, router, http.MethodPost, filePath(src.UID, "/rename"), RenameRequest{NewFileName: "../x"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid name = %d, want 400", w.Code)
	}
}

func TestMoveFile(t *testing.T) {
	router, dir := testEnv(t, "")
	file := mustUpload(t, router, "inbox", "memo.txt", "m")

	w := doJSON(t, router, http.MethodPost, filePath(file.UID, "/move"), MoveRequest{TargetPath: "archive/2024", NewFileName: "memo-old.txt"})
	if w.Code != http.StatusOK {
		t.Fatalf("move status = %d, body = %s", w.Code, w.Body.String())
	}
	var res MoveResponse
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	if res.Identifier != "/archive/2024/memo-old.txt" || res.PreviousPath != "/inbox/memo.txt" {
		t.Errorf("move = %+v", res)
	}
	if _, err := os.Stat(filepath.Join(dir, "inbox")); !os.IsNotExist(err) {
		t.Errorf("source folder not pruned: %v", err)
	}

	w = doJSON(t, router, http.MethodPost, filePath(file.UID, "/move"), MoveRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing target = %d, want 400", w.Code)
	}
	if e := decodeError(t, w); e.Message != "targetPath is required" {
		t.Errorf("message = %q", e.Message)
	}

	w = doJSON(t, router, http.MethodPost, filePath(999, "/move"), MoveRequest{TargetPath: "x"})
	if w.Code != http.StatusNotFound {
		t.Errorf("missing file = %d, want 404", w.Code)
	}
	if e := decodeError(t, w); e.Message != "File not found" {
		t.Errorf("message = %q", e.Message)
	}
}

func TestUpdateMetadata(t *testing.T) {
	router, _ := testEnv(t, "")
	file := mustUpload(t, router, "m", "pic.txt", "p")

	w := doJSON(t, router, http.MethodPut, filePath(file.UID, ""), map[string]string{"title": "Sunset", "secret": "ignored"})
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d, body = %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodGet, filePath(file.UID, ""), nil)
	var got FileResponse
	_ = json.Unmarshal(w.Body.Bytes(), &got)
	if got.Metadata.Title != "Sunset" {
		t.Errorf("title = %q", got.Metadata.Title)
	}

	w = doJSON(t, router, http.MethodPut, filePath(file.UID, ""), nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty body = %d, want 400", w.Code)
	}
	if e := decodeError(t, w); e.Message != "no metadata provided" {
		t.Errorf("message = %q", e.Message)
	}

	w = doJSON(t, router, http.MethodPut, filePath(file.UID, ""), map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty object = %d, want 400", w.Code)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	router, _ := testEnv(t, "secret")
	req := httptest.NewRequest(http.MethodGet, "/files/1", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("valid token should not 401")
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	router, _ := testEnv(t, "secret")
	w := doJSON(t, router, http.MethodGet, "/files/1", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no token = %d, want 401", w.Code)
	}
	if e := decodeError(t, w); !e.Error || e.StatusCode != http.StatusUnauthorized {
		t.Errorf("error body = %+v", e)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	router, _ := testEnv(t, "secret")
	req := httptest.NewRequest(http.MethodGet, "/files/1", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestUpload_AuthProtected(t *testing.T) {
	router, _ := testEnv(t, "secret")
	w := upload(t, router, uploadForm{filename: "x.png", content: []byte("data"), targetPath: "x"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("upload no auth = %d, want 401", w.Code)
	}
}

// sseStub writes headers and blocks until the request context is done.
var sseStub = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	<-r.Context().Done()
})

func TestSSEEvents_AuthProtected(t *testing.T) {
	router, _ := testEnvWithEvents(t, "tok", sseStub)
	w := doJSON(t, router, http.MethodGet, "/events", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("SSE without token = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	router, _ := testEnvWithEvents(t, "tok", sseStub)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("SSE with valid token = %d, want 200", w.Code)
	}
}
