package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/filedesk/internal/fileservice"
	"github.com/starford/filedesk/internal/testutil"
)

func testServer(t *testing.T) (*Server, string) {
	t.Helper()
	f, _, dir := testutil.TestFactory(t)
	return New(fileservice.NewService(f, nil, testutil.Logger())), dir
}

func callTool(t *testing.T, srv *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no "call tool" test helper, so handlers are called directly.
	handlers := map[string]func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error){
		"list_storages":    srv.listStorages,
		"list_folder":      srv.listFolder,
		"get_file":         srv.getFile,
		"read_file":        srv.readFile,
		"rename_file":      srv.renameFile,
		"move_file":        srv.moveFile,
		"delete_file":      srv.deleteFile,
		"update_metadata":  srv.updateMetadata,
		"upload_file":      srv.uploadFile,
		"get_api_contract": srv.getAPIContract,
	}
	h, ok := handlers[name]
	if !ok {
		t.Fatalf("unknown tool: %s", name)
	}
	result, err := h(ctx, req)
	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// uploadText stores content through upload_file using a data URI.
func uploadText(t *testing.T, srv *Server, target, filename, content string) fileservice.FileDetail {
	t.Helper()
	r := callTool(t, srv, "upload_file", map[string]any{
		"url":         "data:text/plain;base64," + b64(content),
		"target_path": target,
		"filename":    filename,
	})
	if r.IsError {
		t.Fatalf("upload failed: %s", resultText(r))
	}
	var file fileservice.FileDetail
	if err := json.Unmarshal([]byte(resultText(r)), &file); err != nil {
		t.Fatal(err)
	}
	return file
}

func TestUploadAndReadFile(t *testing.T) {
	srv, dir := testServer(t)
	file := uploadText(t, srv, "notes/today", "todo.txt", "buy milk")
	if file.Identifier != "/notes/today/todo.txt" {
		t.Errorf("identifier = %q", file.Identifier)
	}
	if _, err := os.Stat(filepath.Join(dir, "notes", "today", "todo.txt")); err != nil {
		t.Fatalf("file not on disk: %v", err)
	}

	r := callTool(t, srv, "read_file", map[string]any{"uid": float64(file.UID)})
	if text := resultText(r); text != "buy milk" {
		t.Errorf("read = %q", text)
	}

	r = callTool(t, srv, "get_file", map[string]any{"uid": float64(file.UID)})
	if !strings.Contains(resultText(r), `"name": "todo.txt"`) {
		t.Errorf("get_file = %s", resultText(r))
	}
}

func TestUploadFile_NameFromDataURI(t *testing.T) {
	srv, _ := testServer(t)
	file := uploadText(t, srv, "/", "", "x")
	if !strings.HasSuffix(file.Name, ".txt") {
		t.Errorf("generated name = %q, want .txt suffix", file.Name)
	}
}

func TestUploadFile_BlockedHost(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "upload_file", map[string]any{
		"url":         "http://127.0.0.1/secret.txt",
		"target_path": "x",
	})
	if !r.IsError || !strings.Contains(resultText(r), "blocked host") {
		t.Errorf("loopback fetch = %q", resultText(r))
	}
}

func TestCheckBlockedHost(t *testing.T) {
	tests := []struct {
		host    string
		blocked bool
	}{
		{"127.0.0.1", true},
		{"::1", true},
		{"10.0.0.1", true},
		{"192.168.1.10", true},
		{"172.16.0.5", true},
		{"169.254.1.1", true},
		{"169.254.169.254", true},
		{"0.0.0.0", true},
		{"::", true},
		{"fd00::1", true},
		{"fe80::1", true},
		{"224.0.0.1", true},
		{"metadata.google.internal", true},
		{"8.8.8.8", false},
		{"93.184.216.34", false},
		{"2606:4700::1111", false},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			err := checkBlockedHost(tt.host)
			if tt.blocked && err == nil {
				t.Errorf("checkBlockedHost(%q) = nil, want blocked", tt.host)
			}
			if !tt.blocked && err != nil {
				t.Errorf("checkBlockedHost(%q) = %v, want nil", tt.host, err)
			}
		})
	}
}

func TestGuardedDial(t *testing.T) {
	if err := guardedDial("tcp", "10.1.2.3:80", nil); err == nil {
		t.Error("dial to private address allowed")
	}
	if err := guardedDial("tcp", "8.8.8.8:443", nil); err != nil {
		t.Errorf("dial to public address rejected: %v", err)
	}
}

func TestUploadFile_PrivateHost(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "upload_file", map[string]any{
		"url":         "http://192.168.1.10/secret.txt",
		"target_path": "x",
	})
	if !r.IsError || !strings.Contains(resultText(r), "blocked host") {
		t.Errorf("private fetch = %q", resultText(r))
	}
}

func TestListFolder(t *testing.T) {
	srv, _ := testServer(t)
	uploadText(t, srv, "lib", "a.txt", "a")
	uploadText(t, srv, "lib/sub", "b.txt", "b")

	r := callTool(t, srv, "list_folder", map[string]any{"path": "lib"})
	var listing fileservice.FolderListing
	if err := json.Unmarshal([]byte(resultText(r)), &listing); err != nil {
		t.Fatalf("decode listing %q: %v", resultText(r), err)
	}
	if len(listing.Folders) != 1 || listing.Folders[0] != "sub" {
		t.Errorf("folders = %v", listing.Folders)
	}
	if len(listing.Files) != 1 || listing.Files[0].Name != "a.txt" || listing.Files[0].UID == 0 {
		t.Errorf("files = %+v", listing.Files)
	}

	r = callTool(t, srv, "list_folder", map[string]any{"path": "missing"})
	if !r.IsError {
		t.Error("expected error for missing folder")
	}
}

func TestRenameMoveDelete(t *testing.T) {
	srv, dir := testServer(t)
	file := uploadText(t, srv, "inbox", "draft.txt", "d")
	uid := float64(file.UID)

	r := callTool(t, srv, "rename_file", map[string]any{"uid": uid, "new_name": "final.txt"})
	if r.IsError || !strings.Contains(resultText(r), `"previousName": "draft.txt"`) {
		t.Fatalf("rename = %s", resultText(r))
	}

	r = callTool(t, srv, "move_file", map[string]any{"uid": uid, "target_path": "done/2024"})
	if r.IsError || !strings.Contains(resultText(r), `"identifier": "/done/2024/final.txt"`) {
		t.Fatalf("move = %s", resultText(r))
	}
	if _, err := os.Stat(filepath.Join(dir, "inbox")); !os.IsNotExist(err) {
		t.Errorf("inbox not pruned: %v", err)
	}

	r = callTool(t, srv, "delete_file", map[string]any{"uid": uid})
	if r.IsError {
		t.Fatalf("delete = %s", resultText(r))
	}
	if _, err := os.Stat(filepath.Join(dir, "done")); !os.IsNotExist(err) {
		t.Errorf("done not pruned: %v", err)
	}

	r = callTool(t, srv, "get_file", map[string]any{"uid": uid})
	if !r.IsError || !strings.HasPrefix(resultText(r), "not found") {
		t.Errorf("get after delete = %q", resultText(r))
	}
}

func TestRenameConflict(t *testing.T) {
	srv, _ := testServer(t)
	a := uploadText(t, srv, "c", "a.txt", "a")
	uploadText(t, srv, "c", "b.txt", "b")
	r := callTool(t, srv, "rename_file", map[string]any{"uid": float64(a.UID), "new_name": "b.txt", "conflict_strategy": "CANCEL"})
	if !r.IsError || !strings.HasPrefix(resultText(r), "conflict") {
		t.Errorf("cancel rename = %q", resultText(r))
	}
}

func TestUpdateMetadata(t *testing.T) {
	srv, _ := testServer(t)
	file := uploadText(t, srv, "m", "pic.txt", "p")

	r := callTool(t, srv, "update_metadata", map[string]any{"uid": float64(file.UID), "title": "Sunset", "copyright": "CC-BY"})
	if r.IsError {
		t.Fatalf("update = %s", resultText(r))
	}
	if !strings.Contains(resultText(r), `"title": "Sunset"`) {
		t.Errorf("metadata = %s", resultText(r))
	}

	r = callTool(t, srv, "update_metadata", map[string]any{"uid": float64(file.UID)})
	if !r.IsError {
		t.Error("expected error for empty metadata")
	}
}

func TestMissingUID(t *testing.T) {
	srv, _ := testServer(t)
	for _, tool := range []string{"get_file", "read_file", "delete_file"} {
		r := callTool(t, srv, tool, map[string]any{})
		if !r.IsError {
			t.Errorf("%s without uid should fail", tool)
		}
	}
}

func TestListStoragesAndContract(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "list_storages", nil)
	if !strings.Contains(resultText(r), `"writable": false`) {
		t.Errorf("storages = %s", resultText(r))
	}

	r = callTool(t, srv, "get_api_contract", nil)
	if !strings.Contains(resultText(r), "/files/{uid}/move") {
		t.Error("contract missing move route")
	}

	contents, err := srv.readContractResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil || len(contents) != 1 {
		t.Fatalf("resource = %v, %v", contents, err)
	}
	if tc, ok := contents[0].(mcp.TextResourceContents); !ok || tc.URI != contractURI {
		t.Errorf("resource content = %+v", contents[0])
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"report 2024.pdf":  "report_2024.pdf",
		"../../etc/passwd": "passwd",
		"ünïcode.txt":      "_n_code.txt",
	}
	for in, want := range cases {
		if got := sanitizeFilename(in); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
	if got := sanitizeFilename(".."); got == ".." || got == "" {
		t.Errorf("sanitizeFilename(..) = %q", got)
	}
}
