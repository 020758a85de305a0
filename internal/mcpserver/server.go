// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes filedesk tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/filedesk/internal/apperr"
	"github.com/starford/filedesk/internal/fileservice"
)

const (
	contractURI  = "filedesk://api-contract"
	maxReadBytes = 1 << 20
)

var strategyEnum = mcp.Enum("REPLACE", "RENAME", "CANCEL")

// Server wraps the MCP server with filedesk tools.
type Server struct {
	mcp *server.MCPServer
	svc *fileservice.Service
}

// New creates a new MCP server with all filedesk tools registered.
func New(svc *fileservice.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"filedesk",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_storages",
		mcp.WithDescription("List the configured storages with their uid and whether they accept writes."),
	), s.listStorages)

	s.mcp.AddTool(mcp.NewTool("list_folder",
		mcp.WithDescription("List the subfolders and files directly inside a folder. Never creates folders."),
		mcp.WithString("path", mcp.Description("Folder path, e.g. projects/2024 (empty for the root)")),
		mcp.WithNumber("storage_uid", mcp.Description("Storage uid (default 1)")),
	), s.listFolder)

	s.mcp.AddTool(mcp.NewTool("get_file",
		mcp.WithDescription("Get the catalog record and metadata of a file by uid."),
		mcp.WithNumber("uid", mcp.Required(), mcp.Description("File uid")),
	), s.getFile)

	s.mcp.AddTool(mcp.NewTool("read_file",
		mcp.WithDescription("Read the content of a UTF-8 text file (up to 1 MB)."),
		mcp.WithNumber("uid", mcp.Required(), mcp.Description("File uid")),
	), s.readFile)

	s.mcp.AddTool(mcp.NewTool("rename_file",
		mcp.WithDescription("Rename a file inside its folder. The uid is kept."),
		mcp.WithNumber("uid", mcp.Required(), mcp.Description("File uid")),
		mcp.WithString("new_name", mcp.Required(), mcp.Description("New file name")),
		mcp.WithString("conflict_strategy", strategyEnum, mcp.Description("What to do when the name is taken (default RENAME)")),
	), s.renameFile)

	s.mcp.AddTool(mcp.NewTool("move_file",
		mcp.WithDescription("Move a file to another folder, creating missing folders and removing folders left empty."),
		mcp.WithNumber("uid", mcp.Required(), mcp.Description("File uid")),
		mcp.WithString("target_path", mcp.Required(), mcp.Description("Destination folder path")),
		mcp.WithString("new_name", mcp.Description("Optional new file name")),
		mcp.WithString("conflict_strategy", strategyEnum, mcp.Description("What to do when the name is taken (default REPLACE)")),
	), s.moveFile)

	s.mcp.AddTool(mcp.NewTool("delete_file",
		mcp.WithDescription("Delete a file and remove folders left empty."),
		mcp.WithNumber("uid", mcp.Required(), mcp.Description("File uid")),
	), s.deleteFile)

	s.mcp.AddTool(mcp.NewTool("update_metadata",
		mcp.WithDescription("Update the metadata record of a file. Only the given fields change."),
		mcp.WithNumber("uid", mcp.Required(), mcp.Description("File uid")),
		mcp.WithString("title"),
		mcp.WithString("description"),
		mcp.WithString("alternative", mcp.Description("Alternative text, e.g. for images")),
		mcp.WithString("keywords"),
		mcp.WithString("copyright"),
	), s.updateMetadata)

	s.mcp.AddTool(mcp.NewTool("upload_file",
		mcp.WithDescription("Fetch a file from an http(s) URL or a base64 data URI and store it below target_path. "+
			"An existing file with the same name is replaced."),
		mcp.WithString("url", mcp.Required(), mcp.Description("http(s) URL or data:<mime>;base64,<data> URI")),
		mcp.WithString("target_path", mcp.Required(), mcp.Description("Destination folder path")),
		mcp.WithString("filename", mcp.Description("Optional file name; derived from the URL when omitted")),
		mcp.WithNumber("storage_uid", mcp.Description("Storage uid (default 1)")),
	), s.uploadFile)

	s.mcp.AddTool(mcp.NewTool("get_api_contract",
		mcp.WithDescription("Returns the filedesk REST API contract: routes, conflict strategies and error format."),
	), s.getAPIContract)

	s.mcp.AddResource(
		mcp.NewResource(contractURI, "API Contract",
			mcp.WithResourceDescription("REST routes, folder rules and error format of filedesk."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readContractResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

// toolError turns a service error into a tool result the model can read.
func toolError(err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return mcp.NewToolResultError("not found: " + err.Error())
	case errors.Is(err, apperr.ErrAlreadyExists), errors.Is(err, apperr.ErrFolderConflict):
		return mcp.NewToolResultError("conflict: " + err.Error())
	default:
		return mcp.NewToolResultError(err.Error())
	}
}

func requireUID(req mcp.CallToolRequest) (int64, error) {
	uid, err := req.RequireInt("uid")
	if err != nil {
		return 0, err
	}
	if uid <= 0 {
		return 0, fmt.Errorf("uid must be positive")
	}
	return int64(uid), nil
}

func (s *Server) listStorages(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.svc.Storages())
}

func (s *Server) listFolder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	listing, err := s.svc.List(ctx, req.GetInt("storage_uid", 1), req.GetString("path", ""))
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(listing)
}

func (s *Server) getFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uid, err := requireUID(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	file, err := s.svc.Get(ctx, uid)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(file)
}

func (s *Server) readFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uid, err := requireUID(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rc, _, err := s.svc.Open(ctx, uid)
	if err != nil {
		return toolError(err), nil
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxReadBytes+1))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(data) > maxReadBytes {
		return mcp.NewToolResultError(fmt.Sprintf("file too large to read: exceeds %d bytes", maxReadBytes)), nil
	}
	if !utf8.Valid(data) {
		return mcp.NewToolResultError("file is not UTF-8 text; use get_file for its metadata"), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) renameFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uid, err := requireUID(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	name, err := req.RequireString("new_name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.Rename(ctx, uid, name, req.GetString("conflict_strategy", ""))
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(res)
}

func (s *Server) moveFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uid, err := requireUID(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	target, err := req.RequireString("target_path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.Move(ctx, uid, fileservice.MoveInput{
		TargetPath:       target,
		NewFileName:      req.GetString("new_name", ""),
		ConflictStrategy: req.GetString("conflict_strategy", ""),
	})
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(res)
}

func (s *Server) deleteFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uid, err := requireUID(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.svc.Delete(ctx, uid); err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted: %d", uid)), nil
}

func (s *Server) updateMetadata(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uid, err := requireUID(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	fields := make(map[string]any)
	for k, v := range req.GetArguments() {
		if k != "uid" {
			fields[k] = v
		}
	}
	file, err := s.svc.UpdateMetadata(ctx, uid, fields)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(file.Metadata)
}

func (s *Server) getAPIContract(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(APIContract), nil
}

func (s *Server) readContractResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      contractURI,
			MIMEType: "text/markdown",
			Text:     APIContract,
		},
	}, nil
}
