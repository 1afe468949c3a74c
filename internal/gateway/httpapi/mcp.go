package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/evrydayimruslin/ultralight/internal/platform"
	"github.com/evrydayimruslin/ultralight/internal/runtime"
)

// internalMCPHandler builds the function-to-function endpoint. It exposes
// a single "invoke" tool over the streamable HTTP transport; the sandbox
// SDK is the only intended client.
func (g *Gateway) internalMCPHandler() http.Handler {
	srv := server.NewMCPServer("ultralight", "0.1.0",
		server.WithToolCapabilities(false),
	)

	tool := mcp.NewTool("invoke",
		mcp.WithDescription("Invoke a named function of a hosted app"),
		mcp.WithString("function",
			mcp.Required(),
			mcp.Description("Target function ID"),
		),
		mcp.WithString("entryPoint",
			mcp.Required(),
			mcp.Description("Entry point name within the target module"),
		),
		mcp.WithObject("args",
			mcp.Description("Named arguments passed as a single object"),
		),
		mcp.WithString("caller",
			mcp.Description("Originating caller user ID"),
		),
	)
	srv.AddTool(tool, g.handleInternalInvoke)

	return server.NewStreamableHTTPServer(srv)
}

func (g *Gateway) handleInternalInvoke(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	target, _ := args["function"].(string)
	if target == "" {
		return mcp.NewToolResultError("function is required"), nil
	}
	entryPoint, _ := args["entryPoint"].(string)
	if entryPoint == "" {
		return mcp.NewToolResultError("entryPoint is required"), nil
	}
	callArgs, _ := args["args"].(map[string]any)
	callerID, _ := args["caller"].(string)

	var caller *runtime.User
	if callerID != "" {
		caller = &runtime.User{ID: callerID}
	}

	// The callee runs with its own permission set; nothing from the
	// calling app's grants carries over.
	invokeArgs := []any{}
	if callArgs != nil {
		invokeArgs = append(invokeArgs, callArgs)
	}
	inv, err := g.service.Invoke(ctx, platform.InvokeRequest{
		FunctionID: target,
		EntryPoint: entryPoint,
		Args:       invokeArgs,
		Caller:     caller,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("app call failed: %s", err.Error())), nil
	}

	res := inv.Result
	if res.Error != nil {
		return mcp.NewToolResultError(fmt.Sprintf("%s: %s", res.Error.Type, res.Error.Message)), nil
	}

	encoded, err := json.Marshal(res.Result)
	if err != nil {
		return mcp.NewToolResultError("encoding result failed"), nil
	}
	return mcp.NewToolResultText(string(encoded)), nil
}
