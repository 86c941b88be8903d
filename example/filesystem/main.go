package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/modelctx/mcp"
	"github.com/modelctx/mcp/servers/filesystem"
)

// This example wires a filesystem server and a client together over an
// in-process pipe, then walks through a small session: handshake, tool
// listing, a directory listing and a resource read.
func main() {
	path := flag.String("path", "", "Root directory to serve (required)")
	flag.StringVar(path, "p", "", "Root directory to serve (required) (shorthand)")
	flag.Parse()

	if *path == "" {
		fmt.Println("Error: path is required")
		flag.Usage()
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	handler, err := filesystem.NewServer([]string{*path})
	if err != nil {
		fmt.Println("Error: failed to create filesystem server:", err)
		os.Exit(1)
	}

	cliTransport, srvTransport := mcp.NewPipe()
	srv := mcp.NewServer(handler, srvTransport, mcp.WithServerLogger(logger))

	srvDone := make(chan error, 1)
	go func() {
		srvDone <- srv.Run(context.Background())
	}()

	ctx := context.Background()
	cli := mcp.NewClient(mcp.Info{Name: "filesystem-example", Version: "1.0.0"},
		cliTransport, mcp.WithClientLogger(logger))

	initRes, err := cli.Connect(ctx)
	if err != nil {
		fmt.Println("Error: failed to connect:", err)
		os.Exit(1)
	}
	fmt.Printf("Connected to %s %s\n", initRes.ServerInfo.Name, initRes.ServerInfo.Version)

	tools, err := cli.ListTools(ctx, mcp.ListToolsParams{})
	if err != nil {
		fmt.Println("Error: failed to list tools:", err)
		os.Exit(1)
	}
	fmt.Println("Available tools:")
	for _, tool := range tools.Tools {
		fmt.Printf("  %s\n", tool.Name)
	}

	listing, err := cli.CallTool(ctx, mcp.CallToolParams{
		Name:      "list_directory",
		Arguments: fmt.Appendf(nil, `{"path": %q}`, *path),
	})
	if err != nil {
		fmt.Println("Error: failed to list directory:", err)
		os.Exit(1)
	}
	fmt.Printf("Contents of %s:\n", *path)
	for _, content := range listing.Content {
		fmt.Print(content.Text)
	}

	resources, err := cli.ListResources(ctx, mcp.ListResourcesParams{})
	if err != nil {
		fmt.Println("Error: failed to list resources:", err)
		os.Exit(1)
	}
	fmt.Printf("%d resources available\n", len(resources.Resources))

	if err := cli.Close(); err != nil {
		fmt.Println("Error: failed to close client:", err)
	}
	if err := <-srvDone; err != nil {
		fmt.Println("Error: server exited with error:", err)
	}
}
