package main

import (
	"fmt"
	"os"

	"github.com/rickchristie/sqlgate-mcp/internal/meta"
)

func main() {
	if len(os.Args) < 2 {
		if err := runServe(nil); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	switch os.Args[1] {
	case "serve":
		if err := runServe(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "doctor":
		if err := runDoctor(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "version", "--version":
		fmt.Printf("sqlgate %s\n", meta.Version)
	case "--help", "-h", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// printUsage writes to stderr so a stdio client never reads it as protocol.
func printUsage() {
	w := os.Stderr
	fmt.Fprintln(w, "sqlgate - read-only SQL gateway for AI agents (MCP)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  sqlgate serve [--config path] [--transport stdio|http] [--debug]")
	fmt.Fprintln(w, "                      Start the MCP server (default command)")
	fmt.Fprintln(w, "  sqlgate doctor [--config path]")
	fmt.Fprintln(w, "                      Validate configuration and print agent snippets")
	fmt.Fprintln(w, "  sqlgate version     Print the version")
	fmt.Fprintln(w, "  sqlgate --help      Show this help message")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Environment:")
	fmt.Fprintln(w, "  SQLGATE_CONFIG_PATH, DB_CONNECTION_STRING, COMMENT_DB_CONNECTION_STRING,")
	fmt.Fprintln(w, "  TABLE_WHITE_LIST, COLUMN_WHITE_LIST, QUERY_LIMIT_SIZE, MAX_ROWS_EXPORT, DEBUG")
}
