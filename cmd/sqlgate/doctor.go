package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	sqlgate "github.com/rickchristie/sqlgate-mcp"
	"github.com/rickchristie/sqlgate-mcp/internal/meta"
)

func runDoctor(args []string) error {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	configPath := fs.String("config", os.Getenv(sqlgate.EnvConfigPath), "Path to YAML configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	useColor := isTTY(os.Stderr.Fd())
	return doctor(os.Stderr, useColor, *configPath, os.Getenv)
}

func doctor(w io.Writer, useColor bool, configPath string, getenv func(string) string) error {
	printBanner(w, useColor)
	fmt.Fprintf(w, "sqlgate %s\n\n", meta.Version)

	config, ok := doctorValidateConfig(w, useColor, configPath, getenv)
	if !ok {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Fix the issues above and run 'sqlgate doctor' again.")
		return nil
	}

	// Print agent connection snippets
	fmt.Fprintln(w)
	printAgentSnippets(w, useColor, config, configPath)
	return nil
}

// doctorValidateConfig loads the configuration the way serve does and prints
// one check line per finding. Returns the config and true if all checks
// passed.
func doctorValidateConfig(w io.Writer, useColor bool, configPath string, getenv func(string) string) (*sqlgate.ServerConfig, bool) {
	if configPath == "" {
		printCheck(w, useColor, true, "No config file; using environment only")
	} else if _, err := os.Stat(configPath); err != nil {
		printCheck(w, useColor, false, fmt.Sprintf("Config file readable (%s)", configPath))
		return nil, false
	} else {
		printCheck(w, useColor, true, fmt.Sprintf("Config file readable (%s)", configPath))
	}

	config, err := sqlgate.LoadServerConfig(configPath, getenv)
	if err != nil {
		for _, problem := range splitJoined(err) {
			printCheck(w, useColor, false, problem.Error())
		}
		return nil, false
	}
	printCheck(w, useColor, true, "Configuration is valid")
	printCheck(w, useColor, true, fmt.Sprintf("Transport is %s", config.Server.Transport))

	allPassed := true
	if config.Server.Transport == "stdio" && config.Logging.Output == "stdout" {
		printCheck(w, useColor, false, "logging.output must not be stdout with stdio transport")
		allPassed = false
	}
	if len(config.Access.Tables) == 0 {
		printCheck(w, useColor, true, "Table whitelist is empty; every readable table is visible")
	} else {
		printCheck(w, useColor, true, fmt.Sprintf("Table whitelist has %d entries", len(config.Access.Tables)))
	}
	if config.Export.ObjectStore != nil {
		printCheck(w, useColor, true, fmt.Sprintf("Exports upload to bucket %s", config.Export.ObjectStore.Bucket))
	}
	return config, allPassed
}

// splitJoined unwraps an errors.Join result into its parts.
func splitJoined(err error) []error {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		return joined.Unwrap()
	}
	return []error{err}
}

// printCheck prints a colored ✓ or ✗ check line.
func printCheck(w io.Writer, useColor bool, pass bool, msg string) {
	if pass {
		if useColor {
			fmt.Fprintf(w, "  \033[32m✓\033[0m %s\n", msg)
		} else {
			fmt.Fprintf(w, "  ✓ %s\n", msg)
		}
	} else {
		if useColor {
			fmt.Fprintf(w, "  \033[31m✗\033[0m %s\n", msg)
		} else {
			fmt.Fprintf(w, "  ✗ %s\n", msg)
		}
	}
}

// printAgentSnippets prints MCP connection config snippets for various AI
// agents, for the configured transport.
func printAgentSnippets(w io.Writer, useColor bool, config *sqlgate.ServerConfig, configPath string) {
	heading := func(title string) {
		if useColor {
			fmt.Fprintf(w, "\033[1;36m%s\033[0m\n", title)
		} else {
			fmt.Fprintln(w, title)
		}
	}

	subheading := func(title string) {
		if useColor {
			fmt.Fprintf(w, "  \033[1m%s\033[0m\n", title)
		} else {
			fmt.Fprintf(w, "  %s\n", title)
		}
	}

	heading("Agent Connection Snippets")
	fmt.Fprintln(w)

	if config.Server.Transport == "stdio" {
		args := `["serve"]`
		cliArgs := "serve"
		if configPath != "" {
			args = fmt.Sprintf(`["serve", "--config", %q]`, configPath)
			cliArgs = fmt.Sprintf("serve --config %s", configPath)
		}

		subheading("Claude Code")
		fmt.Fprintf(w, "  Run this command to add the server:\n\n")
		fmt.Fprintf(w, "    claude mcp add sqlgate -- sqlgate %s\n\n", cliArgs)
		fmt.Fprintf(w, "  Or add to .mcp.json (project scope):\n\n")
		fmt.Fprintf(w, `  {
    "mcpServers": {
      "sqlgate": {
        "command": "sqlgate",
        "args": %s
      }
    }
  }
`, args)
		fmt.Fprintln(w)

		subheading("Cursor (.cursor/mcp.json)")
		fmt.Fprintf(w, `  {
    "mcpServers": {
      "sqlgate": {
        "command": "sqlgate",
        "args": %s
      }
    }
  }
`, args)
		fmt.Fprintln(w)
		fmt.Fprintln(w, "  Pass DB_CONNECTION_STRING through the agent's env block.")
		return
	}

	url := fmt.Sprintf("http://localhost:%d/mcp", config.Server.Port)

	subheading("Claude Code")
	fmt.Fprintf(w, "  Run this command to add the server:\n\n")
	fmt.Fprintf(w, "    claude mcp add --transport http sqlgate %s\n\n", url)
	fmt.Fprintf(w, "  Or add to .mcp.json (project scope):\n\n")
	fmt.Fprintf(w, `  {
    "mcpServers": {
      "sqlgate": {
        "type": "http",
        "url": "%s"
      }
    }
  }
`, url)
	fmt.Fprintln(w)

	// Gemini CLI
	subheading("Gemini CLI (~/.gemini/settings.json)")
	fmt.Fprintf(w, `  {
    "mcpServers": {
      "sqlgate": {
        "httpUrl": "%s"
      }
    }
  }
`, url)
	fmt.Fprintln(w)

	// Cursor
	subheading("Cursor (.cursor/mcp.json)")
	fmt.Fprintf(w, `  {
    "mcpServers": {
      "sqlgate": {
        "url": "%s"
      }
    }
  }
`, url)
}
