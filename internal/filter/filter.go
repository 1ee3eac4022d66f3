package filter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/jmespath/go-jmespath"
)

const (
	// QueryShellTimeout is the maximum time allowed for query shell command execution
	QueryShellTimeout = 30 * time.Second
)

var (
	// Shell command pattern: $(command)
	shellPattern = regexp.MustCompile(`^\$\((.+)\)$`)
)

// Apply applies filter and query expressions to a JSON document.
// Filter narrows results (e.g., items[?status==`active`]).
// Query transforms/selects fields (e.g., [].name).
// If query is $(...), it runs through sh with the document on stdin.
func Apply(ctx context.Context, body []byte, filter string, query string) ([]byte, error) {
	result := body

	if filter != "" {
		filtered, err := applyJMESPath(result, filter)
		if err != nil {
			return nil, fmt.Errorf("failed to apply filter: %w", err)
		}
		result = filtered
	}

	if query != "" {
		if matches := shellPattern.FindStringSubmatch(query); len(matches) > 1 {
			queried, err := executeShellCommand(ctx, result, matches[1])
			if err != nil {
				return nil, fmt.Errorf("failed to execute query shell command: %w", err)
			}
			result = queried
		} else {
			queried, err := applyJMESPath(result, query)
			if err != nil {
				return nil, fmt.Errorf("failed to apply query: %w", err)
			}
			result = queried
		}
	}

	return result, nil
}

// Validate checks filter and query syntax before any request is sent.
func Validate(filter, query string) error {
	if filter != "" {
		if _, err := jmespath.Compile(filter); err != nil {
			return fmt.Errorf("invalid filter '%s': %w", filter, err)
		}
	}
	if query != "" && !IsShellCommand(query) {
		if _, err := jmespath.Compile(query); err != nil {
			return fmt.Errorf("invalid query '%s': %w", query, err)
		}
	}
	return nil
}

func applyJMESPath(doc []byte, expression string) ([]byte, error) {
	var data any
	if err := json.Unmarshal(doc, &data); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	jp, err := jmespath.Compile(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid JMESPath expression '%s': %w", expression, err)
	}

	result, err := jp.Search(data)
	if err != nil {
		return nil, fmt.Errorf("JMESPath search failed: %w", err)
	}

	if result == nil {
		return []byte("null"), nil
	}

	output, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return output, nil
}

func executeShellCommand(ctx context.Context, body []byte, command string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, QueryShellTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Stdin = bytes.NewReader(body)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		errMsg := err.Error()
		if stderr.Len() > 0 {
			errMsg = strings.TrimSpace(stderr.String())
		}
		return nil, fmt.Errorf("command '%s' failed: %s", command, errMsg)
	}

	return bytes.TrimSpace(stdout.Bytes()), nil
}

// IsShellCommand checks if a query is a shell command (starts with $(...))
func IsShellCommand(query string) bool {
	return shellPattern.MatchString(query)
}
