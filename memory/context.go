// Package memory holds the long-lived conversation context: a running
// summary of the chat and what is known about the user.
//
// Information Hiding:
// - The persisted blob format is versioned JSON owned by this package
// - Callers see only the Context value and Encode/Decode
package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Version is the current blob format version.
const Version = 1

// ErrUnsupportedVersion is returned when a blob was written by a newer format.
var ErrUnsupportedVersion = errors.New("unsupported context version")

// Context is what the context agent remembers between turns.
type Context struct {
	ChatSummary string `json:"chat_summary" jsonschema_description:"Concise summary of the conversation so far"`
	UserData    string `json:"user_data" jsonschema_description:"Facts the user has shared about themselves and their preferences"`
}

type envelope struct {
	Version     int    `json:"version"`
	ChatSummary string `json:"chat_summary"`
	UserData    string `json:"user_data"`
}

// IsZero reports whether nothing has been remembered yet.
func (c Context) IsZero() bool {
	return c.ChatSummary == "" && c.UserData == ""
}

// Encode renders the context as a versioned JSON blob.
func (c Context) Encode() (string, error) {
	data, err := json.Marshal(envelope{
		Version:     Version,
		ChatSummary: c.ChatSummary,
		UserData:    c.UserData,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode context: %w", err)
	}
	return string(data), nil
}

// Decode parses a blob produced by Encode. The empty blob of a fresh
// conversation decodes to the zero Context.
func Decode(blob string) (Context, error) {
	if strings.TrimSpace(blob) == "" {
		return Context{}, nil
	}
	var env envelope
	if err := json.Unmarshal([]byte(blob), &env); err != nil {
		return Context{}, fmt.Errorf("failed to decode context: %w", err)
	}
	if env.Version != Version {
		return Context{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, env.Version)
	}
	return Context{ChatSummary: env.ChatSummary, UserData: env.UserData}, nil
}

// Prompt renders the context as a system message body for the model.
// The zero Context renders as an empty string.
func (c Context) Prompt() string {
	if c.IsZero() {
		return ""
	}
	var b strings.Builder
	b.WriteString("Context from earlier in this conversation.\n")
	if c.ChatSummary != "" {
		fmt.Fprintf(&b, "Chat summary: %s\n", c.ChatSummary)
	}
	if c.UserData != "" {
		fmt.Fprintf(&b, "About the user: %s\n", c.UserData)
	}
	return strings.TrimRight(b.String(), "\n")
}
