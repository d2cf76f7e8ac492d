package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
)

// scanBufferSize bounds a single stream-json line. Tool results can carry
// whole files, so the limit is generous.
const scanBufferSize = 10 * 1024 * 1024

// ClaudeCLI streams turns through the Claude Code CLI in stream-json mode.
// One subprocess per turn; the resume token ties consecutive turns to the
// same underlying conversation.
type ClaudeCLI struct {
	bin string
}

// NewClaudeCLI creates an adapter invoking the given binary.
func NewClaudeCLI(bin string) *ClaudeCLI {
	return &ClaudeCLI{bin: bin}
}

// Stream implements Streamer. The subprocess is killed when ctx is
// cancelled; the stream then ends with ErrCancelled.
func (c *ClaudeCLI) Stream(ctx context.Context, prompt string, opts StreamOptions) (*Stream, error) {
	args := buildArgs(prompt, opts)

	cmd := exec.CommandContext(ctx, c.bin, args...)
	if opts.CWD != "" {
		cmd.Dir = opts.CWD
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &EngineError{Message: "opening stdout pipe", Err: err}
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, &EngineError{Message: "starting engine process", Err: err}
	}

	s := newStream(16)
	go c.pump(ctx, cmd, stdout, &stderr, s)
	return s, nil
}

// pump reads stream-json lines, normalizes them, and delivers events until
// the terminal result, a process failure, or cancellation.
func (c *ClaudeCLI) pump(ctx context.Context, cmd *exec.Cmd, stdout io.Reader, stderr *strings.Builder, s *Stream) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), scanBufferSize)

	sawResult := false
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		events, err := normalizeLine(line)
		if err != nil {
			slog.Warn("Dropping unrecognized engine frame", "error", err)
			continue
		}
		for _, ev := range events {
			if !s.emit(ctx, ev) {
				_ = cmd.Wait()
				s.finish(ErrCancelled)
				return
			}
			if ev.Kind == EventResult {
				sawResult = true
			}
		}
		if sawResult {
			break
		}
	}

	scanErr := scanner.Err()
	waitErr := cmd.Wait()

	switch {
	case ctx.Err() != nil:
		s.finish(ErrCancelled)
	case sawResult:
		s.finish(nil)
	case scanErr != nil:
		s.finish(&EngineError{Message: "reading engine stream", Err: scanErr})
	case waitErr != nil:
		msg := "engine process failed"
		if errText := strings.TrimSpace(stderr.String()); errText != "" {
			msg = errText
		}
		s.finish(&EngineError{Message: msg, Err: waitErr})
	default:
		s.finish(&EngineError{Message: "engine stream ended without a result"})
	}
}

// buildArgs assembles the CLI invocation for one turn.
func buildArgs(prompt string, opts StreamOptions) []string {
	args := []string{
		"-p", prompt,
		"--output-format", "stream-json",
		"--verbose",
	}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if opts.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(opts.MaxTurns))
	}
	if opts.PermissionMode != "" {
		args = append(args, "--permission-mode", opts.PermissionMode)
	}
	if len(opts.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(opts.AllowedTools, ","))
	}
	if opts.SystemPromptSuffix != "" {
		args = append(args, "--append-system-prompt", opts.SystemPromptSuffix)
	}
	if opts.ResumeToken != "" {
		args = append(args, "--resume", opts.ResumeToken)
	}
	return args
}

// rawFrame is the subset of the engine's stream-json envelope the adapter
// consumes. Unknown fields are ignored.
type rawFrame struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	SessionID string `json:"session_id"`

	// system{init}
	Model          string         `json:"model"`
	CWD            string         `json:"cwd"`
	Tools          []string       `json:"tools"`
	MCPServers     []rawMCPServer `json:"mcp_servers"`
	PermissionMode string         `json:"permissionMode"`

	// assistant / user
	Message *rawMessage `json:"message"`

	// result
	IsError      bool    `json:"is_error"`
	Result       string  `json:"result"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	DurationMS   int64   `json:"duration_ms"`
}

type rawMCPServer struct {
	Name string `json:"name"`
}

type rawMessage struct {
	Content json.RawMessage `json:"content"`
}

type rawContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`
}

// normalizeLine maps one raw stream-json line to zero or more normalized
// events. Assistant messages fan out into one event per content block.
func normalizeLine(line []byte) ([]Event, error) {
	var frame rawFrame
	if err := json.Unmarshal(line, &frame); err != nil {
		return nil, fmt.Errorf("parsing frame: %w", err)
	}

	switch frame.Type {
	case "system":
		ev := Event{
			Kind:            EventSystem,
			Subtype:         frame.Subtype,
			EngineSessionID: frame.SessionID,
			Model:           frame.Model,
			CWD:             frame.CWD,
			Tools:           frame.Tools,
			PermissionMode:  frame.PermissionMode,
		}
		for _, srv := range frame.MCPServers {
			ev.MCPServers = append(ev.MCPServers, srv.Name)
		}
		return []Event{ev}, nil

	case "assistant":
		return normalizeBlocks(frame.Message, EventAssistant)

	case "user":
		return normalizeBlocks(frame.Message, EventUser)

	case "result":
		return []Event{{
			Kind:       EventResult,
			Subtype:    frame.Subtype,
			Success:    !frame.IsError,
			ResultText: frame.Result,
			CostUSD:    frame.TotalCostUSD,
			DurationMS: frame.DurationMS,
		}}, nil

	default:
		return nil, fmt.Errorf("unknown frame type %q", frame.Type)
	}
}

// normalizeBlocks expands a message's content into events. String content
// becomes a single text event; block lists become one event per block, with
// tool_use and tool_result blocks promoted to their own kinds regardless of
// the enclosing message role.
func normalizeBlocks(msg *rawMessage, textKind EventKind) ([]Event, error) {
	if msg == nil || len(msg.Content) == 0 {
		return nil, nil
	}

	var text string
	if err := json.Unmarshal(msg.Content, &text); err == nil {
		if text == "" {
			return nil, nil
		}
		return []Event{{Kind: textKind, Text: text}}, nil
	}

	var blocks []rawContentBlock
	if err := json.Unmarshal(msg.Content, &blocks); err != nil {
		return nil, fmt.Errorf("parsing content blocks: %w", err)
	}

	var events []Event
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if b.Text != "" {
				events = append(events, Event{Kind: textKind, Text: b.Text})
			}
		case "tool_use":
			events = append(events, Event{
				Kind:      EventToolUse,
				ToolName:  b.Name,
				ToolID:    b.ID,
				ToolInput: b.Input,
			})
		case "tool_result":
			events = append(events, Event{
				Kind:      EventToolResult,
				ToolUseID: b.ToolUseID,
				Content:   flattenToolContent(b.Content),
				IsError:   b.IsError,
			})
		default:
			slog.Debug("Skipping unhandled content block", "block_type", b.Type)
		}
	}
	return events, nil
}

// flattenToolContent renders a tool_result content field (string, block
// list, or arbitrary JSON) as text.
func flattenToolContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	var blocks []rawContentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var parts []string
		for _, b := range blocks {
			if b.Type == "text" && b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return string(raw)
}
