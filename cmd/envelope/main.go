// Package main provides the envelope CLI for wire-frame debugging.
//
// The CLI reads JSON from stdin, performs one operation on the envelope wire
// format, and writes JSON to stdout. Useful for inspecting captured link
// traffic and for generating test frames.
//
// Usage:
//
//	# Encode a typed payload into a wire frame
//	echo '{"type":"scoreUpdate","payload":{"hole":3},"priority":"high"}' | envelope encode
//
//	# Decode a wire frame back into envelope JSON
//	echo '{"frame":"<base64>"}' | envelope decode
//
//	# Summarize a wire frame without dumping the payload
//	echo '{"frame":"<base64>"}' | envelope inspect
package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/caddiehq/wristlink/syncbus"
)

const (
	cmdEncode  = "encode"
	cmdDecode  = "decode"
	cmdInspect = "inspect"
	cmdVersion = "version"
)

// Version information
const Version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	if err := run(os.Args[1], os.Stdin, os.Stdout); err != nil {
		writeError(os.Stdout, err)
		os.Exit(1)
	}
}

func run(cmd string, in io.Reader, out io.Writer) error {
	switch cmd {
	case cmdVersion:
		return writeJSON(out, map[string]string{"version": Version})
	case cmdEncode:
		return handleEncode(in, out)
	case cmdDecode:
		return handleDecode(in, out)
	case cmdInspect:
		return handleInspect(in, out)
	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: envelope <command>

Commands:
  encode   Encode {type, payload, priority} into a base64 wire frame
  decode   Decode {frame} into envelope JSON
  inspect  Summarize {frame} without dumping the payload
  version  Print version information

Input/Output:
  All commands read JSON from stdin and write JSON to stdout.`)
}

// envelopeJSON is the human-facing rendering of an envelope.
type envelopeJSON struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Priority  string          `json:"priority"`
	Timestamp string          `json:"timestamp"`
}

func handleEncode(in io.Reader, out io.Writer) error {
	var req struct {
		Type     string          `json:"type"`
		Payload  json.RawMessage `json:"payload"`
		Priority string          `json:"priority"`
	}
	if err := decodeInput(in, &req); err != nil {
		return err
	}
	if req.Type == "" {
		return fmt.Errorf("type is required")
	}

	priority, err := parsePriority(req.Priority)
	if err != nil {
		return err
	}

	env := syncbus.NewRawEnvelope(req.Type, req.Payload, priority)
	return writeJSON(out, map[string]string{
		"id":    env.ID,
		"frame": base64.StdEncoding.EncodeToString(env.MarshalWire()),
	})
}

func handleDecode(in io.Reader, out io.Writer) error {
	env, err := readFrame(in)
	if err != nil {
		return err
	}
	return writeJSON(out, envelopeJSON{
		ID:        env.ID,
		Type:      env.Type,
		Payload:   env.Payload,
		Priority:  env.Priority.String(),
		Timestamp: env.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"),
	})
}

func handleInspect(in io.Reader, out io.Writer) error {
	env, err := readFrame(in)
	if err != nil {
		return err
	}
	return writeJSON(out, map[string]any{
		"id":            env.ID,
		"type":          env.Type,
		"priority":      env.Priority.String(),
		"payload_bytes": len(env.Payload),
		"timestamp_ms":  env.Timestamp.UnixMilli(),
	})
}

func readFrame(in io.Reader) (syncbus.Envelope, error) {
	var req struct {
		Frame string `json:"frame"`
	}
	if err := decodeInput(in, &req); err != nil {
		return syncbus.Envelope{}, err
	}
	raw, err := base64.StdEncoding.DecodeString(req.Frame)
	if err != nil {
		return syncbus.Envelope{}, fmt.Errorf("invalid base64 frame: %w", err)
	}
	return syncbus.UnmarshalWire(raw)
}

func parsePriority(s string) (syncbus.Priority, error) {
	switch s {
	case "low":
		return syncbus.PriorityLow, nil
	case "", "normal":
		return syncbus.PriorityNormal, nil
	case "high":
		return syncbus.PriorityHigh, nil
	default:
		return 0, fmt.Errorf("unknown priority %q", s)
	}
}

func decodeInput(in io.Reader, v any) error {
	data, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

func writeJSON(out io.Writer, v any) error {
	return json.NewEncoder(out).Encode(v)
}

func writeError(out io.Writer, err error) {
	_ = writeJSON(out, map[string]any{
		"error":   true,
		"message": err.Error(),
	})
}
