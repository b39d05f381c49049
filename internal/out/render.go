// Package out renders the response envelope every command emits: JSON or
// plain key=value lines, with optional field projection.
package out

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"
	"time"

	clierr "github.com/dev-tnsq/verbex/internal/errors"
	"github.com/dev-tnsq/verbex/internal/model"
)

// Options is the slice of settings rendering depends on.
type Options struct {
	OutputMode   string
	SelectFields []string
	ResultsOnly  bool
}

// Success builds the envelope for a completed command.
func Success(command, network, requestID string, data any, meta model.EnvelopeMeta) model.Envelope {
	meta.RequestID = requestID
	meta.Timestamp = time.Now().UTC()
	meta.Command = command
	meta.Network = network
	return model.Envelope{
		Version: model.EnvelopeVersion,
		Success: true,
		Data:    data,
		Meta:    meta,
	}
}

// Failure builds the envelope for a failed command, mapping the typed
// error code into the error body.
func Failure(command, network, requestID string, err error) model.Envelope {
	body := &model.ErrorBody{
		Code:    clierr.ExitCode(err),
		Type:    "internal",
		Message: err.Error(),
	}
	if typed, ok := clierr.As(err); ok {
		body.Type = errorType(typed.Code)
	}
	return model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Error:   body,
		Meta: model.EnvelopeMeta{
			RequestID: requestID,
			Timestamp: time.Now().UTC(),
			Command:   command,
			Network:   network,
		},
	}
}

func errorType(code clierr.Code) string {
	switch code {
	case clierr.CodeUsage:
		return "usage"
	case clierr.CodeAuth:
		return "auth"
	case clierr.CodeRateLimited:
		return "rate_limited"
	case clierr.CodeUnavailable:
		return "unavailable"
	case clierr.CodeUnsupported:
		return "unsupported"
	case clierr.CodeStale:
		return "stale"
	case clierr.CodeBlocked:
		return "blocked"
	case clierr.CodeSimulation:
		return "simulation"
	case clierr.CodeTxFailed:
		return "tx_failed"
	case clierr.CodeTxTimeout:
		return "tx_timeout"
	case clierr.CodeSubmitTimeout:
		return "submit_timeout"
	case clierr.CodeSigner:
		return "signer"
	default:
		return "internal"
	}
}

func Render(w io.Writer, env model.Envelope, opts Options) error {
	data := env.Data
	if len(opts.SelectFields) > 0 {
		data = project(data, opts.SelectFields)
	}

	if opts.ResultsOnly {
		if opts.OutputMode == "json" {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(data)
		}
		return renderPlain(w, data)
	}

	if opts.OutputMode == "json" {
		env.Data = data
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(env)
	}

	plain := map[string]any{
		"success":  env.Success,
		"data":     data,
		"warnings": env.Warnings,
		"meta":     env.Meta,
	}
	if env.Error != nil {
		plain["error"] = env.Error
	}
	return renderPlain(w, plain)
}

func renderPlain(w io.Writer, data any) error {
	v := reflect.ValueOf(data)
	if !v.IsValid() {
		_, err := fmt.Fprintln(w, "null")
		return err
	}

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			item := normalizeValue(v.Index(i).Interface())
			line, err := toLine(item)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
		if v.Len() == 0 {
			_, err := fmt.Fprintln(w, "[]")
			return err
		}
		return nil
	default:
		line, err := toLine(normalizeValue(data))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, line)
		return err
	}
}

func project(data any, fields []string) any {
	n := normalizeValue(data)
	switch t := n.(type) {
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, item := range t {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			out = append(out, projectMap(m, fields))
		}
		return out
	case map[string]any:
		return projectMap(t, fields)
	default:
		return n
	}
}

func projectMap(m map[string]any, fields []string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := m[f]; ok {
			out[f] = v
		}
	}
	return out
}

func normalizeValue(v any) any {
	buf, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(buf, &out); err != nil {
		return v
	}
	return out
}

func toLine(v any) (string, error) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, t[k]))
		}
		return strings.Join(parts, " "), nil
	default:
		buf, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(buf), nil
	}
}
