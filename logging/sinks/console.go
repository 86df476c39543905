package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"blockwell/server/logging"
)

const (
	colorReset  = "\x1b[0m"
	colorYellow = "\x1b[33m"
	colorRed    = "\x1b[31m"
	colorGray   = "\x1b[90m"
)

// ConsoleSink renders events as single human-scannable lines, one per
// event: time, severity, type, actor, then the payload flattened to
// key=value pairs.
type ConsoleSink struct {
	mu       sync.Mutex
	out      io.Writer
	useColor bool
}

func NewConsoleSink(w io.Writer, cfg logging.ConsoleConfig) *ConsoleSink {
	if w == nil {
		w = io.Discard
	}
	return &ConsoleSink{out: w, useColor: cfg.UseColor}
}

func (s *ConsoleSink) Write(event logging.Event) error {
	var b strings.Builder
	b.WriteString(event.Time.Format(time.TimeOnly))
	b.WriteByte(' ')
	b.WriteString(s.severityTag(event.Severity))
	b.WriteByte(' ')
	b.WriteString(string(event.Type))
	b.WriteByte(' ')
	b.WriteString(entityTag(event.Actor))
	for _, target := range event.Targets {
		b.WriteString(" ->")
		b.WriteString(entityTag(target))
	}
	writePairs(&b, event.Payload)
	b.WriteByte('\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.out, b.String())
	return err
}

func (s *ConsoleSink) Close(context.Context) error {
	return nil
}

func (s *ConsoleSink) severityTag(sev logging.Severity) string {
	var tag, color string
	switch sev {
	case logging.SeverityDebug:
		tag, color = "DEBUG", colorGray
	case logging.SeverityInfo:
		tag = "INFO "
	case logging.SeverityWarn:
		tag, color = "WARN ", colorYellow
	case logging.SeverityError:
		tag, color = "ERROR", colorRed
	default:
		tag = "?????"
	}
	if s.useColor && color != "" {
		return color + tag + colorReset
	}
	return tag
}

// entityTag renders session actors as their bare player id; the id prefix
// already makes the kind obvious in this domain's logs.
func entityTag(ref logging.EntityRef) string {
	switch {
	case ref.ID == "":
		return string(ref.Kind)
	case ref.Kind == logging.EntityKindSession:
		return ref.ID
	default:
		return fmt.Sprintf("%s:%s", ref.Kind, ref.ID)
	}
}

// writePairs flattens the typed payload into sorted key=value pairs so
// lines stay greppable without JSON quoting noise.
func writePairs(b *strings.Builder, payload any) {
	if payload == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		fmt.Fprintf(b, " payload=%v", payload)
		return
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		b.WriteString(" payload=")
		b.Write(data)
		return
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := fields[k]
		if s, ok := v.(string); ok && strings.ContainsAny(s, " =") {
			fmt.Fprintf(b, " %s=%q", k, s)
			continue
		}
		fmt.Fprintf(b, " %s=%v", k, v)
	}
}
