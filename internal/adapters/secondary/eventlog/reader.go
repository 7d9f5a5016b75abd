package eventlog

import (
	"bufio"
	"fmt"
	"io"
	"iter"
	"os"
	"time"

	"github.com/tidwall/gjson"
)

const maxLine = 1 << 20

type Event struct {
	TS     time.Time      `json:"ts"`
	Level  string         `json:"level"`
	Name   string         `json:"event"`
	Fields map[string]any `json:"fields,omitempty"`
}

// ReadFile yields the events stored at path in file order. Lines that are
// not JSON objects with an event name are skipped.
func ReadFile(path string) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		f, err := os.Open(path)
		if err != nil {
			yield(Event{}, fmt.Errorf("open event log: %w", err))
			return
		}
		defer f.Close()

		for ev, err := range Read(f) {
			if !yield(ev, err) {
				return
			}
		}
	}
}

func Read(r io.Reader) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 64*1024), maxLine)
		for sc.Scan() {
			ev, ok := parseLine(sc.Bytes())
			if !ok {
				continue
			}
			if !yield(ev, nil) {
				return
			}
		}
		if err := sc.Err(); err != nil {
			yield(Event{}, fmt.Errorf("read event log: %w", err))
		}
	}
}

func parseLine(line []byte) (Event, bool) {
	if !gjson.ValidBytes(line) {
		return Event{}, false
	}
	doc := gjson.ParseBytes(line)
	if !doc.IsObject() {
		return Event{}, false
	}
	name := doc.Get(keyEvent).String()
	if name == "" {
		return Event{}, false
	}

	ev := Event{
		Name:   name,
		Level:  doc.Get(keyLevel).String(),
		Fields: map[string]any{},
	}
	if ts, err := time.Parse(time.RFC3339Nano, doc.Get(keyTime).String()); err == nil {
		ev.TS = ts
	}
	doc.ForEach(func(key, value gjson.Result) bool {
		switch key.String() {
		case keyTime, keyEvent, keyLevel:
		default:
			ev.Fields[key.String()] = value.Value()
		}
		return true
	})
	return ev, true
}

// Count tallies events by name.
func Count(events iter.Seq2[Event, error]) (map[string]int, error) {
	counts := map[string]int{}
	for ev, err := range events {
		if err != nil {
			return counts, err
		}
		counts[ev.Name]++
	}
	return counts, nil
}
