// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sseclient wraps r3labs/sse's low-level event-stream framing for
// providers that stream a POST response body rather than subscribing to
// a GET SSE endpoint (the shape r3labs/sse.Client itself targets).
package sseclient

import (
	"bytes"
	"io"
	"strings"

	"github.com/r3labs/sse/v2"
)

// Event is one parsed "data: ..." frame from a streamed completion body.
type Event struct {
	Data string
	Done bool // true once the provider sends the terminal "[DONE]" marker
}

// Reader frames a provider's streaming HTTP response body into Events.
type Reader struct {
	frames *sse.EventStreamReader
}

func NewReader(body io.Reader) *Reader {
	return &Reader{frames: sse.NewEventStreamReader(body, 1<<20)}
}

// Next returns the next data line across the stream, or io.EOF when the
// body is exhausted.
func (r *Reader) Next() (Event, error) {
	for {
		raw, err := r.frames.ReadEvent()
		if err != nil {
			return Event{}, err
		}

		for _, line := range strings.Split(string(bytes.TrimSpace(raw)), "\n") {
			line = strings.TrimSpace(line)
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return Event{Done: true}, nil
			}
			if data != "" {
				return Event{Data: data}, nil
			}
		}
	}
}
