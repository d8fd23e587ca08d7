// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package engine

import (
	"log/slog"

	"github.com/google/uuid"
)

// Notification is a UI-facing push message. Distinct from the durable event
// stream: notifications are best-effort and in-memory only.
type Notification struct {
	Type string
	Data map[string]any
}

// Subscriber receives notifications. Subscribers must be fast; a slow
// subscriber delays engine progress.
type Subscriber func(Notification)

// Subscribe registers a notification callback and returns a handle for
// Unsubscribe.
func (e *Engine) Subscribe(fn Subscriber) string {
	id := uuid.NewString()
	e.subMu.Lock()
	e.subscribers[id] = fn
	e.subMu.Unlock()
	return id
}

// Unsubscribe removes a previously registered callback.
func (e *Engine) Unsubscribe(id string) {
	e.subMu.Lock()
	delete(e.subscribers, id)
	e.subMu.Unlock()
}

// notify fans a notification out to all subscribers. Panics in a subscriber
// are recovered and logged, never propagated.
func (e *Engine) notify(notificationType string, data map[string]any) {
	e.subMu.RLock()
	subs := make([]Subscriber, 0, len(e.subscribers))
	for _, fn := range e.subscribers {
		subs = append(subs, fn)
	}
	e.subMu.RUnlock()

	n := Notification{Type: notificationType, Data: data}
	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Warn("subscriber panicked", slog.Any("panic", r), slog.String("type", notificationType))
				}
			}()
			fn(n)
		}()
	}
}
