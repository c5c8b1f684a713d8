// Copyright 2023 The Cockroach Authors
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
//
// SPDX-License-Identifier: Apache-2.0

package extract

import (
	"github.com/clinicalstream/extract-core/internal/types"
	"github.com/clinicalstream/extract-core/internal/util/qtime"
)

// TimestampInfo is a bucket of all messages a queue has observed at one
// distinct timestamp. Buckets are strictly increasing and held in a
// FIFO deque on the owning Queue; a bucket is destroyed only when it is
// the deque head, has no unacked entries, and is not the sole bucket
// (spec.md §3).
type TimestampInfo struct {
	Timestamp qtime.Time

	// unacked is keyed by Message.Key() so that push_message can detect
	// duplicates cheaply.
	unacked map[string]*MessageInfo
	acked   []*MessageInfo
}

func newTimestampInfo(ts qtime.Time) *TimestampInfo {
	return &TimestampInfo{
		Timestamp: ts,
		unacked:   make(map[string]*MessageInfo),
	}
}

// UnackedCount reports how many messages in this bucket have not yet
// been acked.
func (t *TimestampInfo) UnackedCount() int { return len(t.unacked) }

// AckedCount reports how many messages in this bucket have been acked.
func (t *TimestampInfo) AckedCount() int { return len(t.acked) }

// MessageInfo pairs a Message with a back-reference to the bucket that
// owns it. MessageInfo is created on first sight of a message and
// destroyed together with its bucket (spec.md §3).
type MessageInfo struct {
	Message types.Message
	bucket  *TimestampInfo

	// acked is true once the message has moved from bucket.unacked to
	// bucket.acked, either through a live ack_message call or because
	// it was recognized as already-acked from a prior process lifetime
	// (acked_saved).
	acked bool
}

// Bucket returns the TimestampInfo this message belongs to.
func (m *MessageInfo) Bucket() *TimestampInfo { return m.bucket }

// Acked reports whether the message has been acknowledged.
func (m *MessageInfo) Acked() bool { return m.acked }
