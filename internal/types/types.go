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

// Package types contains the data types shared across the extraction
// core. Placing them in their own package keeps the extract, dispatch,
// and variants packages free to compose without import cycles.
package types

// Message is an opaque payload pulled from the data warehouse by a
// queue's parser. The extraction core never inspects a Message's
// contents directly: it only calls the methods below, plus whatever a
// Variant's Channel/Timestamp/TTL accessors extract from it.
type Message interface {
	// Key returns a stable, comparable identity for the message, used
	// as a map key in a queue's message_info deduplication table. Two
	// Messages observed for the same logical row (e.g. a re-queried
	// batch that overlaps a previous one) must return equal keys.
	Key() string

	// CanonicalBytes returns a deterministic textual representation of
	// the message, used to compute the cross-restart content hash
	// persisted in the queue's "acked" state.
	CanonicalBytes() []byte
}
