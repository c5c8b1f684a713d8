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

// Package qtime implements the monotonic, microsecond-resolution
// timestamp type used to order messages within an extraction queue.
package qtime

import (
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// quote wraps s in double quotes; a small local helper so MarshalJSON
// does not need to import encoding/json just to call Marshal on a
// string.
func quote(s string) []byte {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '"')
	out = append(out, s...)
	out = append(out, '"')
	return out
}

// Time is a totally-ordered, microsecond-resolution wall-clock value.
// The zero Time is not a valid timestamp; use VeryOld for a sentinel
// that compares less than any real timestamp.
type Time struct {
	micros int64
}

// VeryOld compares less than any timestamp derived from a real message.
// It is used to seed a queue's newest_seen_timestamp before the first
// message has been observed.
var VeryOld = Time{micros: -1 << 62}

// FromTime converts a standard library time.Time into a Time, truncating
// to microsecond resolution.
func FromTime(t time.Time) Time {
	return Time{micros: t.UnixMicro()}
}

// Now returns the current wall-clock time as a Time.
func Now() Time {
	return FromTime(time.Now())
}

// New constructs a Time directly from a microseconds-since-epoch value.
// It exists so that DB collaborators can build a Time from a raw column
// value without going through time.Time.
func New(micros int64) Time {
	return Time{micros: micros}
}

// Micros returns the raw microseconds-since-epoch value.
func (t Time) Micros() int64 { return t.micros }

// AsTime converts back to a standard library time.Time, in UTC.
func (t Time) AsTime() time.Time {
	return time.UnixMicro(t.micros).UTC()
}

// Before reports whether t occurs strictly before u.
func (t Time) Before(u Time) bool { return t.micros < u.micros }

// After reports whether t occurs strictly after u.
func (t Time) After(u Time) bool { return t.micros > u.micros }

// Equal reports whether t and u denote the same instant.
func (t Time) Equal(u Time) bool { return t.micros == u.micros }

// IsZero reports whether t is the Go zero value (distinct from VeryOld).
func (t Time) IsZero() bool { return t.micros == 0 }

// Compare returns -1, 0, or 1 as a is before, equal to, or after b.
func Compare(a, b Time) int {
	switch {
	case a.micros < b.micros:
		return -1
	case a.micros > b.micros:
		return 1
	default:
		return 0
	}
}

// Add returns t+d, rounded to microsecond resolution.
func (t Time) Add(d time.Duration) Time {
	return Time{micros: t.micros + d.Microseconds()}
}

// Sub returns the duration t-u.
func (t Time) Sub(u Time) time.Duration {
	return time.Duration(t.micros-u.micros) * time.Microsecond
}

// String renders the canonical, reversible form of t: microseconds since
// the Unix epoch, base 10. This is the form persisted in queue state
// files and used as the map key under "acked" in the JSON schema.
func (t Time) String() string {
	return strconv.FormatInt(t.micros, 10)
}

// MarshalJSON renders t as its canonical string form, so Time fields
// embedded in message structs participate correctly in the content hash
// computed over a message's canonical bytes (spec.md §4.4).
func (t Time) MarshalJSON() ([]byte, error) {
	return quote(t.String()), nil
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (t *Time) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Parse is the inverse of String.
func Parse(s string) (Time, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return Time{}, errors.Wrapf(err, "invalid timestamp %q", s)
	}
	return Time{micros: v}, nil
}
