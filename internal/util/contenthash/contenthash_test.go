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

package contenthash_test

import (
	"testing"

	"github.com/clinicalstream/extract-core/internal/util/contenthash"
	"github.com/stretchr/testify/require"
)

func TestDeterministic(t *testing.T) {
	a := contenthash.Of([]byte("hello"))
	b := contenthash.Of([]byte("hello"))
	require.Equal(t, a, b)
	require.Len(t, a, 64)
}

func TestDistinguishesContent(t *testing.T) {
	a := contenthash.Of([]byte("hello"))
	b := contenthash.Of([]byte("goodbye"))
	require.NotEqual(t, a, b)
}
