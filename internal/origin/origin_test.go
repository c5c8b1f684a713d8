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

package origin_test

import (
	"testing"

	"github.com/clinicalstream/extract-core/internal/extract"
	"github.com/clinicalstream/extract-core/internal/extract/extracttest"
	"github.com/clinicalstream/extract-core/internal/origin"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndLookup(t *testing.T) {
	o := origin.New()

	_, ok := o.GetPatientID("dev-1", true)
	require.False(t, ok)

	o.Register("dev-1", "patient-42")
	patientID, ok := o.GetPatientID("dev-1", true)
	require.True(t, ok)
	require.Equal(t, "patient-42", patientID)

	o.Register("dev-1", "patient-99")
	patientID, ok = o.GetPatientID("dev-1", true)
	require.True(t, ok)
	require.Equal(t, "patient-99", patientID, "a later registration replaces the earlier one")
}

func TestMappingQueueRoundTrip(t *testing.T) {
	o := origin.New()
	require.Nil(t, o.MappingQueue())

	q := extract.NewQueue(extracttest.NewFakeVariant("PatientMapping"), 10, true)
	o.SetMappingQueue(q)
	require.Same(t, q, o.MappingQueue())
}
