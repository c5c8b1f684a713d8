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

package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dispatchedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "extract",
		Subsystem: "dispatch",
		Name:      "messages_total",
		Help:      "Messages handed to the dispatcher, by source queue.",
	}, []string{"queue"})

	unroutedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "extract",
		Subsystem: "dispatch",
		Name:      "unrouted_messages_total",
		Help:      "Messages with no live handler claiming their channel, by source queue.",
	}, []string{"queue"})

	deadLetterMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "extract",
		Subsystem: "dispatch",
		Name:      "dead_letter_messages_total",
		Help:      "Messages routed to the dead-letter handler, by source queue.",
	}, []string{"queue"})

	handlerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "extract",
		Subsystem: "dispatch",
		Name:      "handler_errors_total",
		Help:      "Handler errors, by source queue and channel.",
	}, []string{"queue", "channel"})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "extract",
		Subsystem: "dispatch",
		Name:      "job_queue_depth",
		Help:      "Approximate pending-job count in the dispatcher's worker channel at last enqueue, by source queue.",
	}, []string{"queue"})
)
