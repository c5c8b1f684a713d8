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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var queueLabels = []string{"queue"}

var (
	batchRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "extract",
		Subsystem: "queue",
		Name:      "batch_rows_total",
		Help:      "Rows observed per batch query, by queue.",
	}, queueLabels)

	batchLimit = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "extract",
		Subsystem: "queue",
		Name:      "batch_limit",
		Help:      "Current adaptive row cap, by queue.",
	}, queueLabels)

	batchDurationSeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "extract",
		Subsystem: "queue",
		Name:      "batch_duration_seconds",
		Help:      "Current adaptive time-window width, by queue.",
	}, queueLabels)

	unackedMessages = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "extract",
		Subsystem: "queue",
		Name:      "unacked_messages",
		Help:      "Messages currently awaiting ack, by queue.",
	}, queueLabels)

	ackLag = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "extract",
		Subsystem: "queue",
		Name:      "pointer_lag_seconds",
		Help:      "Seconds between newest_seen and oldest_unacked at each batch boundary, by queue.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
	}, queueLabels)

	stateSaveErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "extract",
		Subsystem: "queue",
		Name:      "state_save_errors_total",
		Help:      "Failures writing a queue's durable state file.",
	}, queueLabels)
)

// reportBatchMetrics records the outcome of the batch most recently
// drained. Called by the Extractor once a queue's parser is exhausted.
func (q *Queue) reportBatchMetrics() {
	q.mu.Lock()
	name := q.variant.Name()
	count := q.lastBatchCount
	limit := q.lastBatchLimit
	duration := q.lastBatchDuration
	unacked := len(q.messageInfo)
	lag := q.newestSeen.Sub(q.oldestUnacked).Seconds()
	q.mu.Unlock()

	batchRows.WithLabelValues(name).Add(float64(count))
	batchLimit.WithLabelValues(name).Set(float64(limit))
	batchDurationSeconds.WithLabelValues(name).Set(duration.Seconds())
	unackedMessages.WithLabelValues(name).Set(float64(unacked))
	if lag >= 0 {
		ackLag.WithLabelValues(name).Observe(lag)
	}
}
