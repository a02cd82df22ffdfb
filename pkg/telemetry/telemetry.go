package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sendsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ficsync_sends_total",
		Help: "Messages handed to the send pipeline.",
	})
	sendFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ficsync_send_failures_total",
		Help: "Send failures by kind (forbidden, transient). Duplicates are soft successes and not counted here.",
	}, []string{"kind"})
	mergesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ficsync_merges_total",
		Help: "Reconciliation outcomes for inbound messages.",
	}, []string{"outcome"})
	pushReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ficsync_push_received_total",
		Help: "Messages received over the realtime channel.",
	})
	connectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ficsync_realtime_connects_total",
		Help: "Successful realtime connections, including reconnects.",
	})
	disconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ficsync_realtime_disconnects_total",
		Help: "Unexpected realtime connection drops.",
	})
	connectionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ficsync_realtime_connection_state",
		Help: "Current connection state (1 for the active state).",
	}, []string{"state"})
)

// Merge outcome labels used by the reconciliation engine.
const (
	MergeAppended          = "appended"
	MergeReplaced          = "replaced_placeholder"
	MergeDuplicateID       = "duplicate_id"
	MergeDuplicateClientID = "duplicate_client_id"
	MergeDuplicateFeedback = "duplicate_feedback"
)

func RecordSend()                   { sendsTotal.Inc() }
func RecordSendFailure(kind string) { sendFailures.WithLabelValues(kind).Inc() }
func RecordMerge(outcome string)    { mergesTotal.WithLabelValues(outcome).Inc() }
func RecordPushReceived()           { pushReceived.Inc() }
func RecordConnect()                { connectsTotal.Inc() }
func RecordDisconnect()             { disconnectsTotal.Inc() }

// SetConnectionState flips the state gauge so exactly one label reads 1.
func SetConnectionState(state string) {
	for _, s := range []string{"disconnected", "connecting", "connected"} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		connectionState.WithLabelValues(s).Set(v)
	}
}
