package observability

// Metric names shared by the adapters that report through ports.Observability.
const (
	SamplesRecorded      = "aegis_samples_recorded_total"
	SamplesDropped       = "aegis_samples_dropped_total"
	FramesSent           = "aegis_frames_sent_total"
	SubscriberSendErrors = "aegis_subscriber_send_errors_total"
	SinkFlushes          = "aegis_sink_flushes_total"
	SinkFlushErrors      = "aegis_sink_flush_errors_total"
	SinkSentBytes        = "aegis_sink_sent_bytes_total"

	Subscribers          = "aegis_subscribers"
	SinkBufferedBytes    = "aegis_sink_buffered_bytes"
	SinkFlushLatency     = "aegis_sink_flush_latency_seconds"
	BroadcastSendLatency = "aegis_broadcast_send_seconds"
)
