package enums

// OutboxDLQErrorReason classifies why an outbox event was dead-lettered.
type OutboxDLQErrorReason string

const (
	DLQReasonMaxAttempts     OutboxDLQErrorReason = "max_attempts_exceeded"
	DLQReasonDecodeFailure   OutboxDLQErrorReason = "decode_failure"
	DLQReasonMissingTopic    OutboxDLQErrorReason = "missing_topic"
	DLQReasonPublishRejected OutboxDLQErrorReason = "publish_rejected"
)
