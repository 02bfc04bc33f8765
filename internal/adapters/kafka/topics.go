package kafka

// Topic definitions for Kafka event streaming
const (
	// TopicUsageEvents carries usage.Event values keyed by user id
	TopicUsageEvents = "usage.events"
)
