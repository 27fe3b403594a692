package events

// Kafka topics
// These constants define where the ingestion subsystem publishes its events
const (
	// TopicDocuments carries external-integration notifications for every
	// verified and forwarded document record
	TopicDocuments = "PolicyIngest.Documents"

	// TopicBlockEvents carries the hosting-workflow block events
	// (document-produced, release, refresh) for downstream blocks
	TopicBlockEvents = "PolicyIngest.BlockEvents"

	// TopicStatus carries subscription/stream status pushes for operators
	TopicStatus = "PolicyIngest.Status"
)
