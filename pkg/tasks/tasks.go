// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// BootstrapTask represents an asynchronous knowledge backfill job:
// ingest every document of the assistant that has no vector reference yet.
type BootstrapTask struct {
	AssistantID string `json:"assistant_id"`
}
