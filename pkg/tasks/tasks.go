// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// DocumentExtractionTask represents the data structure for a reference
// document extraction job.
type DocumentExtractionTask struct {
	DocumentID uint   `json:"document_id"`
	FileMD5    string `json:"file_md5"`
	ObjectName string `json:"object_name"`
	FileName   string `json:"file_name"`
	UserID     uint   `json:"user_id"`
}
