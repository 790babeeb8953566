package constants

// NormalizationStatus tracks the structural pipeline of a document.
type NormalizationStatus string

// Stable values (store these exact strings in DB).
const (
	NormalizationPending    NormalizationStatus = "pending"
	NormalizationValidating NormalizationStatus = "validating"
	NormalizationSaving     NormalizationStatus = "saving"
	NormalizationCompleted  NormalizationStatus = "completed"
	NormalizationFailed     NormalizationStatus = "failed"
)

// ClassificationStatus tracks the AI extraction pipeline of a document,
// independent of NormalizationStatus.
type ClassificationStatus string

const (
	ClassificationPending    ClassificationStatus = "pending"
	ClassificationExtracting ClassificationStatus = "extracting"
	ClassificationChunking   ClassificationStatus = "chunking"
	ClassificationEmbedding  ClassificationStatus = "embedding"
	ClassificationDraft      ClassificationStatus = "draft"
	ClassificationCompleted  ClassificationStatus = "completed"
	ClassificationFailed     ClassificationStatus = "failed"
)

// JobState is the canonical lifecycle state for rows in the jobs table.
type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed" // terminal, attempts exhausted
)

// JobType names the four durable job classes.
type JobType string

const (
	JobTypeWorkflow     JobType = "workflow-execution"
	JobTypeLedger       JobType = "ledger-processing"
	JobTypeEmbedding    JobType = "embedding-generation"
	JobTypeNotification JobType = "notifications"
)

// LedgerFileStatus tracks an ingested ledger export.
type LedgerFileStatus string

const (
	LedgerFileProcessing LedgerFileStatus = "processing"
	LedgerFileCompleted  LedgerFileStatus = "completed"
	LedgerFileFailed     LedgerFileStatus = "failed"
	LedgerFileRejected   LedgerFileStatus = "rejected" // permanently rejected after retries
)
