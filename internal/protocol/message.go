// Package protocol defines the wire contract between the gateway, the
// dispatcher and the worker: the message shapes exchanged over NATS, the
// transport ceiling that governs every chunking decision, and the codec for
// oversized payloads.
package protocol

// MaxMessageBytes is the transport ceiling: the maximum amount of encoded
// text carried by a single message. Kept well under the broker's own payload
// limit. Every chunking decision, in both directions, compares against this
// one value.
const MaxMessageBytes = 32 << 20

// Subjects for every hop across the bounded channel.
const (
	SubjectSubmit        = "vidbridge.dispatch.submit"
	SubjectUploadChunk   = "vidbridge.dispatch.upload.chunk"
	SubjectUploadProcess = "vidbridge.dispatch.upload.process"
	SubjectResultChunk   = "vidbridge.dispatch.result.chunk"

	SubjectWorkerJob         = "vidbridge.worker.job"
	SubjectWorkerUploadChunk = "vidbridge.worker.upload.chunk"
	SubjectWorkerPing        = "vidbridge.worker.ping"
	SubjectWorkerReady       = "vidbridge.worker.ready"
	SubjectWorkerProgress    = "vidbridge.worker.progress"
	SubjectWorkerResult      = "vidbridge.worker.result"

	// SubjectUIProgressPrefix + tabID carries fire-and-forget progress
	// updates for one originating client.
	SubjectUIProgressPrefix = "vidbridge.ui.progress."
)

type JobKind string

const (
	JobTranscode  JobKind = "transcode"
	JobExtract    JobKind = "extract"
	JobExtractAll JobKind = "extract_all"
)

// Kind tags the messages that share the worker result subject.
type Kind string

const (
	KindResult             Kind = "RESULT"
	KindResultChunkedStart Kind = "RESULT_CHUNKED_START"
	KindResultChunk        Kind = "RESULT_CHUNK"
	KindResultChunkedEnd   Kind = "RESULT_CHUNKED_END"
)

// SubmitRequest starts a job. Exactly one of Data, TransferID or SourceURL
// carries the payload: inline encoded bytes, a previously staged chunked
// upload, or a locator the dispatcher fetches itself.
type SubmitRequest struct {
	Kind       JobKind `json:"kind"`
	TabID      string  `json:"tab_id"`
	Data       string  `json:"data,omitempty"`
	TransferID string  `json:"transfer_id,omitempty"`
	SourceURL  string  `json:"source_url,omitempty"`
	Filename   string  `json:"filename,omitempty"`
}

// UploadChunk is one indexed piece of an oversized upload.
type UploadChunk struct {
	TransferID  string `json:"transfer_id"`
	ChunkIndex  int    `json:"chunk_index"`
	TotalChunks int    `json:"total_chunks"`
	Chunk       string `json:"chunk"`
}

// UploadAck acknowledges a single chunk.
type UploadAck struct {
	Success  bool   `json:"success"`
	Received int    `json:"received"`
	Total    int    `json:"total"`
	Error    string `json:"error,omitempty"`
}

// ProcessRequest triggers a job over a fully staged transfer.
type ProcessRequest struct {
	Kind       JobKind `json:"kind"`
	TabID      string  `json:"tab_id"`
	TransferID string  `json:"transfer_id"`
	Filename   string  `json:"filename,omitempty"`
}

// InlineResult is a job result small enough to ride in one message.
// Data holds encoded bytes for a single media, or the serialized multi-media
// payload when Multi is set.
type InlineResult struct {
	Multi     bool   `json:"multi"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data"`
}

// StoredResultInfo describes a result parked on the dispatcher because it
// exceeds the transport ceiling; the client drains it chunk by chunk.
type StoredResultInfo struct {
	ResultID    string `json:"result_id"`
	Multi       bool   `json:"multi"`
	MediaType   string `json:"media_type,omitempty"`
	TotalChunks int    `json:"total_chunks"`
	TotalLength int    `json:"total_length"`
}

// JobResponse is the terminal reply to a submit or process request.
type JobResponse struct {
	Error  string            `json:"error,omitempty"`
	Result *InlineResult     `json:"result,omitempty"`
	Stored *StoredResultInfo `json:"stored,omitempty"`
}

// ResultChunkRequest pulls one chunk of a stored result by explicit index.
type ResultChunkRequest struct {
	ResultID   string `json:"result_id"`
	ChunkIndex int    `json:"chunk_index"`
}

type ResultChunkReply struct {
	Chunk  string `json:"chunk"`
	IsLast bool   `json:"is_last"`
	Error  string `json:"error,omitempty"`
}

// Progress is a fire-and-forget status update keyed by the originating tab.
type Progress struct {
	TabID    string `json:"tab_id"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
}

// WorkerJob is the dispatcher's job-start message to the worker. Payload
// rules mirror SubmitRequest: inline Data or a staged TransferID.
type WorkerJob struct {
	Kind       JobKind `json:"kind"`
	TabID      string  `json:"tab_id"`
	Data       string  `json:"data,omitempty"`
	TransferID string  `json:"transfer_id,omitempty"`
	Filename   string  `json:"filename,omitempty"`
}

// ResultMessage is the tagged union carried on the worker result subject:
// an inline result (or error), or one step of the chunked sequence
// start / chunk+ / end. Receivers must match Kind exhaustively.
type ResultMessage struct {
	Kind        Kind          `json:"kind"`
	Error       string        `json:"error,omitempty"`
	Result      *InlineResult `json:"result,omitempty"`
	Multi       bool          `json:"multi,omitempty"`
	MediaType   string        `json:"media_type,omitempty"`
	TotalChunks int           `json:"total_chunks,omitempty"`
	TotalLength int           `json:"total_length,omitempty"`
	ChunkIndex  int           `json:"chunk_index,omitempty"`
	Chunk       string        `json:"chunk,omitempty"`
}
