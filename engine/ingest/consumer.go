package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/docpilot-ai/docpilot/engine/domain"
	"github.com/nats-io/nats.go"
)

const (
	// IngestSubject is the NATS subject for incoming ingest jobs.
	IngestSubject = "docpilot.ingest"
	// DLQSubject is the dead letter queue subject for failed jobs.
	DLQSubject = "docpilot.ingest.dlq"
	// MaxRetries before sending a job to the DLQ.
	MaxRetries = 3

	retryHeader = "X-Retry-Count"
)

// Job is the wire format for an asynchronous ingest request. Data is the raw
// PDF, base64-encoded by the JSON codec. A set DocumentID selects the update
// path; an empty one ingests a fresh document.
type Job struct {
	DocumentID string `json:"document_id,omitempty"`
	Title      string `json:"title,omitempty"`
	Data       []byte `json:"data"`
}

// dlqMessage is published to the DLQ on repeated or non-retryable failure.
type dlqMessage struct {
	Job     Job    `json:"job"`
	Error   string `json:"error"`
	Retries int    `json:"retries"`
}

// StartConsumer subscribes the ingestion service to the ingest subject with
// retry and DLQ support. Client-fault failures (unsupported format) go
// straight to the DLQ; collaborator failures are retried up to MaxRetries.
func StartConsumer(nc *nats.Conn, svc *Service, log *slog.Logger) (*nats.Subscription, error) {
	if log == nil {
		log = slog.Default()
	}

	return nc.Subscribe(IngestSubject, func(msg *nats.Msg) {
		var job Job
		if err := json.Unmarshal(msg.Data, &job); err != nil {
			log.Error("ingest consumer: unmarshal failed", "error", err)
			return
		}

		ctx := context.Background()

		var err error
		if job.DocumentID != "" {
			_, err = svc.Update(ctx, job.DocumentID, job.Data, job.Title)
		} else {
			var docID string
			docID, err = svc.Ingest(ctx, job.Data, job.Title)
			job.DocumentID = docID
		}
		if err == nil {
			log.Info("ingest consumer: success", "doc_id", job.DocumentID)
			return
		}

		retries := retryCount(msg) + 1
		log.Error("ingest consumer: job failed", "error", err, "doc_id", job.DocumentID, "retry", retries)

		if retries >= MaxRetries || !retryable(err) {
			dlq := dlqMessage{Job: job, Error: err.Error(), Retries: retries}
			data, _ := json.Marshal(dlq)
			if perr := nc.Publish(DLQSubject, data); perr != nil {
				log.Error("ingest consumer: DLQ publish failed", "error", perr)
			}
			return
		}

		retryMsg := nats.NewMsg(IngestSubject)
		retryMsg.Data = msg.Data
		retryMsg.Header = nats.Header{}
		retryMsg.Header.Set(retryHeader, fmt.Sprintf("%d", retries))
		if perr := nc.PublishMsg(retryMsg); perr != nil {
			log.Error("ingest consumer: retry publish failed", "error", perr)
		}
	})
}

func retryCount(msg *nats.Msg) int {
	if msg.Header == nil {
		return 0
	}
	n := 0
	if v := msg.Header.Get(retryHeader); v != "" {
		fmt.Sscanf(v, "%d", &n)
	}
	return n
}

// retryable reports whether a failure can succeed on a later attempt.
// Client faults cannot; collaborator failures, including the partial-failure
// state (a retried update is exactly the required re-ingest), can.
func retryable(err error) bool {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return false
	}
	if errors.Is(err, domain.ErrUnsupportedFormat) {
		return false
	}
	return true
}
