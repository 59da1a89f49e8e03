package delivery

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/swarmgrid/swarm-core/internal/apperrors"
	"github.com/swarmgrid/swarm-core/internal/storage"
	"github.com/swarmgrid/swarm-core/model"
)

// Pusher transmits one finished job's outputs to its push target.
type Pusher interface {
	Push(ctx context.Context, job *model.Job, result *model.JobResult) error
}

// HTTPPusher POSTs the result envelope to the target address under the
// credential's destination path, streaming artifact bytes from hot
// storage. An optional sha256 checksum accompanies each artifact.
type HTTPPusher struct {
	client  *http.Client
	storage storage.Storage
}

func NewHTTPPusher(st storage.Storage) *HTTPPusher {
	return &HTTPPusher{
		client:  &http.Client{Timeout: 30 * time.Second},
		storage: st,
	}
}

type pushEnvelope struct {
	JobID     int64          `json:"jobId"`
	User      string         `json:"user"`
	Stdout    *string        `json:"stdout,omitempty"`
	Artifacts []pushArtifact `json:"artifacts,omitempty"`
}

type pushArtifact struct {
	Key      string `json:"key"`
	Payload  []byte `json:"payload"`
	Checksum string `json:"checksum,omitempty"`
}

func (p *HTTPPusher) Push(ctx context.Context, job *model.Job, result *model.JobResult) error {
	creds := job.Push
	if creds == nil {
		return apperrors.Integrity("delivery.Push", "push job without credentials")
	}

	envelope := pushEnvelope{
		JobID:  job.ID,
		User:   creds.User,
		Stdout: result.Stdout,
	}
	for _, key := range result.OutputFiles {
		payload, err := p.fetch(ctx, key)
		if err != nil {
			return err
		}
		artifact := pushArtifact{Key: key, Payload: payload}
		if creds.UseChecksum {
			sum := sha256.Sum256(payload)
			artifact.Checksum = hex.EncodeToString(sum[:])
		}
		envelope.Artifacts = append(envelope.Artifacts, artifact)
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return apperrors.Internal("delivery.Push", err)
	}

	target, err := url.JoinPath(creds.Address, creds.DestinationPath)
	if err != nil {
		return apperrors.Validation("address", "malformed push target")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return apperrors.Internal("delivery.Push", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if creds.Key != nil {
		req.Header.Set("Authorization", "Bearer "+*creds.Key)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("push target unreachable: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("push target returned %s", resp.Status)
	}
	return nil
}

func (p *HTTPPusher) fetch(ctx context.Context, key string) ([]byte, error) {
	return p.storage.Download(ctx, key)
}
