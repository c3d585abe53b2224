// Package archive writes terminal process instance snapshots to blob storage.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/songzhibin97/claimflow/types"

	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
)

type (
	// Writer stores snapshots under <prefix>/<claimId>/<instanceId>.json
	Writer struct {
		bucket BucketWriter
		prefix string
	}

	// BucketWriter is the subset of *blob.Bucket the Writer needs
	BucketWriter interface {
		WriteAll(context.Context, string, []byte, *blob.WriterOptions) error
	}

	// Bucket is a Writer over an opened bucket that can also read back
	Bucket struct {
		*Writer
		bucket *blob.Bucket
	}

	archiveObject struct {
		ProcessInstanceID string                `json:"process_instance_id"`
		ClaimID           string                `json:"claim_id,omitempty"`
		Status            types.Status          `json:"status"`
		ArchivedAt        int64                 `json:"archived_at"`
		Instance          types.ProcessInstance `json:"instance"`
	}
)

var (
	ErrBucketRequired   = errors.New("bucket is required")
	ErrInstanceRequired = errors.New("instance id is required")
	ErrNotTerminal      = errors.New("instance is not terminal")
	ErrNotFound         = errors.New("archived instance not found")
)

// NewWriter creates a Writer over any bucket-like sink
func NewWriter(bucket BucketWriter, prefix string) (*Writer, error) {
	if bucket == nil {
		return nil, ErrBucketRequired
	}
	return &Writer{
		bucket: bucket,
		prefix: prefix,
	}, nil
}

// Open opens a gocloud bucket URL such as mem:// or file:///var/claims
func Open(ctx context.Context, bucketURL, prefix string) (*Bucket, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open archive bucket: %w", err)
	}
	w, err := NewWriter(bucket, prefix)
	if err != nil {
		_ = bucket.Close()
		return nil, err
	}
	return &Bucket{Writer: w, bucket: bucket}, nil
}

// Archive writes the terminal snapshot of inst
func (w *Writer) Archive(
	ctx context.Context, inst types.ProcessInstance, archivedAt int64,
) error {
	if inst.ID == "" {
		return ErrInstanceRequired
	}
	if !inst.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrNotTerminal, inst.ID, inst.Status)
	}

	obj := archiveObject{
		ProcessInstanceID: inst.ID,
		ClaimID:           inst.BusinessKey,
		Status:            inst.Status,
		ArchivedAt:        archivedAt,
		Instance:          inst,
	}

	data, err := json.Marshal(&obj)
	if err != nil {
		return err
	}
	return w.bucket.WriteAll(ctx, w.Key(inst), data, nil)
}

// Key returns the object key for inst
func (w *Writer) Key(inst types.ProcessInstance) string {
	return buildArchiveKey(w.prefix, inst.BusinessKey, inst.ID)
}

// Read loads an archived snapshot
func (b *Bucket) Read(
	ctx context.Context, claimID, instanceID string,
) (types.ProcessInstance, error) {
	key := buildArchiveKey(b.prefix, claimID, instanceID)
	data, err := b.bucket.ReadAll(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return types.ProcessInstance{}, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return types.ProcessInstance{}, err
	}

	var obj archiveObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return types.ProcessInstance{}, err
	}
	return obj.Instance, nil
}

// Close closes the underlying bucket
func (b *Bucket) Close() error {
	return b.bucket.Close()
}

func buildArchiveKey(prefix, claimID, instanceID string) string {
	if claimID == "" {
		claimID = "unbound"
	}
	key := claimID + "/" + instanceID + ".json"
	if prefix == "" {
		return key
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + key
}
