package trust

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"e2e_trust/internal/model"
	"e2e_trust/internal/protocol/crosssigning"
)

type (
	// KeysStorage is the secure key store boundary. Private keys belong to
	// the store; the service only borrows them for the duration of one
	// signing operation.
	KeysStorage interface {
		// Availability reports whether the private key for usage can be
		// produced, and whether doing so needs an interactive flow.
		Availability(ctx context.Context, userID, deviceID string, usage model.KeyUsage, expectedPublicKey []byte) crosssigning.Availability

		// GetPrivateKey starts a private-key request. The store must check
		// that the returned key's public half equals expectedPublicKey and
		// fail the request otherwise.
		GetPrivateKey(userID, deviceID string, usage model.KeyUsage, expectedPublicKey []byte) *KeyRequest

		// SavePrivateKeys stores all given keys or none.
		SavePrivateKeys(ctx context.Context, userID, deviceID string, keys map[model.KeyUsage][]byte) error
	}

	// Server is the homeserver boundary used for writes.
	Server interface {
		UploadCrossSigningKeys(ctx context.Context, info *model.CrossSigningInfo, password string) error
		// UploadSignatures pushes signatures keyed by target user id then
		// target id (device id, or the key id of a master key).
		UploadSignatures(ctx context.Context, sigs map[string]map[string]model.SignatureUpload) error
	}

	// Directory is the read view of published keys, fed by the device-list
	// collaborator. Lookups return nil (no error) when nothing is published.
	Directory interface {
		CrossSigningInfo(ctx context.Context, userID string) (*model.CrossSigningInfo, error)
		Device(ctx context.Context, userID, deviceID string) (*model.DeviceKeys, error)
	}
)

// KeyRequest is a pending private-key retrieval. The producing store
// fulfills or fails it; the caller may block on Wait, poll Done, or Cancel
// to abandon it. Resolution is one-shot.
type KeyRequest struct {
	ID string

	done      chan struct{}
	once      sync.Once
	key       []byte
	err       error
	cancelled chan struct{}
	cancel    sync.Once
}

func NewKeyRequest() *KeyRequest {
	return &KeyRequest{
		ID:        uuid.NewString(),
		done:      make(chan struct{}),
		cancelled: make(chan struct{}),
	}
}

func (r *KeyRequest) Fulfill(key []byte) {
	r.once.Do(func() {
		r.key = key
		close(r.done)
	})
}

func (r *KeyRequest) Fail(err error) {
	r.once.Do(func() {
		r.err = err
		close(r.done)
	})
}

// Cancel abandons the request. A store watching Cancelled stops its
// interactive flow; anything already uploaded is unaffected.
func (r *KeyRequest) Cancel() {
	r.cancel.Do(func() {
		close(r.cancelled)
	})
	r.Fail(ErrKeyRequestCancelled)
}

func (r *KeyRequest) Done() <-chan struct{} {
	return r.done
}

func (r *KeyRequest) Cancelled() <-chan struct{} {
	return r.cancelled
}

// Result reports the outcome once Done is closed.
func (r *KeyRequest) Result() ([]byte, error) {
	select {
	case <-r.done:
		return r.key, r.err
	default:
		return nil, nil
	}
}

// Wait blocks until the request resolves or ctx is done.
func (r *KeyRequest) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-r.done:
		return r.key, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
