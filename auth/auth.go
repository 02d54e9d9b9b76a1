// Package auth checks device credentials against the store.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/tweenson/artificer/store"
)

// ErrRejected is returned for unknown devices and bad keys alike.
var ErrRejected = errors.New("auth: rejected")

type deviceKey struct{}

// WithDevice stamps the authenticated device onto the context, carrying
// it down to device-scoped tool handlers.
func WithDevice(ctx context.Context, deviceID string) context.Context {
	return context.WithValue(ctx, deviceKey{}, deviceID)
}

// DeviceFrom returns the device stamped by WithDevice, if any.
func DeviceFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(deviceKey{}).(string)
	return id, ok && id != ""
}

// Identity is an authenticated caller.
type Identity struct {
	DeviceID string
	Name     string
}

// Authenticator validates device credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, deviceID, key string) (Identity, error)
}

// StoreAuthenticator authenticates against registered devices.
type StoreAuthenticator struct {
	store *store.Store
}

// NewStoreAuthenticator creates an Authenticator over the store.
func NewStoreAuthenticator(s *store.Store) *StoreAuthenticator {
	return &StoreAuthenticator{store: s}
}

// Authenticate checks the device key in constant time. Lookup failures
// other than a missing device are surfaced as-is.
func (a *StoreAuthenticator) Authenticate(ctx context.Context, deviceID, key string) (Identity, error) {
	device, err := a.store.DeviceByID(ctx, deviceID)
	if errors.Is(err, store.ErrNotFound) {
		return Identity{}, ErrRejected
	}
	if err != nil {
		return Identity{}, fmt.Errorf("auth lookup: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(device.Key), []byte(key)) != 1 {
		return Identity{}, ErrRejected
	}
	return Identity{DeviceID: device.ID, Name: device.Name}, nil
}
