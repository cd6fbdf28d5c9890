// Package micloud ties the account handshake, the encrypted RPC transport
// and the device operations together behind one client, with optional
// session persistence across process restarts.
package micloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/pion/logging"

	"github.com/miohome/micloud/pkg/auth"
	"github.com/miohome/micloud/pkg/cloud"
	"github.com/miohome/micloud/pkg/device"
)

// ErrNotLoggedIn is returned when an operation needs a session and neither
// Login nor RestoreSession produced one.
var ErrNotLoggedIn = errors.New("micloud: not logged in")

// Config holds all configuration for a Client.
type Config struct {
	// Country selects the regional API server ("cn", "de", "us", "ru",
	// "sg", "i2"). Empty and "cn" address the primary server.
	Country string

	// Storage persists the serialized session between runs. If nil, an
	// in-memory store is used and every run starts with a password login.
	Storage SessionStore

	// HTTPClient is shared by the handshake and RPC layers. If nil, each
	// layer uses its own default.
	HTTPClient *http.Client

	// RequestTimeout bounds each RPC transport attempt. Zero means the
	// transport default.
	RequestTimeout time.Duration

	// LoggerFactory creates the loggers of all layers. If nil, a default
	// factory is used. No secret material is ever passed to a logger.
	LoggerFactory logging.LoggerFactory

	// AuthBaseURL and APIBaseURL override the account and API servers.
	// For testing.
	AuthBaseURL string
	APIBaseURL  string
}

// Client is the account-level entry point: it logs in, keeps the session
// stored, and exposes the device directory and control operations.
type Client struct {
	auth      *auth.Authenticator
	rpc       *cloud.Client
	directory *device.Directory
	control   *device.Control
	store     SessionStore
	log       logging.LeveledLogger
}

// NewClient creates a Client. No network traffic happens until Login or
// RestoreSession.
func NewClient(config Config) *Client {
	factory := config.LoggerFactory
	if factory == nil {
		factory = logging.NewDefaultLoggerFactory()
	}
	store := config.Storage
	if store == nil {
		store = NewMemorySessionStore()
	}

	rpc := cloud.NewClient(cloud.Config{
		Country:        config.Country,
		HTTPClient:     config.HTTPClient,
		LoggerFactory:  factory,
		RequestTimeout: config.RequestTimeout,
		BaseURL:        config.APIBaseURL,
	})
	return &Client{
		auth: auth.New(auth.Config{
			HTTPClient:    config.HTTPClient,
			BaseURL:       config.AuthBaseURL,
			LoggerFactory: factory,
		}),
		rpc:       rpc,
		directory: device.NewDirectory(device.DirectoryConfig{RPC: rpc, LoggerFactory: factory}),
		control:   device.NewControl(device.ControlConfig{RPC: rpc, LoggerFactory: factory}),
		store:     store,
		log:       factory.NewLogger("micloud"),
	}
}

// Login performs the password handshake, installs the session on the RPC
// client and persists it to the store. A failed persist does not fail the
// login; the session stays usable for this process.
func (c *Client) Login(ctx context.Context, username, password string) error {
	session, err := c.auth.Login(ctx, username, password)
	if err != nil {
		return err
	}
	c.rpc.SetSession(session)

	serialized, err := session.Serialize()
	if err == nil {
		err = c.store.SaveSession(serialized)
	}
	if err != nil {
		c.log.Warnf("session not persisted: %v", err)
	}
	return nil
}

// RestoreSession loads the stored session and validates it against the
// cloud. It returns false, without error, when no usable session exists and
// a fresh Login is needed.
func (c *Client) RestoreSession(ctx context.Context) (bool, error) {
	serialized, err := c.store.LoadSession()
	if errors.Is(err, ErrNoStoredSession) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !c.rpc.RestoreSession(ctx, serialized) {
		// The stored session is stale; drop it so the next run goes
		// straight to login.
		if err := c.store.ClearSession(); err != nil {
			c.log.Warnf("stale session not cleared: %v", err)
		}
		return false, nil
	}
	return true, nil
}

// Logout forgets the session in memory and in the store.
func (c *Client) Logout() error {
	c.rpc.SetSession(nil)
	return c.store.ClearSession()
}

// UserID returns the account identifier of the active session, or "".
func (c *Client) UserID() string {
	return c.rpc.UserID()
}

// Call issues one raw encrypted RPC against the active session.
func (c *Client) Call(ctx context.Context, path string, params cloud.Params) (json.RawMessage, error) {
	raw, err := c.rpc.Call(ctx, path, params)
	if errors.Is(err, cloud.ErrNotAuthenticated) {
		return nil, fmt.Errorf("%w: %w", ErrNotLoggedIn, err)
	}
	return raw, err
}

// ListDevices enumerates the account's devices. A non-empty modelPrefix
// keeps only matching models.
func (c *Client) ListDevices(ctx context.Context, modelPrefix string) ([]device.Record, error) {
	return c.directory.ListDevices(ctx, modelPrefix)
}

// GetProperties reads schema-addressed attributes of one device.
func (c *Client) GetProperties(ctx context.Context, deviceID string, refs []device.PropertyRef) ([]device.PropertyValue, error) {
	return c.control.GetProperties(ctx, deviceID, refs)
}

// SetProperty writes one attribute of one device.
func (c *Client) SetProperty(ctx context.Context, deviceID string, siid, piid int, value any) error {
	return c.control.SetProperty(ctx, deviceID, siid, piid, value)
}

// CallAction invokes a schema-addressed action on one device.
func (c *Client) CallAction(ctx context.Context, deviceID string, siid, aiid int, in []any) (*device.ActionResult, error) {
	return c.control.CallAction(ctx, deviceID, siid, aiid, in)
}
