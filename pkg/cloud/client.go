package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/pion/logging"

	"github.com/miohome/micloud/pkg/auth"
	"github.com/miohome/micloud/pkg/crypto"
)

// defaultRequestTimeout bounds one transport attempt. There is no mid-flight
// cancellation beyond this deadline and the caller's context.
const defaultRequestTimeout = 10 * time.Second

// checkSessionPath is a low-cost read endpoint used purely to test whether
// a session still authenticates.
const checkSessionPath = "/v2/message/v2/check_new_msg"

// Config configures a Client.
type Config struct {
	// Country selects the regional API server ("cn", "de", "us", "ru",
	// "sg", "i2"). Empty and "cn" address the primary server.
	Country string

	// Session is the authentication artifact from a completed login. It
	// may also be installed later through SetSession or RestoreSession.
	Session *auth.Session

	// HTTPClient is the transport client. If nil, http.DefaultClient is
	// used; per-attempt deadlines are applied through the request context
	// either way.
	HTTPClient *http.Client

	// LoggerFactory creates the package logger. If nil, a default factory
	// is used. No secret material is ever passed to the logger.
	LoggerFactory logging.LoggerFactory

	// Random is the jitter source for retry backoff. If nil,
	// DefaultRandomSource is used.
	Random RandomSource

	// MaxAttempts is the total attempt budget per call for transport-level
	// failures. Zero means the default of 3.
	MaxAttempts int

	// RequestTimeout bounds each transport attempt. Zero means 10s.
	RequestTimeout time.Duration

	// BaseURL overrides the API server. For testing.
	BaseURL string
}

// Client issues encrypted RPC calls against the cloud API. Each call is an
// independent request/response cycle; concurrent calls against one Client
// are safe. The session is only replaced by SetSession/RestoreSession,
// which callers serialize themselves.
type Client struct {
	base          string
	http          *http.Client
	log           logging.LeveledLogger
	random        RandomSource
	maxAttempts   int
	timeout       time.Duration
	retryInterval time.Duration

	mu      sync.RWMutex
	session *auth.Session
	invalid bool
}

// NewClient creates a Client.
func NewClient(config Config) *Client {
	base := config.BaseURL
	if base == "" {
		base = apiBase(config.Country)
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	factory := config.LoggerFactory
	if factory == nil {
		factory = logging.NewDefaultLoggerFactory()
	}
	random := config.Random
	if random == nil {
		random = DefaultRandomSource
	}
	maxAttempts := config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	timeout := config.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	return &Client{
		base:          base,
		http:          httpClient,
		log:           factory.NewLogger("cloud"),
		random:        random,
		maxAttempts:   maxAttempts,
		timeout:       timeout,
		retryInterval: defaultRetryInterval,
		session:       config.Session,
	}
}

// apiBase maps a country code to its regional API server.
func apiBase(country string) string {
	cc := strings.ToLower(strings.TrimSpace(country))
	if cc == "" || cc == "cn" {
		return "https://api.io.mi.com/app"
	}
	return "https://" + cc + ".api.io.mi.com/app"
}

// SetSession installs a session and clears any expiry mark. Callers
// serialize this against in-flight calls the same way they serialize
// logins.
func (c *Client) SetSession(session *auth.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = session
	c.invalid = false
}

// Session returns the installed session, or nil.
func (c *Client) Session() *auth.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// UserID returns the authenticated account's identifier, or "".
func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return ""
	}
	return c.session.UserID
}

func (c *Client) currentSession() (*auth.Session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.invalid || !c.session.Valid() {
		return nil, ErrNotAuthenticated
	}
	return c.session, nil
}

func (c *Client) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalid = true
}

// Call issues one encrypted RPC against path and returns the decrypted
// response body. Transport-level failures are retried up to the attempt
// budget with linear backoff and jitter; auth failures, expiry signals and
// protocol mismatches propagate immediately.
func (c *Client) Call(ctx context.Context, path string, params Params) (json.RawMessage, error) {
	session, err := c.currentSession()
	if err != nil {
		return nil, err
	}

	requestID := uuid.NewString()
	var payload json.RawMessage
	attempt := 0

	op := func() error {
		attempt++
		out, err := c.do(ctx, session, path, params)
		if err != nil {
			if retryable(err) {
				c.log.Warnf("call %s id=%s attempt %d/%d: %v", path, requestID, attempt, c.maxAttempts, err)
				return err
			}
			return backoff.Permanent(err)
		}
		payload = out
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(
			&linearBackOff{interval: c.retryInterval, random: c.random},
			uint64(c.maxAttempts-1)),
		ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, fmt.Errorf("cloud: request %s: %w", requestID, err)
	}
	c.log.Debugf("call %s id=%s ok after %d attempt(s)", path, requestID, attempt)
	return payload, nil
}

// CallResult issues a call and unmarshals the envelope's result field into
// out, treating a non-zero envelope code as a server-side failure.
func (c *Client) CallResult(ctx context.Context, path string, params Params, out any) error {
	payload, err := c.Call(ctx, path, params)
	if err != nil {
		return err
	}
	var envelope struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Result  json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return fmt.Errorf("%w: decoding envelope: %v", ErrProtocol, err)
	}
	if envelope.Code != 0 {
		return fmt.Errorf("cloud: server error on %s: code %d (%s)", path, envelope.Code, envelope.Message)
	}
	if out == nil || len(envelope.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("%w: decoding result: %v", ErrProtocol, err)
	}
	return nil
}

// CheckSession issues a degenerate low-cost call to confirm the installed
// session still authenticates. The same expiry signals apply as on any
// other call.
func (c *Client) CheckSession(ctx context.Context) error {
	_, err := c.Call(ctx, checkSessionPath, NewParams().With("data", `{"begin_at":0}`))
	return err
}

// RestoreSession adopts a previously serialized session after confirming
// it still authenticates. It reports false on malformed input or a
// rejected token and never propagates an error; a false result leaves the
// client unauthenticated.
func (c *Client) RestoreSession(ctx context.Context, serialized string) bool {
	session, err := auth.ParseSession(serialized)
	if err != nil {
		c.log.Debugf("restore: %v", err)
		return false
	}
	c.SetSession(session)
	if err := c.CheckSession(ctx); err != nil {
		c.log.Infof("restore: stored session rejected: %v", err)
		c.SetSession(nil)
		return false
	}
	c.log.Infof("restored session for user %s", session.UserID)
	return true
}

// do performs a single signed, encrypted request/response exchange.
func (c *Client) do(ctx context.Context, session *auth.Session, path string, params Params) (json.RawMessage, error) {
	nonce, err := crypto.GenerateNonce(time.Now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	signedNonce, err := crypto.SignedNonce(session.SecurityKey, nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: deriving signed nonce: %v", ErrProtocol, err)
	}

	fullURL := c.base + path
	body, err := BuildSignedBody(http.MethodPost, fullURL, signedNonce, nonce, session.SecurityKey, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, fullURL, strings.NewReader(body.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", ErrTransport, err)
	}
	c.decorate(req, session)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.invalidate()
		return nil, fmt.Errorf("%w: HTTP %d", ErrSessionExpired, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: HTTP %d", ErrTransport, resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrTransport, err)
	}

	// The signed nonce is re-derived from the nonce that was actually
	// sent, never trusted from the server.
	plain, err := crypto.DecryptBase64(signedNonce, strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("%w: undecodable response body: %v", ErrTransport, err)
	}

	var envelope struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(plain, &envelope); err != nil {
		return nil, fmt.Errorf("%w: decrypted payload is not JSON: %v", ErrProtocol, err)
	}
	if signatureRejected(envelope.Message) {
		return nil, fmt.Errorf("%w: server rejected the request signature (code %d)", ErrProtocol, envelope.Code)
	}
	if expirySignal(envelope.Code, envelope.Message) {
		c.invalidate()
		return nil, fmt.Errorf("%w: server reported code %d (%s)", ErrSessionExpired, envelope.Code, envelope.Message)
	}
	return json.RawMessage(plain), nil
}

// decorate applies the protocol headers and identity cookies every
// authenticated request carries.
func (c *Client) decorate(req *http.Request, session *auth.Session) {
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept-Encoding", "identity")
	req.Header.Set("User-Agent", auth.UserAgent(session.AgentID))
	req.Header.Set("x-xiaomi-protocal-flag-cli", "PROTOCAL-HTTP2")
	req.Header.Set("miot-encrypt-algorithm", "ENCRYPT-RC4")

	req.AddCookie(&http.Cookie{Name: "userId", Value: session.UserID})
	req.AddCookie(&http.Cookie{Name: "serviceToken", Value: session.ServiceToken})
	req.AddCookie(&http.Cookie{Name: "yetAnotherServiceToken", Value: session.ServiceToken})
	req.AddCookie(&http.Cookie{Name: "locale", Value: "en_US"})
	req.AddCookie(&http.Cookie{Name: "timezone", Value: "GMT+00:00"})
	req.AddCookie(&http.Cookie{Name: "is_daylight", Value: "0"})
	req.AddCookie(&http.Cookie{Name: "channel", Value: "MI_APP_STORE"})
}

// classifyTransport sorts a transport error into the retryable taxonomy.
// Caller-initiated cancellation is passed through untouched.
func classifyTransport(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("%w: %v", ErrTransportTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrTransport, err)
}

// expirySignal reports whether a decrypted payload carries the auth-expiry
// signal: the dedicated status code or a known message substring.
func expirySignal(code int, message string) bool {
	return code == 3 || strings.Contains(strings.ToLower(message), "auth err")
}

// signatureRejected reports the server-side signature-mismatch message,
// which indicates protocol drift rather than an expired token.
func signatureRejected(message string) bool {
	return strings.Contains(strings.ToLower(message), "invalid signature")
}
