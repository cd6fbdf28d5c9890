package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pion/logging"

	"github.com/miohome/micloud/pkg/crypto"
)

const (
	// defaultBaseURL is the account server handling the login handshake.
	defaultBaseURL = "https://account.xiaomi.com"

	// serviceID names the smart-home service a session is issued for.
	serviceID = "xiaomiio"

	// tokenCallback is the service endpoint the final redirect targets.
	tokenCallback = "https://sts.api.io.mi.com/sts"

	// loginTimeout bounds each individual handshake request.
	loginTimeout = 10 * time.Second
)

// Config configures an Authenticator.
type Config struct {
	// HTTPClient is the client used for handshake requests. Its redirect
	// policy is overridden: the token-issuance step must observe redirect
	// responses instead of following them. If nil, a default client with a
	// 10 second timeout is used.
	HTTPClient *http.Client

	// BaseURL overrides the account server. For testing.
	BaseURL string

	// LoggerFactory creates the package logger. If nil, a default factory
	// is used. No secret material (password, security key, bearer token)
	// is ever passed to the logger.
	LoggerFactory logging.LoggerFactory
}

// Authenticator performs the three-step login handshake against the account
// server. Concurrent logins on one Authenticator are not supported; callers
// serialize login attempts themselves.
type Authenticator struct {
	http *http.Client
	base string
	log  logging.LeveledLogger
}

// New creates an Authenticator.
func New(config Config) *Authenticator {
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: loginTimeout}
	} else {
		c := *client
		client = &c
	}
	// Redirects carry the token as a cookie on the redirect response
	// itself; auto-following would lose it.
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	base := config.BaseURL
	if base == "" {
		base = defaultBaseURL
	}

	factory := config.LoggerFactory
	if factory == nil {
		factory = logging.NewDefaultLoggerFactory()
	}

	return &Authenticator{
		http: client,
		base: base,
		log:  factory.NewLogger("auth"),
	}
}

// loginProbeResponse is the parsed body of the login-initiation probe.
// A populated Location/UserID/SecurityKey triple means the server already
// recognizes an active session from cookies.
type loginProbeResponse struct {
	Sign        string `json:"_sign"`
	UserID      int64  `json:"userId"`
	SecurityKey string `json:"ssecurity"`
	Location    string `json:"location"`
	Code        int    `json:"code"`
}

// loginAuthResponse is the parsed body of the credential exchange. Exactly
// one variant applies: success (Location, UserID, SecurityKey), challenge
// (NotificationURL), or failure (none of these).
type loginAuthResponse struct {
	UserID          int64  `json:"userId"`
	SecurityKey     string `json:"ssecurity"`
	Location        string `json:"location"`
	NotificationURL string `json:"notificationUrl"`
	Code            int    `json:"code"`
	Description     string `json:"desc"`
}

// Login runs the full three-step handshake and returns a usable Session.
// It fails with ErrChallengeRequired when the account demands interactive
// verification and ErrAuthFailed for bad credentials or a handshake the
// server would not complete.
func (a *Authenticator) Login(ctx context.Context, username, password string) (*Session, error) {
	agentID, err := NewAgentID()
	if err != nil {
		return nil, err
	}

	probe, cookies, err := a.probe(ctx, agentID)
	if err != nil {
		return nil, err
	}

	var outcome *loginAuthResponse
	if probe.Location != "" && probe.UserID != 0 && probe.SecurityKey != "" {
		// The server recognized an active session from cookies; the
		// credential exchange is skipped.
		a.log.Debug("probe returned an active session, skipping credential exchange")
		outcome = &loginAuthResponse{
			UserID:      probe.UserID,
			SecurityKey: probe.SecurityKey,
			Location:    probe.Location,
		}
	} else {
		outcome, err = a.exchangeCredentials(ctx, username, password, probe.Sign, agentID, cookies)
		if err != nil {
			return nil, err
		}
	}

	switch {
	case outcome.NotificationURL != "":
		a.log.Warn("login requires interactive verification")
		return nil, &ChallengeError{URL: outcome.NotificationURL}
	case outcome.Location == "" || outcome.SecurityKey == "" || outcome.UserID == 0:
		a.log.Warnf("credential exchange rejected (code %d)", outcome.Code)
		return nil, fmt.Errorf("%w: credential exchange rejected", ErrAuthFailed)
	}

	token, err := a.issueToken(ctx, outcome.Location)
	if err != nil {
		return nil, err
	}

	session := &Session{
		UserID:       strconv.FormatInt(outcome.UserID, 10),
		ServiceToken: token,
		SecurityKey:  outcome.SecurityKey,
		AgentID:      agentID,
	}
	a.log.Infof("login complete for user %s", session.UserID)
	return session, nil
}

// probe issues the unauthenticated login-initiation request, carrying only
// the device identity as a cookie.
func (a *Authenticator) probe(ctx context.Context, agentID string) (*loginProbeResponse, []*http.Cookie, error) {
	u := a.base + "/pass/serviceLogin?sid=" + serviceID + "&_json=true"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: building probe request: %v", ErrAuthFailed, err)
	}
	a.decorate(req, agentID)

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: login probe: %v", ErrAuthFailed, err)
	}
	defer resp.Body.Close()

	var probe loginProbeResponse
	if err := decodeLoginBody(resp.Body, &probe); err != nil {
		return nil, nil, err
	}
	if probe.Sign == "" && probe.Location == "" {
		return nil, nil, fmt.Errorf("%w: probe returned no sign token", ErrAuthFailed)
	}
	a.log.Debugf("login probe complete (code %d)", probe.Code)
	return &probe, liveCookies(resp.Cookies()), nil
}

// exchangeCredentials posts the username and hashed password together with
// the sign token and the cookies carried forward from the probe.
func (a *Authenticator) exchangeCredentials(ctx context.Context, username, password, sign, agentID string, cookies []*http.Cookie) (*loginAuthResponse, error) {
	form := url.Values{}
	form.Set("_json", "true")
	form.Set("qs", "?sid="+serviceID+"&_json=true")
	form.Set("sid", serviceID)
	form.Set("_sign", sign)
	form.Set("callback", tokenCallback)
	form.Set("user", username)
	form.Set("hash", crypto.MD5Hex([]byte(password)))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.base+"/pass/serviceLoginAuth2", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: building credential request: %v", ErrAuthFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	a.decorate(req, agentID)
	for _, c := range cookies {
		req.AddCookie(c)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: credential exchange: %v", ErrAuthFailed, err)
	}
	defer resp.Body.Close()

	var outcome loginAuthResponse
	if err := decodeLoginBody(resp.Body, &outcome); err != nil {
		return nil, err
	}
	return &outcome, nil
}

// issueToken follows the post-login redirect by hand and extracts the
// bearer token from a response cookie. At most one extra redirect hop is
// taken before giving up.
func (a *Authenticator) issueToken(ctx context.Context, location string) (string, error) {
	for hop := 0; hop < 2; hop++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
		if err != nil {
			return "", fmt.Errorf("%w: building token request: %v", ErrAuthFailed, err)
		}

		resp, err := a.http.Do(req)
		if err != nil {
			return "", fmt.Errorf("%w: token issuance: %v", ErrAuthFailed, err)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		for _, c := range resp.Cookies() {
			if c.Name == "serviceToken" && c.Value != "" {
				a.log.Debugf("service token issued after %d hop(s)", hop+1)
				return c.Value, nil
			}
		}

		next := resp.Header.Get("Location")
		if next == "" {
			break
		}
		location = next
	}
	return "", fmt.Errorf("%w: no service token in redirect chain", ErrAuthFailed)
}

// decorate applies the identity headers and cookies every handshake request
// carries.
func (a *Authenticator) decorate(req *http.Request, agentID string) {
	req.Header.Set("User-Agent", UserAgent(agentID))
	req.AddCookie(&http.Cookie{Name: "sdkVersion", Value: "accountsdk-18.8.15"})
	req.AddCookie(&http.Cookie{Name: "deviceId", Value: agentID})
}

// UserAgent is the client identity string sent with every request, both
// during the handshake and on authenticated RPC calls.
func UserAgent(agentID string) string {
	return fmt.Sprintf("Android-7.1.1-1.0.0-ONEPLUS A3010-136-%s APP/xiaomi.smarthome APPV/62830",
		strings.ToUpper(agentID))
}

// responsePrefix is the literal the account server prepends to every login
// JSON body. It must be stripped before parsing.
const responsePrefix = "&&&START&&&"

// decodeLoginBody strips the response prefix and parses the remainder.
func decodeLoginBody(r io.Reader, v any) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("%w: reading login response: %v", ErrAuthFailed, err)
	}
	body := strings.TrimPrefix(string(raw), responsePrefix)
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return fmt.Errorf("%w: parsing login response: %v", ErrAuthFailed, err)
	}
	return nil
}

// liveCookies filters out cookies the server marked for deletion.
func liveCookies(cookies []*http.Cookie) []*http.Cookie {
	out := cookies[:0]
	for _, c := range cookies {
		if c.MaxAge < 0 {
			continue
		}
		if !c.Expires.IsZero() && c.Expires.Before(time.Now()) {
			continue
		}
		if c.Value == "" || c.Value == "EXPIRED" {
			continue
		}
		out = append(out, c)
	}
	return out
}
