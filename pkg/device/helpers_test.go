package device

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/miohome/micloud/pkg/auth"
	"github.com/miohome/micloud/pkg/cloud"
	"github.com/miohome/micloud/pkg/crypto"
)

// fakeAPI is a minimal encrypted API server: it derives the per-call key
// from the cleartext trailer fields, decrypts the data parameter, and
// encrypts the handler's reply. Signature verification is covered by the
// cloud package's own tests.
type fakeAPI struct {
	*httptest.Server
	t   *testing.T
	mux *http.ServeMux
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{t: t, mux: http.NewServeMux()}
	f.Server = httptest.NewServer(f.mux)
	t.Cleanup(f.Close)
	return f
}

// handle registers an endpoint mapping decrypted request data to a
// plaintext reply body. calls, when non-nil, counts invocations.
func (f *fakeAPI) handle(path string, calls *atomic.Int32, respond func(data string) string) {
	f.mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		require.NoError(f.t, r.ParseForm())
		signedNonce, err := crypto.SignedNonce(r.PostForm.Get("ssecurity"), r.PostForm.Get("_nonce"))
		require.NoError(f.t, err)
		data, err := crypto.DecryptBase64(signedNonce, r.PostForm.Get("data"))
		require.NoError(f.t, err)
		enc, err := crypto.EncryptBase64(signedNonce, respond(string(data)))
		require.NoError(f.t, err)
		w.Write([]byte(enc))
	})
}

func (f *fakeAPI) rpc() *cloud.Client {
	return cloud.NewClient(cloud.Config{
		BaseURL: f.URL,
		Session: &auth.Session{
			UserID:       "31337",
			ServiceToken: "bearer-token",
			SecurityKey:  "AAECAwQFBgcICQoLDA0ODw==",
			AgentID:      "abcdefghijklmnop",
		},
	})
}
