package wire

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blnkfinance/tillsync/config"
	"github.com/blnkfinance/tillsync/internal/apierror"
	"github.com/blnkfinance/tillsync/internal/cache"
)

const ledgerURL = "https://ledger.example.test"

func newTestClient(opts ...Option) *Client {
	return NewClient(config.LedgerConfig{
		Url:           ledgerURL,
		ApiKey:        "secret",
		ProbeTimeout:  1,
		SubmitTimeout: 5,
	}, opts...)
}

func TestCommit_Success(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, ledgerURL+config.DEFAULT_COMMIT_PATH,
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "Bearer secret", req.Header.Get("Authorization"))
			assert.NotEmpty(t, req.Header.Get("Idempotency-Key"))
			return httpmock.NewStringResponse(http.StatusOK, `{"result":[{"id":4211,"pos_reference":"Order 00012-001-0001"}]}`), nil
		})

	p, err := BuildOrder(sampleInput())
	require.NoError(t, err)

	res, err := newTestClient().Commit(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "4211", res.ServerOrderID)
	assert.Empty(t, res.Warning)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestCommit_RemoteRejectionMessagePrecedence(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	p, err := BuildOrder(sampleInput())
	require.NoError(t, err)

	httpmock.RegisterResponder(http.MethodPost, ledgerURL+config.DEFAULT_COMMIT_PATH,
		httpmock.NewStringResponder(http.StatusOK, `{"error":{"code":200,"message":"Server Error","data":{"message":"Session is closed"}}}`))
	_, err = newTestClient().Commit(context.Background(), p)
	assert.True(t, apierror.HasCode(err, apierror.ErrRemoteRejected))
	assert.Equal(t, "Session is closed", apierror.Message(err))

	httpmock.RegisterResponder(http.MethodPost, ledgerURL+config.DEFAULT_COMMIT_PATH,
		httpmock.NewStringResponder(http.StatusBadRequest, `{"error":{"message":"Invalid payment method"}}`))
	_, err = newTestClient().Commit(context.Background(), p)
	assert.True(t, apierror.HasCode(err, apierror.ErrRemoteRejected))
	assert.Equal(t, "Invalid payment method", apierror.Message(err))
}

func TestCommit_EmptyResultIsSuccessWithWarning(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, ledgerURL+config.DEFAULT_COMMIT_PATH,
		httpmock.NewStringResponder(http.StatusOK, `{"result":[]}`))

	p, err := BuildOrder(sampleInput())
	require.NoError(t, err)

	res, err := newTestClient().Commit(context.Background(), p)
	require.NoError(t, err)
	assert.Empty(t, res.ServerOrderID)
	assert.NotEmpty(t, res.Warning)
}

func TestCommit_TransportErrorIsConnectivity(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, ledgerURL+config.DEFAULT_COMMIT_PATH,
		httpmock.NewErrorResponder(errors.New("connection reset by peer")))

	p, err := BuildOrder(sampleInput())
	require.NoError(t, err)

	_, err = newTestClient().Commit(context.Background(), p)
	assert.True(t, apierror.HasCode(err, apierror.ErrConnectivity))

	httpmock.RegisterResponder(http.MethodPost, ledgerURL+config.DEFAULT_COMMIT_PATH,
		httpmock.NewStringResponder(http.StatusBadGateway, `<html>bad gateway</html>`))
	_, err = newTestClient().Commit(context.Background(), p)
	assert.True(t, apierror.HasCode(err, apierror.ErrConnectivity))
}

func TestCommit_CachedResubmission(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, ledgerURL+config.DEFAULT_COMMIT_PATH,
		httpmock.NewStringResponder(http.StatusOK, `{"result":{"id":"srv_77"}}`))

	p, err := BuildOrder(sampleInput())
	require.NoError(t, err)

	client := newTestClient(WithCommitCache(cache.NewLocalCache(time.Hour), time.Hour))
	first, err := client.Commit(context.Background(), p)
	require.NoError(t, err)
	second, err := client.Commit(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, "srv_77", first.ServerOrderID)
	assert.Equal(t, "srv_77", second.ServerOrderID)
	assert.True(t, second.FromCache)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestPing(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	client := newTestClient()

	httpmock.RegisterResponder(http.MethodGet, ledgerURL+config.DEFAULT_PROBE_PATH,
		httpmock.NewStringResponder(http.StatusOK, `{"status":"ok"}`))
	assert.NoError(t, client.Ping(context.Background()))

	httpmock.RegisterResponder(http.MethodGet, ledgerURL+config.DEFAULT_PROBE_PATH,
		httpmock.NewStringResponder(http.StatusOK, `{"error":{"message":"maintenance"}}`))
	assert.Error(t, client.Ping(context.Background()))

	httpmock.RegisterResponder(http.MethodGet, ledgerURL+config.DEFAULT_PROBE_PATH,
		httpmock.NewStringResponder(http.StatusOK, `<html>captive portal</html>`))
	assert.Error(t, client.Ping(context.Background()))

	httpmock.RegisterResponder(http.MethodGet, ledgerURL+config.DEFAULT_PROBE_PATH,
		httpmock.NewStringResponder(http.StatusServiceUnavailable, `{}`))
	assert.Error(t, client.Ping(context.Background()))
}

func TestServerIDs(t *testing.T) {
	assert.Equal(t, []string{"12", "13"}, serverIDs([]byte(`[{"id":12},{"id":13}]`)))
	assert.Equal(t, []string{"abc"}, serverIDs([]byte(`{"server_order_id":"abc"}`)))
	assert.Equal(t, []string{"99"}, serverIDs([]byte(`99`)))
	assert.Nil(t, serverIDs([]byte(`null`)))
	assert.Nil(t, serverIDs([]byte(`{}`)))
	assert.Nil(t, serverIDs([]byte(`true`)))
}
