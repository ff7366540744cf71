package basescan

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/treasurechest/internal/contract"
	"github.com/alanyoungcy/treasurechest/internal/domain"
	"github.com/alanyoungcy/treasurechest/internal/history"
)

var chest = common.HexToAddress("0xad0B9085A343be3B5273619A053Ffa5c60789173")

func serve(t *testing.T, body string, check func(r *http.Request)) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "test-key")
}

func TestFetchLogs(t *testing.T) {
	topic := contract.OutcomeTopic.Hex()
	body := `{"status":"1","message":"OK","result":[
		{"address":"0xad0b9085a343be3b5273619a053ffa5c60789173",
		 "topics":["` + topic + `","0x000000000000000000000000c17c78c007fc5c01d796a30334fa12b025426652"],
		 "data":"0x000000000000000000000000000000000000000000000000008e1bc9bf040000",
		 "blockNumber":"0x3e8","timeStamp":"0x65f0a0b0",
		 "transactionHash":"0x1111111111111111111111111111111111111111111111111111111111111111","logIndex":"0x0"},
		{"topics":["nothex"],"data":"0x","blockNumber":"0x1","timeStamp":"0x1","transactionHash":"0x22"}
	]}`

	c := serve(t, body, func(r *http.Request) {
		q := r.URL.Query()
		require.Equal(t, "logs", q.Get("module"))
		require.Equal(t, "getLogs", q.Get("action"))
		require.Equal(t, "0", q.Get("fromBlock"))
		require.Equal(t, "5000", q.Get("toBlock"))
		require.Equal(t, topic, q.Get("topic0"))
		require.Equal(t, "test-key", q.Get("apikey"))
	})

	logs, err := c.FetchLogs(context.Background(), history.LogQuery{Address: chest, Topic0: contract.OutcomeTopic, ToBlock: 5000})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, uint64(1000), logs[0].BlockNumber)
	require.Equal(t, int64(0x65f0a0b0), logs[0].Timestamp)

	events, discarded := history.Normalize(logs, 100)
	require.Zero(t, discarded)
	require.Len(t, events, 1)
	require.Equal(t, "0.04", events[0].Ether().String())
}

func TestFetchLogsNoRecords(t *testing.T) {
	c := serve(t, `{"status":"0","message":"No records found","result":[]}`, func(r *http.Request) {
		require.Equal(t, "latest", r.URL.Query().Get("toBlock"))
	})
	logs, err := c.FetchLogs(context.Background(), history.LogQuery{Address: chest})
	require.NoError(t, err)
	require.Empty(t, logs)
}

func TestFetchLogsMalformed(t *testing.T) {
	cases := map[string]string{
		"notok":      `{"status":"0","message":"NOTOK","result":"Max rate limit reached"}`,
		"not json":   `<html>bad gateway</html>`,
		"result str": `{"status":"1","message":"OK","result":"oops"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := serve(t, body, nil).FetchLogs(context.Background(), history.LogQuery{Address: chest})
			require.ErrorIs(t, err, domain.ErrFetchFailed)
		})
	}
}

func TestFetchLogsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "").FetchLogs(context.Background(), history.LogQuery{Address: chest})
	require.ErrorIs(t, err, domain.ErrFetchFailed)
}

type countingLimiter struct{ waits int }

func (l *countingLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return true, nil
}

func (l *countingLimiter) Wait(context.Context, string, int, time.Duration) error {
	l.waits++
	return nil
}

func TestFetchLogsWaitsForLimiter(t *testing.T) {
	lim := &countingLimiter{}
	c := serve(t, `{"status":"0","message":"No records found","result":[]}`, nil).WithRateLimiter(lim, 5, time.Second)
	_, err := c.FetchLogs(context.Background(), history.LogQuery{Address: chest})
	require.NoError(t, err)
	require.Equal(t, 1, lim.waits)
}
