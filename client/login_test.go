package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestApprovalPoller_WaitsForTerminalResult 先 pending 再 approved：
// 轮询直到出终态，期间的传输错误不致命
func TestApprovalPoller_WaitsForTerminalResult(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "req-1", r.URL.Query().Get("request_id"))
		switch calls.Add(1) {
		case 1:
			_ = json.NewEncoder(w).Encode(LoginResult{Status: LoginPending})
		case 2:
			http.Error(w, "flaky upstream", http.StatusBadGateway)
		default:
			_ = json.NewEncoder(w).Encode(LoginResult{Status: LoginApproved, Address: "rAddr1"})
		}
	}))
	defer srv.Close()

	p := NewApprovalPoller(srv.URL, nil)
	p.Interval = 10 * time.Millisecond

	res, err := p.Wait(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, LoginApproved, res.Status)
	assert.Equal(t, "rAddr1", res.Address)
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

// TestApprovalPoller_Declined 拒绝也是终态
func TestApprovalPoller_Declined(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(LoginResult{Status: LoginDeclined})
	}))
	defer srv.Close()

	p := NewApprovalPoller(srv.URL, nil)
	p.Interval = 10 * time.Millisecond

	res, err := p.Wait(context.Background(), "req-2")
	require.NoError(t, err)
	assert.Equal(t, LoginDeclined, res.Status)
	assert.Empty(t, res.Address)
}

// TestApprovalPoller_ContextCancel 取消后立即返回
func TestApprovalPoller_ContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(LoginResult{Status: LoginPending})
	}))
	defer srv.Close()

	p := NewApprovalPoller(srv.URL, nil)
	p.Interval = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := p.Wait(ctx, "req-3")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// TestHTTPLedger_Balance 余额查询走协作方 HTTP 端点
func TestHTTPLedger_Balance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "rAddr1", r.URL.Query().Get("address"))
		_ = json.NewEncoder(w).Encode(map[string]float64{"balance": 12.5})
	}))
	defer srv.Close()

	l := NewHTTPLedger(srv.URL)
	bal, err := l.Balance(context.Background(), "rAddr1")
	require.NoError(t, err)
	assert.Equal(t, 12.5, bal)
}
