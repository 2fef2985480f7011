package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// LoginStatus 扫码登录审批的轮询结果
type LoginStatus string

const (
	LoginPending  LoginStatus = "pending"
	LoginApproved LoginStatus = "approved"
	LoginDeclined LoginStatus = "declined"
)

// LoginResult 终态结果；Approved 时携带钱包地址
type LoginResult struct {
	Status  LoginStatus `json:"status"`
	Address string      `json:"address,omitempty"`
}

// ApprovalPoller 轮询带外登录审批端点直到出终态
// 轮询请求失败是非致命的：记日志后按原节奏继续
type ApprovalPoller struct {
	BaseURL  string
	Interval time.Duration
	HTTP     *http.Client
	Log      *zap.SugaredLogger
}

func NewApprovalPoller(baseURL string, log *zap.SugaredLogger) *ApprovalPoller {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &ApprovalPoller{
		BaseURL:  baseURL,
		Interval: 2 * time.Second,
		HTTP:     &http.Client{Timeout: 10 * time.Second},
		Log:      log,
	}
}

// Wait 阻塞直到审批出终态或 ctx 取消
func (p *ApprovalPoller) Wait(ctx context.Context, requestID string) (LoginResult, error) {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		res, err := p.poll(ctx, requestID)
		if err != nil {
			p.Log.Warnf("login poll: %v", err)
		} else if res.Status != LoginPending {
			return res, nil
		}
		select {
		case <-ctx.Done():
			return LoginResult{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *ApprovalPoller) poll(ctx context.Context, requestID string) (LoginResult, error) {
	u := fmt.Sprintf("%s/api/login/poll?request_id=%s", p.BaseURL, url.QueryEscape(requestID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return LoginResult{}, err
	}
	resp, err := p.HTTP.Do(req)
	if err != nil {
		return LoginResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return LoginResult{}, fmt.Errorf("poll status %d", resp.StatusCode)
	}
	var res LoginResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return LoginResult{}, err
	}
	return res, nil
}

// Ledger 余额查询的外部协作方边界（密钥管理不在本仓库范围内）
type Ledger interface {
	Balance(ctx context.Context, address string) (float64, error)
}

// HTTPLedger 经由协作方 HTTP 端点查询余额
type HTTPLedger struct {
	BaseURL string
	HTTP    *http.Client
}

func NewHTTPLedger(baseURL string) *HTTPLedger {
	return &HTTPLedger{BaseURL: baseURL, HTTP: &http.Client{Timeout: 10 * time.Second}}
}

func (l *HTTPLedger) Balance(ctx context.Context, address string) (float64, error) {
	u := fmt.Sprintf("%s/api/balance?address=%s", l.BaseURL, url.QueryEscape(address))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	resp, err := l.HTTP.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("balance status %d", resp.StatusCode)
	}
	var body struct {
		Balance float64 `json:"balance"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, err
	}
	return body.Balance, nil
}
