package server

import (
	"encoding/json"
	"net/http"
	"time"
)

// Admin 运行期监控与配置接口，显式持有注册表与指标
type Admin struct {
	reg     *Registry
	metrics *Metrics
}

func NewAdmin(reg *Registry, m *Metrics) *Admin {
	return &Admin{reg: reg, metrics: m}
}

// HandleConfig 提供房间配置的读取与更新（热更新基本规则）
// GET  /admin/config  返回当前配置
// POST /admin/config  以 JSON 载荷更新部分字段
func (a *Admin) HandleConfig(w http.ResponseWriter, r *http.Request) {
	type cfg struct {
		WalkClearMs *int `json:"walkClearMs,omitempty"`
	}

	switch r.Method {
	case http.MethodGet:
		ms := int(a.reg.WalkClear() / time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(cfg{WalkClearMs: &ms})
	case http.MethodPost:
		var body cfg
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if body.WalkClearMs != nil {
			a.reg.SetWalkClear(time.Duration(*body.WalkClearMs) * time.Millisecond)
			Log.Infof("config updated: walkClearMs=%d", *body.WalkClearMs)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleMetrics 输出房间运行指标与当前人数
// GET /metrics
func (a *Admin) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"online":  len(a.reg.Snapshot()),
		"metrics": a.metrics.Snapshot(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
