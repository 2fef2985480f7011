package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNicknameNotFound 地址尚未绑定昵称
	ErrNicknameNotFound = errors.New("nickname not found")
	// ErrNicknameTaken 昵称已被其他地址占用
	ErrNicknameTaken = errors.New("nickname already exists")
)

// NicknameStore 地址 → 昵称的外部持久化边界
// 失败只影响发起请求的用户，不触碰房间状态
type NicknameStore interface {
	Lookup(ctx context.Context, address string) (string, error)
	Save(ctx context.Context, address, nickname string) error
}

// FileNicknameStore 单文件 JSON 存储（{address: nickname}）
// 昵称在所有地址间唯一
type FileNicknameStore struct {
	mu   sync.Mutex
	path string
}

func NewFileNicknameStore(path string) *FileNicknameStore {
	return &FileNicknameStore{path: path}
}

func (s *FileNicknameStore) Lookup(_ context.Context, address string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return "", err
	}
	nick, ok := m[address]
	if !ok {
		return "", ErrNicknameNotFound
	}
	return nick, nil
}

func (s *FileNicknameStore) Save(_ context.Context, address, nickname string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return err
	}
	for addr, nick := range m {
		if nick == nickname && addr != address {
			return ErrNicknameTaken
		}
	}
	m[address] = nickname
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, b, 0o644)
}

// load 读取并解析存储文件；文件不存在视为空表
func (s *FileNicknameStore) load() (map[string]string, error) {
	m := make(map[string]string)
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, fmt.Errorf("read nicknames: %w", err)
	}
	if len(b) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parse nicknames: %w", err)
	}
	return m, nil
}

// RedisNicknameStore 多实例部署时的共享存储
// 正向 hash 存映射，反向键 SETNX 保证昵称唯一
type RedisNicknameStore struct {
	rdb *redis.Client
}

const (
	nickHashKey    = "fori:nicknames"       // address -> nickname
	nickReversePre = "fori:nickname:owner:" // nickname -> address
)

func NewRedisNicknameStore(addr string) *RedisNicknameStore {
	return &RedisNicknameStore{
		rdb: redis.NewClient(&redis.Options{Addr: addr}),
	}
}

func (s *RedisNicknameStore) Lookup(ctx context.Context, address string) (string, error) {
	nick, err := s.rdb.HGet(ctx, nickHashKey, address).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNicknameNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis lookup: %w", err)
	}
	return nick, nil
}

func (s *RedisNicknameStore) Save(ctx context.Context, address, nickname string) error {
	ok, err := s.rdb.SetNX(ctx, nickReversePre+nickname, address, 0).Result()
	if err != nil {
		return fmt.Errorf("redis save: %w", err)
	}
	if !ok {
		owner, err := s.rdb.Get(ctx, nickReversePre+nickname).Result()
		if err != nil {
			return fmt.Errorf("redis save: %w", err)
		}
		if owner != address {
			return ErrNicknameTaken
		}
	}
	// 改名时释放旧昵称的反向键
	if old, err := s.rdb.HGet(ctx, nickHashKey, address).Result(); err == nil && old != nickname {
		s.rdb.Del(ctx, nickReversePre+old)
	}
	if err := s.rdb.HSet(ctx, nickHashKey, address, nickname).Err(); err != nil {
		return fmt.Errorf("redis save: %w", err)
	}
	return nil
}

// NicknameAPI 昵称存储的 HTTP 外观
// POST /api/nickname/get  {address}           -> {nickname} | 404
// POST /api/nickname/save {address, nickname} -> {ok} | 409
type NicknameAPI struct {
	store NicknameStore
}

func NewNicknameAPI(store NicknameStore) *NicknameAPI {
	return &NicknameAPI{store: store}
}

func (a *NicknameAPI) HandleGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Address == "" {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	nick, err := a.store.Lookup(r.Context(), body.Address)
	switch {
	case errors.Is(err, ErrNicknameNotFound):
		http.Error(w, "nickname not found", http.StatusNotFound)
	case err != nil:
		Log.Errorf("nickname lookup: %v", err)
		http.Error(w, "store unavailable", http.StatusInternalServerError)
	default:
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"nickname": nick})
	}
}

func (a *NicknameAPI) HandleSave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Address  string `json:"address"`
		Nickname string `json:"nickname"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Address == "" || body.Nickname == "" {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	err := a.store.Save(r.Context(), body.Address, body.Nickname)
	switch {
	case errors.Is(err, ErrNicknameTaken):
		http.Error(w, "nickname already exists", http.StatusConflict)
	case err != nil:
		Log.Errorf("nickname save: %v", err)
		http.Error(w, "store unavailable", http.StatusInternalServerError)
	default:
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	}
}
