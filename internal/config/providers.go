package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-groupchat-backend/internal/domain"
)

// ProviderEntry is one [[provider]] table of the catalog file.
//
// The credential is taken from api_key, then from the environment variable
// named by api_key_env, then from <ID>_API_KEY.
type ProviderEntry struct {
	ID          string            `toml:"id"`
	Name        string            `toml:"name"`
	Family      string            `toml:"family"`
	APIURL      string            `toml:"api_url"`
	APIKey      string            `toml:"api_key"`
	APIKeyEnv   string            `toml:"api_key_env"`
	Model       string            `toml:"model"`
	MaxTokens   int               `toml:"max_tokens"`
	Temperature float64           `toml:"temperature"`
	Headers     map[string]string `toml:"headers"`
	Disabled    bool              `toml:"disabled"`
}

type providersFile struct {
	Providers []ProviderEntry `toml:"provider"`
}

// DefaultProviders lists the built-in catalog. File entries with the same
// id override these field by field.
func DefaultProviders() []ProviderEntry {
	return []ProviderEntry{
		{ID: "chatgpt", Name: "ChatGPT", Family: "openai", APIURL: "https://api.openai.com/v1/chat/completions", APIKeyEnv: "OPENAI_API_KEY", Model: "gpt-3.5-turbo"},
		{ID: "claude", Name: "Claude", Family: "anthropic", APIURL: "https://api.anthropic.com/v1/messages", APIKeyEnv: "ANTHROPIC_API_KEY", Model: "claude-3-sonnet-20240229"},
		{ID: "gemini", Name: "Gemini", Family: "gemini", APIURL: "https://generativelanguage.googleapis.com/v1beta/models/gemini-pro:generateContent", APIKeyEnv: "GEMINI_API_KEY", Model: "gemini-pro"},
		{ID: "wenxin", Name: "文心一言", Family: "wenxin", APIURL: "https://aip.baidubce.com/rpc/2.0/ai_custom/v1/wenxinworkshop/chat/completions", APIKeyEnv: "WENXIN_ACCESS_TOKEN", Model: "ernie-bot-4"},
		{ID: "qianwen", Name: "通义千问", Family: "qianwen", APIURL: "https://dashscope.aliyuncs.com/api/v1/services/aigc/text-generation/generation", APIKeyEnv: "DASHSCOPE_API_KEY", Model: "qwen-turbo"},
		{ID: "deepseek", Name: "DeepSeek", Family: "openai", APIURL: "https://api.deepseek.com/v1/chat/completions", APIKeyEnv: "DEEPSEEK_API_KEY", Model: "deepseek-chat"},
		{ID: "kimi", Name: "Kimi", Family: "openai", APIURL: "https://api.moonshot.cn/v1/chat/completions", APIKeyEnv: "MOONSHOT_API_KEY", Model: "moonshot-v1-8k"},
		{ID: "zhipu", Name: "智谱清言", Family: "openai", APIURL: "https://open.bigmodel.cn/api/paas/v4/chat/completions", APIKeyEnv: "ZHIPU_API_KEY", Model: "glm-4"},
	}
}

// ParseProviders decodes catalog TOML and merges it over the defaults.
func ParseProviders(data string) ([]domain.Provider, error) {
	var f providersFile
	if _, err := toml.Decode(data, &f); err != nil {
		return nil, fmt.Errorf("decode providers: %w", err)
	}
	return mergeProviders(DefaultProviders(), f.Providers)
}

// LoadProviders reads the catalog file at path. An empty path yields the
// built-in catalog.
func LoadProviders(path string) ([]domain.Provider, error) {
	if strings.TrimSpace(path) == "" {
		return mergeProviders(DefaultProviders(), nil)
	}
	var f providersFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return mergeProviders(DefaultProviders(), f.Providers)
}

func mergeProviders(defaults, overrides []ProviderEntry) ([]domain.Provider, error) {
	byID := make(map[string]ProviderEntry, len(defaults)+len(overrides))
	order := make([]string, 0, len(defaults)+len(overrides))
	for _, e := range defaults {
		byID[e.ID] = e
		order = append(order, e.ID)
	}
	for _, o := range overrides {
		id := strings.TrimSpace(o.ID)
		if id == "" {
			return nil, errors.New("provider entry without id")
		}
		base, seen := byID[id]
		if !seen {
			order = append(order, id)
		}
		byID[id] = overlay(base, o)
	}

	out := make([]domain.Provider, 0, len(order))
	for _, id := range order {
		e := byID[id]
		if e.Disabled {
			continue
		}
		if e.APIURL == "" {
			return nil, fmt.Errorf("provider %q: api_url must not be empty", id)
		}
		if e.Temperature < 0 || e.Temperature > 2 {
			return nil, fmt.Errorf("provider %q: temperature must be in [0,2]", id)
		}
		out = append(out, resolve(e))
	}
	return out, nil
}

func overlay(base, o ProviderEntry) ProviderEntry {
	base.ID = strings.TrimSpace(o.ID)
	if o.Name != "" {
		base.Name = o.Name
	}
	if o.Family != "" {
		base.Family = o.Family
	}
	if o.APIURL != "" {
		base.APIURL = o.APIURL
	}
	if o.APIKey != "" {
		base.APIKey = o.APIKey
	}
	if o.APIKeyEnv != "" {
		base.APIKeyEnv = o.APIKeyEnv
	}
	if o.Model != "" {
		base.Model = o.Model
	}
	if o.MaxTokens > 0 {
		base.MaxTokens = o.MaxTokens
	}
	if o.Temperature != 0 {
		base.Temperature = o.Temperature
	}
	if len(o.Headers) > 0 {
		base.Headers = o.Headers
	}
	base.Disabled = o.Disabled
	return base
}

func resolve(e ProviderEntry) domain.Provider {
	key := e.APIKey
	if key == "" && e.APIKeyEnv != "" {
		key = os.Getenv(e.APIKeyEnv)
	}
	if key == "" {
		key = os.Getenv(strings.ToUpper(e.ID) + "_API_KEY")
	}
	family := e.Family
	if family == "" {
		family = "openai"
	}
	maxTokens := e.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	temp := e.Temperature
	if temp == 0 {
		temp = 0.7
	}
	return domain.Provider{
		ID:          e.ID,
		Name:        e.Name,
		Family:      family,
		APIURL:      e.APIURL,
		APIKey:      key,
		Model:       e.Model,
		MaxTokens:   maxTokens,
		Temperature: temp,
		Headers:     e.Headers,
	}
}

// Catalog is the read-only provider lookup used by the services. Reload
// swaps the whole set at once; a Provider handed out earlier is a copy and
// is never affected.
type Catalog struct {
	path string

	mu    sync.RWMutex
	byID  map[string]domain.Provider
	order []string
}

// NewCatalog builds a catalog over a fixed provider list.
func NewCatalog(ps []domain.Provider) *Catalog {
	c := &Catalog{}
	c.replace(ps)
	return c
}

// OpenCatalog loads the catalog from path (empty means built-ins only).
func OpenCatalog(path string) (*Catalog, error) {
	ps, err := LoadProviders(path)
	if err != nil {
		return nil, err
	}
	c := NewCatalog(ps)
	c.path = path
	return c, nil
}

func (c *Catalog) replace(ps []domain.Provider) {
	byID := make(map[string]domain.Provider, len(ps))
	order := make([]string, 0, len(ps))
	for _, p := range ps {
		if _, dup := byID[p.ID]; !dup {
			order = append(order, p.ID)
		}
		byID[p.ID] = p
	}
	c.mu.Lock()
	c.byID, c.order = byID, order
	c.mu.Unlock()
}

// Provider returns the provider registered under id.
func (c *Catalog) Provider(id string) (domain.Provider, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.byID[id]
	return p, ok
}

// List returns all providers in catalog order.
func (c *Catalog) List() []domain.Provider {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Provider, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

// IDs returns the sorted provider ids.
func (c *Catalog) IDs() []string {
	c.mu.RLock()
	ids := append([]string(nil), c.order...)
	c.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Reload re-reads the catalog file. On error the current set is kept.
func (c *Catalog) Reload() error {
	ps, err := LoadProviders(c.path)
	if err != nil {
		return err
	}
	c.replace(ps)
	return nil
}

// Watch reloads the catalog whenever its file changes, coalescing bursts of
// events within debounce. It returns once the watcher is installed; the
// watch ends when ctx is done.
func (c *Catalog) Watch(ctx context.Context, debounce time.Duration) error {
	if c.path == "" {
		return errors.New("catalog has no backing file")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(c.path)
	if err != nil {
		_ = w.Close()
		return err
	}
	// Editors replace files by rename, so watch the directory.
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return err
	}
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}

	go func() {
		defer w.Close()
		var timer *time.Timer
		fire := make(chan struct{}, 1)
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if timer == nil {
					timer = time.AfterFunc(debounce, func() {
						select {
						case fire <- struct{}{}:
						default:
						}
					})
				} else {
					timer.Reset(debounce)
				}
			case <-fire:
				if err := c.Reload(); err != nil {
					log.Warn().Err(err).Str("path", c.path).Msg("provider catalog reload failed")
					continue
				}
				log.Info().Str("path", c.path).Int("providers", len(c.IDs())).Msg("provider catalog reloaded")
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("provider catalog watcher error")
			}
		}
	}()
	return nil
}

// MaskKey hides all but the last four characters of an API key.
func MaskKey(key string) string {
	switch {
	case key == "":
		return ""
	case len(key) <= 8:
		return "****"
	}
	return "****" + key[len(key)-4:]
}
