// Provider catalog handler.
//
//   - GET /providers   (configured providers, keys masked)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-groupchat-backend/internal/config"
	"github.com/tbourn/go-groupchat-backend/internal/domain"
)

// ProviderView is the public view of a catalog entry.
type ProviderView struct {
	ID            string `json:"id" example:"deepseek"`
	Name          string `json:"name" example:"DeepSeek"`
	Family        string `json:"family" example:"openai"`
	Model         string `json:"model" example:"deepseek-chat"`
	APIURL        string `json:"api_url"`
	KeyConfigured bool   `json:"key_configured"`
	APIKey        string `json:"api_key,omitempty" example:"****cdef"`
}

// NewProviderView masks p's credentials.
func NewProviderView(p domain.Provider) ProviderView {
	return ProviderView{
		ID:            p.ID,
		Name:          p.DisplayName(),
		Family:        p.Family,
		Model:         p.Model,
		APIURL:        p.APIURL,
		KeyConfigured: p.APIKey != "",
		APIKey:        config.MaskKey(p.APIKey),
	}
}

// ListProviders godoc
// @ID          listProviders
// @Summary     List configured providers
// @Tags        Providers
// @Produce     json
// @Success     200  {array}  handlers.ProviderView
// @Router      /providers [get]
func (h *Handlers) ListProviders(c *gin.Context) {
	ps := h.providers.List()
	out := make([]ProviderView, len(ps))
	for i, p := range ps {
		out[i] = NewProviderView(p)
	}
	ok(c, http.StatusOK, out)
}
