package panel

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sinhamoca/verificacao-sub002/internal/domain/enums"
	"github.com/sinhamoca/verificacao-sub002/internal/infra/httpclient"
)

var (
	ErrUnknownFamily      = errors.New("unknown panel family")
	ErrMissingCredentials = errors.New("panel has no stored credentials")
)

// Registry resolves a panel family tag plus stored credentials into a
// concrete adapter. New families are added here; the fulfillment state
// machine never learns about concrete adapter types.
type Registry struct {
	client *http.Client
}

func NewRegistry(remoteTimeout time.Duration) *Registry {
	if remoteTimeout <= 0 {
		remoteTimeout = 30 * time.Second
	}

	return &Registry{client: httpclient.New(remoteTimeout)}
}

// AdapterFor validates the registry entry and constructs the matching
// adapter. Both error cases are configuration defects: callers surface them
// immediately instead of retrying.
func (r *Registry) AdapterFor(family enums.PanelFamily, creds Credentials) (Adapter, error) {
	if strings.TrimSpace(creds.BaseURL) == "" ||
		strings.TrimSpace(creds.Username) == "" ||
		strings.TrimSpace(creds.Password) == "" {
		return nil, ErrMissingCredentials
	}

	switch family {
	case enums.PanelFamilyToken:
		return NewTokenAdapter(creds, r.client), nil
	case enums.PanelFamilyCookie:
		return NewCookieAdapter(creds, r.client), nil
	default:
		return nil, ErrUnknownFamily
	}
}
