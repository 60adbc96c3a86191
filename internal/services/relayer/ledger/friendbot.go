package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/louisbranch/soropass/internal/platform/timeouts"
)

// Friendbot funds accounts through a friendbot endpoint.
type Friendbot struct {
	url    string
	client *resty.Client
}

// NewFriendbot builds a faucet for url.
func NewFriendbot(url string) (*Friendbot, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("friendbot url is required")
	}
	return &Friendbot{
		url:    url,
		client: resty.New().SetTimeout(timeouts.FaucetRequest),
	}, nil
}

var _ Faucet = (*Friendbot)(nil)

// Fund requests test lumens for address. An account that already exists
// counts as funded.
func (f *Friendbot) Fund(ctx context.Context, address string) error {
	if f == nil || f.client == nil {
		return fmt.Errorf("friendbot is not configured")
	}
	res, err := f.client.R().
		SetContext(ctx).
		SetQueryParam("addr", address).
		Get(f.url)
	if err != nil {
		return fmt.Errorf("fund %s: %w", address, err)
	}
	if res.IsError() {
		body := strings.TrimSpace(string(res.Body()))
		if strings.Contains(body, "op_already_exists") {
			return nil
		}
		return fmt.Errorf("fund %s: http status %d: %s", address, res.StatusCode(), body)
	}
	return nil
}
