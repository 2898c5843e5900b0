package noble

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fastusdc/cctp-relayer/internal/config"
	"github.com/fastusdc/cctp-relayer/internal/db"
	"github.com/fastusdc/cctp-relayer/internal/state"
	"github.com/fastusdc/cctp-relayer/internal/types"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const forwardingAccountType = "/noble.forwarding.v1.ForwardingAccount"

// Resolver maps a noble intermediate address to its registered forwarding
// target. Resolution order: durable cache, forwarding-account worker, noble
// LCD. A transient lookup failure yields the UNKNOWN sentinel instead of nil
// so the event survives for the sweep.
type Resolver struct {
	state           *state.State
	httpClient      *http.Client
	lcdURL          string
	workerURL       string
	expectedChannel string
}

func NewResolver(st *state.State) *Resolver {
	return &Resolver{
		state:           st,
		httpClient:      &http.Client{Timeout: 30 * time.Second},
		lcdURL:          config.AppConfig.NobleLCDURL,
		workerURL:       config.AppConfig.NFAWorkerURL,
		expectedChannel: config.AppConfig.ExpectedChannel,
	}
}

// Resolve returns the forwarding account for nobleAddress, nil when the
// address is definitively not a usable forwarding account, or the UNKNOWN
// sentinel when the lookup failed transiently.
func (r *Resolver) Resolve(ctx context.Context, nobleAddress string) *types.ForwardingAccount {
	cached, err := r.state.GetNobleAccount(nobleAddress)
	if err == nil {
		if !cached.IsForwarding {
			return nil
		}
		return &types.ForwardingAccount{Recipient: cached.Recipient, Channel: cached.Channel}
	}
	if err != gorm.ErrRecordNotFound {
		log.Warnf("Failed to read noble account cache, address: %s, error: %v", nobleAddress, err)
		return r.unknown()
	}
	return r.ResolveFresh(ctx, nobleAddress)
}

// ResolveFresh bypasses the cache, used by the unknown-recipient sweep.
func (r *Resolver) ResolveFresh(ctx context.Context, nobleAddress string) *types.ForwardingAccount {
	if r.workerURL != "" {
		fa, definitive := r.queryWorker(ctx, nobleAddress)
		if definitive {
			if fa == nil {
				return r.cacheNegative(nobleAddress)
			}
			return r.classify(nobleAddress, fa.Recipient, fa.Channel)
		}
		// worker unavailable, fall through to the LCD
	}
	return r.queryLCD(ctx, nobleAddress)
}

// queryWorker asks the registration-index worker. definitive is false when
// the worker could not answer and the LCD should be consulted instead.
func (r *Resolver) queryWorker(ctx context.Context, nobleAddress string) (fa *types.ForwardingAccount, definitive bool) {
	url := fmt.Sprintf("%s/%s", r.workerURL, nobleAddress)
	body, status, err := r.get(ctx, url)
	if err != nil {
		log.Warnf("Forwarding worker request failed, address: %s, error: %v", nobleAddress, err)
		return nil, false
	}
	if status == http.StatusNotFound {
		return nil, true
	}
	if status != http.StatusOK {
		log.Warnf("Forwarding worker returned status %d, address: %s", status, nobleAddress)
		return nil, false
	}

	var resp struct {
		Recipient string `json:"recipient"`
		Channel   string `json:"channel"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		log.Warnf("Failed to decode forwarding worker response, address: %s, error: %v", nobleAddress, err)
		return nil, false
	}
	return &types.ForwardingAccount{Recipient: resp.Recipient, Channel: resp.Channel}, true
}

func (r *Resolver) queryLCD(ctx context.Context, nobleAddress string) *types.ForwardingAccount {
	url := fmt.Sprintf("%s/cosmos/auth/v1beta1/accounts/%s", r.lcdURL, nobleAddress)
	body, status, err := r.get(ctx, url)
	if err != nil {
		log.Warnf("Noble LCD request failed, address: %s, error: %v", nobleAddress, err)
		return r.unknown()
	}
	if status == http.StatusNotFound {
		// the forwarding account may simply not be registered yet
		return r.unknown()
	}
	if status != http.StatusOK {
		log.Warnf("Noble LCD returned status %d, address: %s", status, nobleAddress)
		return r.unknown()
	}

	var resp struct {
		Account struct {
			Type      string `json:"@type"`
			Channel   string `json:"channel"`
			Recipient string `json:"recipient"`
		} `json:"account"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		log.Warnf("Failed to decode noble account response, address: %s, error: %v", nobleAddress, err)
		return r.unknown()
	}

	if resp.Account.Type != forwardingAccountType {
		return r.cacheNegative(nobleAddress)
	}
	return r.classify(nobleAddress, resp.Account.Recipient, resp.Account.Channel)
}

// classify validates a confirmed forwarding account and caches the verdict.
func (r *Resolver) classify(nobleAddress, recipient, channel string) *types.ForwardingAccount {
	if channel != r.expectedChannel {
		log.Infof("Forwarding account targets wrong channel, address: %s, channel: %s", nobleAddress, channel)
		return r.cacheNegative(nobleAddress)
	}
	if _, _, err := types.DecodeAddressHook(recipient); err != nil {
		log.Infof("Forwarding recipient has no settlement hook, address: %s, recipient: %s", nobleAddress, recipient)
		return r.cacheNegative(nobleAddress)
	}

	acc := &db.NobleAccount{
		NobleAddress: nobleAddress,
		Recipient:    recipient,
		Channel:      channel,
		IsForwarding: true,
	}
	if err := r.state.SaveNobleAccount(acc); err != nil {
		log.Warnf("Failed to cache noble account, address: %s, error: %v", nobleAddress, err)
	}
	return &types.ForwardingAccount{Recipient: recipient, Channel: channel}
}

func (r *Resolver) cacheNegative(nobleAddress string) *types.ForwardingAccount {
	acc := &db.NobleAccount{
		NobleAddress: nobleAddress,
		IsForwarding: false,
	}
	if err := r.state.SaveNobleAccount(acc); err != nil {
		log.Warnf("Failed to cache noble account, address: %s, error: %v", nobleAddress, err)
	}
	return nil
}

func (r *Resolver) unknown() *types.ForwardingAccount {
	return &types.ForwardingAccount{
		Recipient: types.UnknownForwardingAccount,
		Channel:   r.expectedChannel,
	}
}

func (r *Resolver) get(ctx context.Context, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("error creating HTTP request: %v", err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("error sending HTTP request: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("error reading response body: %v", err)
	}
	return body, resp.StatusCode, nil
}
