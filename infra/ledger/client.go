package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kilianp07/parlock/core/ledger"
	"github.com/kilianp07/parlock/core/logger"
	"github.com/kilianp07/parlock/core/model"
)

// Config describes how to reach the ledger.
type Config struct {
	Address          string
	LockerID         string
	VerificationCode string
	Timeout          time.Duration
}

// Client is the HTTP ledger client. Every request is a form-encoded POST to
// {address}/api/locker/{locker_id}/{activity}/ carrying the current
// verification code.
type Client struct {
	base     string
	lockerID string
	http     *http.Client
	log      logger.Logger

	mu   sync.RWMutex
	code string
}

var _ ledger.Ledger = (*Client)(nil)

// NewClient returns a Client for cfg.
func NewClient(cfg Config, log logger.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		base:     strings.TrimRight(cfg.Address, "/"),
		lockerID: cfg.LockerID,
		http:     &http.Client{Timeout: cfg.Timeout},
		log:      logger.OrNop(log),
		code:     cfg.VerificationCode,
	}
}

// VerificationCode returns the code currently sent with every request.
func (c *Client) VerificationCode() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.code
}

func (c *Client) endpoint(a ledger.Activity) string {
	return fmt.Sprintf("%s/api/locker/%s/%s/", c.base, url.PathEscape(c.lockerID), a)
}

func (c *Client) post(ctx context.Context, a ledger.Activity, form url.Values) (*response, error) {
	if form == nil {
		form = url.Values{}
	}
	form.Set("verification_code", c.VerificationCode())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(a), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	fields := map[string]any{"activity": string(a)}
	for k := range form {
		if k != "verification_code" {
			fields[k] = form.Get(k)
		}
	}
	c.log.Debugw("contacting ledger", fields)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", a, err, ledger.ErrRemoteUnavailable)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %v: %w", a, err, ledger.ErrRemoteUnavailable)
	}
	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%s: status %d: %w", a, resp.StatusCode, ledger.ErrRemoteUnavailable)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%s: status %d: %w", a, resp.StatusCode, ledger.ErrRejected)
	}
	var out response
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%s: decode response: %v: %w", a, err, ledger.ErrRemoteUnavailable)
	}
	if !out.Success {
		if out.Message != "" {
			return &out, fmt.Errorf("%s: %s: %w", a, out.Message, ledger.ErrRejected)
		}
		return &out, fmt.Errorf("%s: %w", a, ledger.ErrRejected)
	}
	return &out, nil
}

func (c *Client) Notify(ctx context.Context, a ledger.Activity) error {
	_, err := c.post(ctx, a, nil)
	return err
}

func (c *Client) RegisterUnit(ctx context.Context, unitID string) (model.LockerUnit, error) {
	resp, err := c.post(ctx, ledger.Register, url.Values{"unit_id": {unitID}})
	if err != nil {
		return model.LockerUnit{}, err
	}
	u := model.LockerUnit{
		ID: unitID,
		Dimensions: model.Dimensions{
			Length: float64(resp.Length),
			Width:  float64(resp.Width),
			Height: float64(resp.Height),
		},
		Available: true,
	}
	if resp.IsAvailable != nil {
		u.Available = *resp.IsAvailable
	}
	if !u.Dimensions.Valid() {
		return model.LockerUnit{}, fmt.Errorf("register %s: invalid dimensions %s: %w", unitID, u.Dimensions, ledger.ErrRejected)
	}
	return u, nil
}

func (c *Client) VerifyParcel(ctx context.Context, tracking string) error {
	_, err := c.post(ctx, ledger.ScanParcel, url.Values{"tracking_number": {tracking}})
	return err
}

func (c *Client) ReportDimensions(ctx context.Context, tracking string, d model.Dimensions) error {
	_, err := c.post(ctx, ledger.ScanDimensions, url.Values{
		"tracking_number": {tracking},
		"length":          {formatMM(d.Length)},
		"width":           {formatMM(d.Width)},
		"height":          {formatMM(d.Height)},
	})
	return err
}

func (c *Client) ResolveWithdrawal(ctx context.Context, code string) (string, error) {
	resp, err := c.post(ctx, ledger.ScanRecipient, url.Values{"qr_data": {code}})
	if err != nil {
		return "", err
	}
	if resp.UnitID == "" {
		return "", fmt.Errorf("withdraw-qr: empty unit id: %w", ledger.ErrRejected)
	}
	return string(resp.UnitID), nil
}

func (c *Client) Report(ctx context.Context, tx ledger.Transaction) error {
	if tx.Activity != ledger.Deposit && tx.Activity != ledger.Withdraw {
		return fmt.Errorf("report: unsupported activity %q", tx.Activity)
	}
	form := url.Values{
		"unit_id":  {tx.UnitID},
		"complete": {strconv.FormatBool(tx.Complete)},
	}
	if tx.TrackingNumber != "" {
		form.Set("tracking_number", tx.TrackingNumber)
	}
	if tx.QRData != "" {
		form.Set("qr_data", tx.QRData)
	}
	_, err := c.post(ctx, tx.Activity, form)
	return err
}

// ChangeVerificationCode rotates the code and uses the new one for every
// later request.
func (c *Client) ChangeVerificationCode(ctx context.Context) (string, error) {
	resp, err := c.post(ctx, ledger.ChangeVerifyCode, nil)
	if err != nil {
		return "", err
	}
	if resp.VerificationCode == "" {
		return "", fmt.Errorf("change: empty verification code: %w", ledger.ErrRejected)
	}
	c.mu.Lock()
	c.code = resp.VerificationCode
	c.mu.Unlock()
	c.log.Infof("verification code rotated")
	return resp.VerificationCode, nil
}

func formatMM(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
