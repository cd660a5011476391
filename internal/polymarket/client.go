package polymarket

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"polyedge-bot/internal/config"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

var ErrHTTP = errors.New("polymarket http error")

// Client talks to the CLOB, Gamma and data APIs.
type Client struct {
	clob  *resty.Client
	gamma *resty.Client
	data  *resty.Client
	log   *zap.Logger
}

func NewClient(cfg config.PolymarketConfig, log *zap.Logger) *Client {
	return newClient(cfg.ClobURL, cfg.GammaURL, cfg.DataURL, cfg.Timeout, log)
}

func newClient(clobURL, gammaURL, dataURL string, timeout time.Duration, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	mk := func(base string) *resty.Client {
		return resty.New().
			SetBaseURL(strings.TrimRight(base, "/")).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json")
	}
	return &Client{clob: mk(clobURL), gamma: mk(gammaURL), data: mk(dataURL), log: log}
}

func checkResponse(op string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if resp.IsError() {
		body := strings.TrimSpace(resp.String())
		if len(body) > 512 {
			body = body[:512]
		}
		return fmt.Errorf("%s: %w: http %d: %s", op, ErrHTTP, resp.StatusCode(), body)
	}
	return nil
}

func (c *Client) Events(ctx context.Context, slug string) ([]Event, error) {
	var events []Event
	resp, err := c.gamma.R().
		SetContext(ctx).
		SetQueryParam("slug", slug).
		SetResult(&events).
		Get("/events")
	if err := checkResponse("gamma events", resp, err); err != nil {
		return nil, err
	}
	return events, nil
}

func (c *Client) Book(ctx context.Context, tokenID string) (Book, error) {
	var book Book
	resp, err := c.clob.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&book).
		Get("/book")
	if err := checkResponse("clob book", resp, err); err != nil {
		return Book{}, err
	}
	sortBids(book.Bids)
	return book, nil
}

func (c *Client) FeeRateBps(ctx context.Context, tokenID string) (int, error) {
	var out struct {
		BaseFee int `json:"base_fee"`
	}
	resp, err := c.clob.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&out).
		Get("/fee-rate")
	if err := checkResponse("clob fee rate", resp, err); err != nil {
		return 0, err
	}
	return out.BaseFee, nil
}

func (c *Client) Positions(ctx context.Context, user string) ([]RemotePosition, error) {
	var out []RemotePosition
	resp, err := c.data.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"user": user, "sizeThreshold": "0"}).
		SetResult(&out).
		Get("/positions")
	if err := checkResponse("data positions", resp, err); err != nil {
		return nil, err
	}
	return out, nil
}

// CollateralBalance returns the raw USDC balance in 1e6 units.
func (c *Client) CollateralBalance(ctx context.Context, signer *Signer) (string, error) {
	const path = "/balance-allowance"
	headers, err := signer.L2Headers(time.Now().Unix(), "GET", path, nil)
	if err != nil {
		return "", err
	}
	var out struct {
		Balance string `json:"balance"`
	}
	resp, err := c.clob.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetQueryParams(map[string]string{
			"asset_type":     "COLLATERAL",
			"signature_type": strconv.Itoa(signer.SignatureType()),
		}).
		SetResult(&out).
		Get(path)
	if err := checkResponse("clob balance", resp, err); err != nil {
		return "", err
	}
	return out.Balance, nil
}

func (c *Client) PostOrder(ctx context.Context, signer *Signer, body []byte) (OrderResponse, error) {
	const path = "/order"
	headers, err := signer.L2Headers(time.Now().Unix(), "POST", path, body)
	if err != nil {
		return OrderResponse{}, err
	}
	var out OrderResponse
	resp, err := c.clob.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&out).
		SetError(&out).
		Post(path)
	if err != nil {
		return OrderResponse{}, fmt.Errorf("clob order: %w", err)
	}
	if resp.IsError() && out.ErrorMsg == "" {
		return OrderResponse{}, checkResponse("clob order", resp, nil)
	}
	return out, nil
}
