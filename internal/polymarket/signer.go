package polymarket

import (
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"polyedge-bot/internal/exec"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	orderbuilder "github.com/polymarket/go-order-utils/pkg/builder"
	ordermodel "github.com/polymarket/go-order-utils/pkg/model"
	"github.com/shopspring/decimal"
)

const zeroAddress = "0x0000000000000000000000000000000000000000"

var ErrAmountTooSmall = errors.New("order amount rounds to zero")

// Creds are the CLOB L2 API credentials.
type Creds struct {
	Key        string
	Secret     string
	Passphrase string
}

// Signer signs CLOB orders with the wallet key and authenticates REST
// calls with HMAC L2 headers.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
	funder  common.Address
	sigType int
	chainID int64
	creds   Creds
	salt    func() int64
}

func NewSigner(privateKeyHex, funder string, sigType int, chainID int64, creds Creds) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	address := crypto.PubkeyToAddress(key.PublicKey)
	funderAddr := address
	if strings.TrimSpace(funder) != "" {
		if !common.IsHexAddress(funder) {
			return nil, fmt.Errorf("invalid funder address %q", funder)
		}
		funderAddr = common.HexToAddress(funder)
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Signer{
		key:     key,
		address: address,
		funder:  funderAddr,
		sigType: sigType,
		chainID: chainID,
		creds:   creds,
		salt:    func() int64 { return rng.Int63() },
	}, nil
}

func (s *Signer) Address() common.Address { return s.address }

// Funder is the address holding collateral and positions.
func (s *Signer) Funder() common.Address { return s.funder }

func (s *Signer) SignatureType() int { return s.sigType }

func (s *Signer) L2Headers(timestamp int64, method, path string, body []byte) (map[string]string, error) {
	if s.creds.Key == "" || s.creds.Secret == "" {
		return nil, errors.New("clob api credentials not set")
	}
	sig, err := hmacSignature(s.creds.Secret, timestamp, method, path, body)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"POLY_ADDRESS":    s.address.Hex(),
		"POLY_SIGNATURE":  sig,
		"POLY_TIMESTAMP":  strconv.FormatInt(timestamp, 10),
		"POLY_API_KEY":    s.creds.Key,
		"POLY_PASSPHRASE": s.creds.Passphrase,
	}, nil
}

func hmacSignature(secret string, timestamp int64, method, path string, body []byte) (string, error) {
	decoded, err := base64.URLEncoding.DecodeString(normalizeSecret(secret))
	if err != nil {
		return "", fmt.Errorf("decode api secret: %w", err)
	}
	mac := hmac.New(sha256.New, decoded)
	mac.Write([]byte(strconv.FormatInt(timestamp, 10) + method + path))
	mac.Write(body)
	return base64.URLEncoding.EncodeToString(mac.Sum(nil)), nil
}

// normalizeSecret maps standard base64 onto the url alphabet and restores padding.
func normalizeSecret(secret string) string {
	secret = strings.TrimSpace(secret)
	secret = strings.NewReplacer("+", "-", "/", "_").Replace(secret)
	secret = strings.TrimRight(secret, "=")
	if rem := len(secret) % 4; rem != 0 {
		secret += strings.Repeat("=", 4-rem)
	}
	return secret
}

// OrderAmounts converts a price and share size into on-chain maker and
// taker amounts (1e6 units). Buys spend collateral rounded to cents and
// receive shares truncated to 4 decimals; sells mirror that.
func OrderAmounts(side exec.Side, price, size decimal.Decimal) (*big.Int, *big.Int, error) {
	if !price.IsPositive() || !size.IsPositive() {
		return nil, nil, ErrAmountTooSmall
	}
	var maker, taker decimal.Decimal
	switch side {
	case exec.Buy:
		maker = size.Mul(price).Truncate(2)
		taker = maker.Div(price).Truncate(4)
	case exec.Sell:
		maker = size.Truncate(2)
		taker = maker.Mul(price).Truncate(4)
	default:
		return nil, nil, fmt.Errorf("invalid side %q", side)
	}
	if !maker.IsPositive() || !taker.IsPositive() {
		return nil, nil, ErrAmountTooSmall
	}
	return maker.Shift(6).BigInt(), taker.Shift(6).BigInt(), nil
}

func (s *Signer) SignOrder(tokenID string, side exec.Side, maker, taker *big.Int, feeBps int, negRisk bool) (*ordermodel.SignedOrder, error) {
	sideEnum := ordermodel.BUY
	if side == exec.Sell {
		sideEnum = ordermodel.SELL
	}
	contract := ordermodel.CTFExchange
	if negRisk {
		contract = ordermodel.NegRiskCTFExchange
	}
	data := &ordermodel.OrderData{
		Maker:         s.funder.Hex(),
		Taker:         zeroAddress,
		TokenId:       tokenID,
		MakerAmount:   maker.String(),
		TakerAmount:   taker.String(),
		FeeRateBps:    strconv.Itoa(feeBps),
		Nonce:         "0",
		Signer:        s.address.Hex(),
		Expiration:    "0",
		Side:          sideEnum,
		SignatureType: ordermodel.SignatureType(s.sigType),
	}
	builder := orderbuilder.NewExchangeOrderBuilderImpl(big.NewInt(s.chainID), s.salt)
	return builder.BuildSignedOrder(s.key, data, contract)
}

type orderPayload struct {
	Order     orderJSON `json:"order"`
	Owner     string    `json:"owner"`
	OrderType string    `json:"orderType"`
}

type orderJSON struct {
	Salt          int64  `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          string `json:"side"`
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`
}

// OrderBody encodes a signed order for POST /order.
func (s *Signer) OrderBody(order *ordermodel.SignedOrder, orderType string) ([]byte, error) {
	if order == nil {
		return nil, errors.New("signed order required")
	}
	side := string(exec.Buy)
	if order.Side != nil && order.Side.Int64() == int64(ordermodel.SELL) {
		side = string(exec.Sell)
	}
	return json.Marshal(orderPayload{
		Owner:     s.creds.Key,
		OrderType: orderType,
		Order: orderJSON{
			Salt:          order.Salt.Int64(),
			Maker:         order.Maker.Hex(),
			Signer:        order.Signer.Hex(),
			Taker:         order.Taker.Hex(),
			TokenID:       order.TokenId.String(),
			MakerAmount:   order.MakerAmount.String(),
			TakerAmount:   order.TakerAmount.String(),
			Expiration:    order.Expiration.String(),
			Nonce:         order.Nonce.String(),
			FeeRateBps:    order.FeeRateBps.String(),
			Side:          side,
			SignatureType: int(order.SignatureType.Int64()),
			Signature:     "0x" + common.Bytes2Hex(order.Signature),
		},
	})
}
