package payments

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	config "darasapay/configs"
)

const (
	tokenPath     = "/oauth/v1/generate?grant_type=client_credentials"
	stkPushPath   = "/mpesa/stkpush/v1/processrequest"
	stkQueryPath  = "/mpesa/stkpushquery/v1/query"
	callbackRoute = "/api/v1/payments/webhook"

	timestampLayout = "20060102150405"

	// Daraja error code for a push that was accepted but has not settled yet.
	errCodeProcessing = "500.001.1001"
)

// PushResult is the gateway's synchronous answer to an STK push. A non-zero
// ResponseCode means the gateway was reached and rejected the request, a
// business outcome, not an error. PhoneNumber carries the sanitized MSISDN
// the push was actually sent to, so callers persist exactly what went out.
type PushResult struct {
	CheckoutRequestID string
	MerchantRequestID string
	PhoneNumber       string
	ResponseCode      string
	ResponseDesc      string
	CustomerMessage   string
}

func (r *PushResult) Accepted() bool { return r.ResponseCode == "0" }

type QueryState string

const (
	// QueryResolved: the gateway has a final ResultCode for the attempt.
	QueryResolved QueryState = "resolved"
	// QueryProcessing: the push is still in flight on the gateway side.
	QueryProcessing QueryState = "processing"
	// QueryNotFound: the gateway has no record of the checkout request.
	QueryNotFound QueryState = "not_found"
)

type QueryOutcome struct {
	State      QueryState
	ResultCode string
	ResultDesc string
}

// Client is the outbound gateway surface. The callback processor, verifier
// and retry path all talk to M-Pesa through this so they can be tested with
// a fake.
type Client interface {
	Authenticate(ctx context.Context) (string, error)
	InitiatePush(ctx context.Context, phone string, amount float64, reference, description string) (*PushResult, error)
	QueryStatus(ctx context.Context, checkoutRequestID string) (*QueryOutcome, error)
}

type DarajaClient struct {
	cfg        *config.Config
	httpClient *http.Client

	tokenMutex  sync.RWMutex
	token       string
	tokenExpiry time.Time
}

var _ Client = (*DarajaClient)(nil)

func NewDarajaClient(cfg *config.Config) *DarajaClient {
	return &DarajaClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// Authenticate returns a bearer token, reusing the cached one until shortly
// before it expires.
func (c *DarajaClient) Authenticate(ctx context.Context) (string, error) {
	c.tokenMutex.RLock()
	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		token := c.token
		c.tokenMutex.RUnlock()
		return token, nil
	}
	c.tokenMutex.RUnlock()

	c.tokenMutex.Lock()
	defer c.tokenMutex.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	log.Println("Fetching new M-Pesa access token...")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.MpesaBaseURL+tokenPath, nil)
	if err != nil {
		return "", &GatewayError{Op: "token", Err: err}
	}
	req.SetBasicAuth(c.cfg.MpesaConsumerKey, c.cfg.MpesaConsumerSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &GatewayError{Op: "token", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &GatewayError{Op: "token", Err: fmt.Errorf("token endpoint returned status %d", resp.StatusCode)}
	}

	var tokenResp tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", &GatewayError{Op: "token", Err: fmt.Errorf("malformed token response: %v", err)}
	}
	if tokenResp.AccessToken == "" {
		return "", &GatewayError{Op: "token", Err: fmt.Errorf("token response missing access_token")}
	}

	expiresIn, err := strconv.Atoi(tokenResp.ExpiresIn)
	if err != nil || expiresIn <= 0 {
		expiresIn = 3600
	}

	c.token = tokenResp.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(expiresIn-300) * time.Second)
	return c.token, nil
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            string `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// InitiatePush validates the caller's input, then sends a signed STK push.
// Validation failures never reach the network.
func (c *DarajaClient) InitiatePush(ctx context.Context, phone string, amount float64, reference, description string) (*PushResult, error) {
	sanitizedPhone, err := SanitizePhoneNumber(phone)
	if err != nil {
		return nil, err
	}
	if amount < c.cfg.AmountMin || amount > c.cfg.AmountMax {
		return nil, &ValidationError{
			Field:   "amount",
			Message: fmt.Sprintf("must be between %.0f and %.0f", c.cfg.AmountMin, c.cfg.AmountMax),
		}
	}
	// The gateway only takes whole shillings; rounding here would push a
	// different amount than the one recorded against the payment.
	if amount != math.Trunc(amount) {
		return nil, &ValidationError{Field: "amount", Message: "must be a whole number of shillings"}
	}
	if strings.TrimSpace(reference) == "" {
		return nil, &ValidationError{Field: "reference", Message: "must not be empty"}
	}

	accessToken, err := c.Authenticate(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := time.Now().Format(timestampLayout)
	if description == "" {
		description = c.cfg.TransactionDesc
	}
	payload := stkPushRequest{
		BusinessShortCode: c.cfg.MpesaShortcode,
		Password:          c.signature(timestamp),
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            strconv.FormatFloat(amount, 'f', 0, 64),
		PartyA:            sanitizedPhone,
		PartyB:            c.cfg.MpesaShortcode,
		PhoneNumber:       sanitizedPhone,
		CallBackURL:       c.cfg.CallbackBaseURL + callbackRoute,
		AccountReference:  reference,
		TransactionDesc:   description,
	}

	var stkResp stkPushResponse
	if err := c.postJSON(ctx, "stkpush", stkPushPath, accessToken, payload, &stkResp); err != nil {
		return nil, err
	}
	if stkResp.CheckoutRequestID == "" {
		return nil, &GatewayError{Op: "stkpush", Err: fmt.Errorf("response missing CheckoutRequestID")}
	}

	if stkResp.ResponseCode != "0" {
		log.Printf("STK push rejected by gateway: %s %s", stkResp.ResponseCode, stkResp.ResponseDescription)
	}

	return &PushResult{
		CheckoutRequestID: stkResp.CheckoutRequestID,
		MerchantRequestID: stkResp.MerchantRequestID,
		PhoneNumber:       sanitizedPhone,
		ResponseCode:      stkResp.ResponseCode,
		ResponseDesc:      stkResp.ResponseDescription,
		CustomerMessage:   stkResp.CustomerMessage,
	}, nil
}

type stkQueryRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type stkQueryResponse struct {
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResultCode          string `json:"ResultCode"`
	ResultDesc          string `json:"ResultDesc"`
}

type gatewayErrorBody struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// QueryStatus asks the gateway for the outcome of a previously sent push,
// using the same signing scheme. The gateway reports "still processing" and
// "no such transaction" through error responses; both are mapped to explicit
// outcomes so the verifier can tell them apart from real transport failures.
func (c *DarajaClient) QueryStatus(ctx context.Context, checkoutRequestID string) (*QueryOutcome, error) {
	if checkoutRequestID == "" {
		return nil, &ValidationError{Field: "checkoutRequestId", Message: "must not be empty"}
	}

	accessToken, err := c.Authenticate(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := time.Now().Format(timestampLayout)
	payload := stkQueryRequest{
		BusinessShortCode: c.cfg.MpesaShortcode,
		Password:          c.signature(timestamp),
		Timestamp:         timestamp,
		CheckoutRequestID: checkoutRequestID,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &GatewayError{Op: "stkquery", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.MpesaBaseURL+stkQueryPath, bytes.NewBuffer(body))
	if err != nil {
		return nil, &GatewayError{Op: "stkquery", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &GatewayError{Op: "stkquery", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &GatewayError{Op: "stkquery", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		var gwErr gatewayErrorBody
		if json.Unmarshal(respBody, &gwErr) == nil {
			if gwErr.ErrorCode == errCodeProcessing {
				return &QueryOutcome{State: QueryProcessing, ResultDesc: gwErr.ErrorMessage}, nil
			}
			if strings.HasPrefix(gwErr.ErrorCode, "404") || strings.Contains(gwErr.ErrorMessage, "does not exist") {
				return &QueryOutcome{State: QueryNotFound, ResultDesc: gwErr.ErrorMessage}, nil
			}
		}
		return nil, &GatewayError{Op: "stkquery", Err: fmt.Errorf("query endpoint returned status %d", resp.StatusCode)}
	}

	var queryResp stkQueryResponse
	if err := json.Unmarshal(respBody, &queryResp); err != nil {
		return nil, &GatewayError{Op: "stkquery", Err: fmt.Errorf("malformed query response: %v", err)}
	}
	if queryResp.ResultCode == "" {
		return &QueryOutcome{State: QueryProcessing, ResultDesc: queryResp.ResponseDescription}, nil
	}

	return &QueryOutcome{
		State:      QueryResolved,
		ResultCode: queryResp.ResultCode,
		ResultDesc: queryResp.ResultDesc,
	}, nil
}

// signature builds the gateway password: base64(shortcode + passkey + timestamp).
func (c *DarajaClient) signature(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(c.cfg.MpesaShortcode + c.cfg.MpesaPasskey + timestamp))
}

func (c *DarajaClient) postJSON(ctx context.Context, op, path, accessToken string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &GatewayError{Op: op, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.MpesaBaseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return &GatewayError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &GatewayError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &GatewayError{Op: op, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		log.Printf("M-Pesa %s returned status %d: %s", op, resp.StatusCode, string(respBody))
		return &GatewayError{Op: op, Err: fmt.Errorf("%s endpoint returned status %d", op, resp.StatusCode)}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return &GatewayError{Op: op, Err: fmt.Errorf("malformed %s response: %v", op, err)}
	}
	return nil
}
