package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mvrodrig/tillsync/pkg/config"
	pkgerrors "github.com/mvrodrig/tillsync/pkg/errors"
	"github.com/mvrodrig/tillsync/pkg/logger"
)

var errLoggerRequired = errors.New("remote logger is required")

// SubmitRequest carries one queued intent to the acceptance endpoint. The
// intent id doubles as the idempotency key so the remote can recognize a
// retry of an already-processed submission.
type SubmitRequest struct {
	IntentID   uuid.UUID
	TerminalID string
	Payload    json.RawMessage
}

// SaleRecord is the remote confirmation for a processed payment.
type SaleRecord struct {
	SaleID    string    `json:"saleId"`
	ReceiptNo string    `json:"receiptNo"`
	BookedAt  time.Time `json:"bookedAt"`
}

// ConflictInfo describes a 409 response: the remote already holds a sale for
// this intent, so the original attempt likely succeeded.
type ConflictInfo struct {
	Message   string `json:"message"`
	SaleID    string `json:"saleId"`
	ReceiptNo string `json:"receiptNo"`
}

// Client wraps the payment acceptance endpoint with centralized idempotency
// headers and error classification.
type Client struct {
	httpClient *http.Client
	baseURL    string
	path       string
	token      string
	logger     *logger.Logger
}

// NewClient initializes the remote wrapper.
func NewClient(cfg config.RemoteConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		return nil, errors.New("remote base URL is required")
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.SubmitTimeout},
		baseURL:    baseURL,
		path:       cfg.PaymentsPath,
		token:      cfg.APIToken,
		logger:     logg,
	}, nil
}

type submitBody struct {
	ClientRef  string          `json:"clientRef"`
	TerminalID string          `json:"terminalId"`
	Payment    json.RawMessage `json:"payment"`
}

type errorBody struct {
	Message   string `json:"message"`
	SaleID    string `json:"saleId"`
	ReceiptNo string `json:"receiptNo"`
}

// Submit posts one intent. Outcomes map onto the error taxonomy: nil error
// is a confirmed sale, CodeConflict carries ConflictInfo details,
// CodeValidation is a permanent payload rejection, CodeDependency covers
// network faults, timeouts and 5xx.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (*SaleRecord, error) {
	body, err := json.Marshal(submitBody{
		ClientRef:  req.IntentID.String(),
		TerminalID: req.TerminalID,
		Payment:    req.Payload,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding submission")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.path, bytes.NewReader(body))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "building submission request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IntentID.String())
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment endpoint unreachable")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reading payment response")
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var sale SaleRecord
		if err := json.Unmarshal(raw, &sale); err != nil {
			// The charge went through; a malformed body must not trigger a
			// resubmission.
			c.logger.Warn(c.logger.WithIntentID(ctx, req.IntentID.String()),
				"sale confirmed but response body was unreadable")
			return &SaleRecord{}, nil
		}
		return &sale, nil

	case resp.StatusCode == http.StatusConflict:
		var detail errorBody
		_ = json.Unmarshal(raw, &detail)
		msg := detail.Message
		if msg == "" {
			msg = "sale already exists for this reference"
		}
		return nil, pkgerrors.New(pkgerrors.CodeConflict, msg).WithDetails(ConflictInfo{
			Message:   msg,
			SaleID:    detail.SaleID,
			ReceiptNo: detail.ReceiptNo,
		})

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		var detail errorBody
		_ = json.Unmarshal(raw, &detail)
		msg := detail.Message
		if msg == "" {
			msg = fmt.Sprintf("payment rejected with status %d", resp.StatusCode)
		}
		return nil, pkgerrors.New(pkgerrors.CodeValidation, msg)

	default:
		return nil, pkgerrors.New(pkgerrors.CodeDependency,
			fmt.Sprintf("payment endpoint returned status %d", resp.StatusCode))
	}
}
