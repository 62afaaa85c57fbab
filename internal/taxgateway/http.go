package taxgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"pagos/internal/core"
	"pagos/internal/invoicing"
)

// HTTPClient submits documents as JSON to {baseURL}/documents.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewHTTPClient builds a client. The per-call deadline comes from the caller's
// context; timeout only bounds the transport as a backstop.
func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

type wireParty struct {
	TaxID     string `json:"tax_id"`
	LegalName string `json:"legal_name"`
	Address   string `json:"address,omitempty"`
	Email     string `json:"email,omitempty"`
}

type wireItem struct {
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	Subtotal    string `json:"subtotal"`
	Tax         string `json:"tax"`
	Total       string `json:"total"`
}

type wireTotals struct {
	Subtotal string `json:"subtotal"`
	Tax      string `json:"tax"`
	Total    string `json:"total"`
	Currency string `json:"currency"`
}

type wireRequest struct {
	DocumentType string     `json:"document_type"`
	Series       string     `json:"series"`
	Customer     wireParty  `json:"customer"`
	Items        []wireItem `json:"items"`
	Totals       wireTotals `json:"totals"`
}

type wireResponse struct {
	Series       string `json:"series"`
	Number       int64  `json:"number"`
	Accepted     bool   `json:"accepted"`
	ResponseCode string `json:"response_code"`
	Description  string `json:"description"`
	PDFURL       string `json:"pdf_url"`
	XMLURL       string `json:"xml_url"`
}

func toWire(sub invoicing.Submission) wireRequest {
	req := wireRequest{
		DocumentType: string(sub.DocumentType),
		Series:       sub.SeriesHint,
		Customer: wireParty{
			TaxID:     sub.Payer.TaxID,
			LegalName: sub.Payer.LegalName,
			Address:   sub.Payer.Address,
			Email:     sub.Payer.Email,
		},
		Totals: wireTotals{
			Subtotal: sub.Totals.Subtotal.String(),
			Tax:      sub.Totals.Tax.String(),
			Total:    sub.Totals.Total.String(),
			Currency: sub.Totals.Currency,
		},
	}
	for _, li := range sub.LineItems {
		req.Items = append(req.Items, wireItem{
			Description: li.Description,
			Quantity:    li.Quantity,
			UnitPrice:   li.UnitPrice.String(),
			Subtotal:    li.Subtotal.String(),
			Tax:         li.Tax.String(),
			Total:       li.Total.String(),
		})
	}
	return req
}

// Submit posts the document. 2xx and 422 bodies are decoded as results (422
// being a definitive rejection); other statuses and transport errors are
// returned as core.ErrGatewayUnavailable or core.ErrGatewayTimeout.
func (c *HTTPClient) Submit(ctx context.Context, sub invoicing.Submission) (invoicing.Result, error) {
	body, err := json.Marshal(toWire(sub))
	if err != nil {
		return invoicing.Result{}, fmt.Errorf("marshal submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/documents", bytes.NewReader(body))
	if err != nil {
		return invoicing.Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if sub.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", sub.IdempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return invoicing.Result{}, fmt.Errorf("%w: %v", core.ErrGatewayTimeout, err)
		}
		return invoicing.Result{}, fmt.Errorf("%w: %v", core.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return invoicing.Result{}, fmt.Errorf("%w: read response: %v", core.ErrGatewayUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300, resp.StatusCode == http.StatusUnprocessableEntity:
		var wr wireResponse
		if err := json.Unmarshal(raw, &wr); err != nil {
			return invoicing.Result{}, fmt.Errorf("%w: decode response: %v", core.ErrGatewayUnavailable, err)
		}
		if resp.StatusCode == http.StatusUnprocessableEntity {
			wr.Accepted = false
		}
		return invoicing.Result{
			Series:       wr.Series,
			Number:       wr.Number,
			Accepted:     wr.Accepted,
			ResponseCode: wr.ResponseCode,
			Description:  wr.Description,
			PDFURL:       wr.PDFURL,
			XMLURL:       wr.XMLURL,
		}, nil
	case resp.StatusCode == http.StatusGatewayTimeout || resp.StatusCode == http.StatusRequestTimeout:
		return invoicing.Result{}, fmt.Errorf("%w: status %d", core.ErrGatewayTimeout, resp.StatusCode)
	default:
		return invoicing.Result{}, fmt.Errorf("%w: status %d: %s",
			core.ErrGatewayUnavailable, resp.StatusCode, strings.TrimSpace(string(truncate(raw, 200))))
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
