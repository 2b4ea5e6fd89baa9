package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/opsdesk/ticket-sync/internal/config"
)

const (
	incidentTable  = "/api/now/table/incident"
	groupTable     = "/api/now/table/sys_user_group"
	maxBodyLogSize = 64 << 10
)

// IncidentRequest carries the ticket fields sent to the remote system.
type IncidentRequest struct {
	ShortDescription string
	Description      string
	Category         string
	Priority         string
	AssignmentGroup  *string
}

// IncidentRef identifies a remote incident. Fields are empty when the remote omitted them.
type IncidentRef struct {
	Number string
	SysID  string
}

// Complete reports whether both identifiers were returned.
func (r IncidentRef) Complete() bool {
	return r.Number != "" && r.SysID != ""
}

type incidentPayload struct {
	ShortDescription string  `json:"short_description"`
	Description      string  `json:"description"`
	Category         string  `json:"category"`
	CallerID         string  `json:"caller_id"`
	Impact           int     `json:"impact"`
	Urgency          int     `json:"urgency"`
	AssignmentGroup  *string `json:"assignment_group"`
	ContactType      string  `json:"contact_type"`
}

type groupPayload struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type resultEnvelope struct {
	Result struct {
		Number string `json:"number"`
		SysID  string `json:"sys_id"`
		State  any    `json:"state"`
	} `json:"result"`
}

// Client talks to the remote incident Table API. It holds no ticket state.
type Client struct {
	baseURL     string
	username    string
	password    string
	callerSysID string
	contactType string
	http        *http.Client
	logger      *zap.Logger
}

// NewClient builds a client from explicit configuration.
func NewClient(cfg config.RemoteConfig, logger *zap.Logger) *Client {
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		username:    cfg.Username,
		password:    cfg.Password,
		callerSysID: cfg.CallerSysID,
		contactType: cfg.ContactType,
		http:        &http.Client{Timeout: cfg.Timeout()},
		logger:      logger,
	}
}

// CreateIncident posts a new incident and returns its identifiers.
func (c *Client) CreateIncident(ctx context.Context, req IncidentRequest) (IncidentRef, error) {
	impact, urgency := MapPriority(req.Priority)
	payload := incidentPayload{
		ShortDescription: req.ShortDescription,
		Description:      req.Description,
		Category:         req.Category,
		CallerID:         c.callerSysID,
		Impact:           impact,
		Urgency:          urgency,
		AssignmentGroup:  req.AssignmentGroup,
		ContactType:      c.contactType,
	}

	var env resultEnvelope
	if err := c.do(ctx, "create", http.MethodPost, c.baseURL+incidentTable, payload, &env); err != nil {
		return IncidentRef{}, err
	}
	return IncidentRef{Number: env.Result.Number, SysID: env.Result.SysID}, nil
}

// FetchStatus returns the remote incident state. Any failure yields ok=false.
func (c *Client) FetchStatus(ctx context.Context, sysID string) (string, bool) {
	if strings.TrimSpace(sysID) == "" {
		return "", false
	}
	var env resultEnvelope
	endpoint := c.baseURL + incidentTable + "/" + url.PathEscape(sysID)
	if err := c.do(ctx, "fetch", http.MethodGet, endpoint, nil, &env); err != nil {
		c.logger.Warn("remote status fetch failed", zap.String("sys_id", sysID), zap.Error(err))
		return "", false
	}
	state := stateString(env.Result.State)
	if state == "" {
		c.logger.Warn("remote status missing from response", zap.String("sys_id", sysID))
		return "", false
	}
	return state, true
}

// CreateGroup provisions an assignment group and returns its sys_id.
func (c *Client) CreateGroup(ctx context.Context, name, description string) (string, error) {
	var env resultEnvelope
	if err := c.do(ctx, "create group", http.MethodPost, c.baseURL+groupTable, groupPayload{Name: name, Description: description}, &env); err != nil {
		return "", err
	}
	return env.Result.SysID, nil
}

func (c *Client) do(ctx context.Context, op, method, endpoint string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("remote %s: encode payload: %w", op, err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("remote %s: build request: %w", op, err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyLogSize))
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &RejectionError{Op: op, Status: resp.StatusCode, Body: string(raw)}
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &RejectionError{Op: op, Status: resp.StatusCode, Body: string(raw)}
	}
	return nil
}

func stateString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case map[string]any:
		// display_value=all responses wrap fields as {"value": ..., "display_value": ...}
		if display, ok := s["display_value"].(string); ok && display != "" {
			return display
		}
		return stateString(s["value"])
	default:
		return ""
	}
}
