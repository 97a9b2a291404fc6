package monitor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

// Moderation verdicts returned by the oracle.
const (
	VerdictAccepted = "Accepted"
	VerdictWarning  = "Warning"
	VerdictRejected = "Rejected"
)

// ModerationOutcome is the oracle's parsed verdict for one segment.
type ModerationOutcome struct {
	Result  string `json:"result"`
	Message string `json:"message"`
}

// Rejected reports whether the outcome demands a teardown.
func (o ModerationOutcome) Rejected() bool { return o.Result == VerdictRejected }

// OracleClient calls the external moderation service. The oracle is a shared
// upstream with real outage modes, so every call goes through a circuit
// breaker; an open breaker fails fast instead of piling up 60s timeouts
// across all active monitors.
type OracleClient struct {
	baseURL    string
	appName    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
}

func NewOracleClient(baseURL, appName string, logger *slog.Logger) *OracleClient {
	settings := gobreaker.Settings{
		Name:    "moderation-oracle",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("ORACLE_BREAKER_STATE_CHANGED", "from", from.String(), "to", to.String())
		},
	}
	return &OracleClient{
		baseURL:    baseURL,
		appName:    appName,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		breaker:    gobreaker.NewCircuitBreaker(settings),
		logger:     logger,
	}
}

type oracleRequest struct {
	AppName    string        `json:"appName"`
	UserID     string        `json:"userId"`
	SessionID  string        `json:"sessionId"`
	NewMessage oracleMessage `json:"newMessage"`
}

type oracleMessage struct {
	Role  string       `json:"role"`
	Parts []oraclePart `json:"parts"`
}

type oraclePart struct {
	InlineData *oracleInlineData `json:"inlineData,omitempty"`
	Text       string            `json:"text,omitempty"`
}

type oracleInlineData struct {
	Data        string `json:"data"`
	MimeType    string `json:"mimeType"`
	DisplayName string `json:"displayName"`
}

type oracleEvent struct {
	Content oracleMessage `json:"content"`
}

// Moderate submits one media segment for review and returns the parsed
// verdict.
func (c *OracleClient) Moderate(ctx context.Context, userID, streamID string, segment []byte) (ModerationOutcome, error) {
	reqBody := oracleRequest{
		AppName:   c.appName,
		UserID:    userID,
		SessionID: streamID,
		NewMessage: oracleMessage{
			Role: "user",
			Parts: []oraclePart{{
				InlineData: &oracleInlineData{
					Data:        base64.StdEncoding.EncodeToString(segment),
					MimeType:    "video/mp2t",
					DisplayName: streamID + ".ts",
				},
			}},
		},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return ModerationOutcome{}, fmt.Errorf("oracle: marshal request: %w", err)
	}

	raw, err := c.breaker.Execute(func() (any, error) {
		return c.post(ctx, payload)
	})
	if err != nil {
		return ModerationOutcome{}, err
	}

	return parseVerdict(raw.([]byte))
}

func (c *OracleClient) post(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/run", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("oracle: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oracle: call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("oracle: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oracle: status %d: %s", resp.StatusCode, body)
	}
	return body, nil
}

// parseVerdict extracts the verdict JSON from the oracle response. The
// oracle replies with an event list whose final text part carries the
// verdict, usually wrapped in markdown fences.
func parseVerdict(body []byte) (ModerationOutcome, error) {
	var events []oracleEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return ModerationOutcome{}, fmt.Errorf("oracle: decode events: %w", err)
	}

	var text string
	for _, ev := range events {
		for _, part := range ev.Content.Parts {
			if part.Text != "" {
				text = part.Text
			}
		}
	}
	if text == "" {
		return ModerationOutcome{}, fmt.Errorf("oracle: empty verdict")
	}

	var outcome ModerationOutcome
	if err := json.Unmarshal([]byte(stripFences(text)), &outcome); err != nil {
		return ModerationOutcome{}, fmt.Errorf("oracle: decode verdict: %w", err)
	}
	return outcome, nil
}

// stripFences removes a surrounding markdown code fence, with or without a
// language tag.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 && !strings.HasPrefix(s, "{") {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
