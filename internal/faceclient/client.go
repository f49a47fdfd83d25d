package faceclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SearchMatch is one candidate from a 1:N gallery search.
type SearchMatch struct {
	SontaHeadID string  `json:"sonta_head_id"`
	Similarity  float64 `json:"similarity"`
	Name        string  `json:"name,omitempty"`
}

// Client calls the face recognition microservice. It implements the
// engine's Matcher contract: a captured image in, the best candidate and a
// confidence in [0,1] out. Any transport or service failure is an error,
// which the engine surfaces as capability-unavailable; "nobody matched" is
// an empty id, not an error.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// SkipMemberID is the candidate returned in skip mode so local development
// works without the face service running.
const SkipMemberID = "mock-sonta-head"

// New creates a client. skip short-circuits all calls with mock results.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 30 * time.Second, // Face processing can take time
		},
	}
}

// Match runs a 1:N search over the enrolled gallery and returns the best
// candidate with its confidence. An empty member id means no face was
// detected or nobody in the gallery matched.
func (c *Client) Match(ctx context.Context, image []byte) (string, float64, error) {
	if c.Skip {
		return SkipMemberID, 0.95, nil
	}
	if len(image) == 0 {
		return "", 0, nil
	}

	payload, _ := json.Marshal(map[string]any{
		"image": base64.StdEncoding.EncodeToString(image),
		"top_k": 1,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return "", 0, fmt.Errorf("face service error %s: %s", resp.Status, string(body))
	}

	var out struct {
		Matches       []SearchMatch `json:"matches"`
		FacesDetected int           `json:"faces_detected"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", 0, fmt.Errorf("failed to decode response: %w", err)
	}
	if out.FacesDetected == 0 || len(out.Matches) == 0 {
		return "", 0, nil
	}

	best := out.Matches[0]
	return best.SontaHeadID, best.Similarity, nil
}

// Health checks if the face service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}

	return nil
}
