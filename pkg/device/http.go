package device

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultPort is the device daemon port.
const DefaultPort = 8000

// httpClient is shared by all HTTPController instances. The short timeout
// keeps a stalled daemon from blocking the 40 Hz servo loop.
var httpClient = &http.Client{
	Timeout: 2 * time.Second,
}

// HTTPController implements Controller using the daemon's HTTP API.
type HTTPController struct {
	BaseURL string
}

// NewHTTPController creates a controller for the daemon at host.
func NewHTTPController(host string) *HTTPController {
	return &HTTPController{
		BaseURL: fmt.Sprintf("http://%s:%d", host, DefaultPort),
	}
}

// SetServoPulse sets the pulse length of one servo hat channel.
func (d *HTTPController) SetServoPulse(channel, pulse int) error {
	payload := map[string]int{
		"channel": channel,
		"pulse":   pulse,
	}
	return d.post("/api/servo/pulse", payload)
}

// WriteMatrix replaces the frame shown by the matrix at address.
func (d *HTTPController) WriteMatrix(address byte, rows [MatrixSize]byte) error {
	// []byte would marshal as base64.
	values := make([]int, MatrixSize)
	for i, r := range rows {
		values[i] = int(r)
	}
	payload := map[string]interface{}{
		"address": address,
		"rows":    values,
	}
	return d.post("/api/matrix/write", payload)
}

// GetDaemonStatus returns the daemon state.
func (d *HTTPController) GetDaemonStatus() (string, error) {
	resp, err := httpClient.Get(d.BaseURL + "/api/daemon/status")
	if err != nil {
		return "", fmt.Errorf("daemon status request failed: %w", err)
	}
	defer resp.Body.Close()

	var status struct {
		State string `json:"state"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return "", fmt.Errorf("failed to decode daemon status: %w", err)
	}

	return status.State, nil
}

func (d *HTTPController) post(path string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", path, err)
	}

	resp, err := httpClient.Post(d.BaseURL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%s request failed: %w", path, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s: daemon returned HTTP %d", path, resp.StatusCode)
	}
	return nil
}
