// Package stats forwards finished-game results to the statistics
// collaborators: the HTTP results endpoint and the Redis leaderboard.
package stats

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Pranay-ai/tic-tac-toe-be/internal/game"
)

// Report is one participant's result for one finished game.
type Report struct {
	Username string      `json:"username"`
	Result   game.Result `json:"result"`
	RoomID   string      `json:"room_id"`
}

func (r Report) Validate() error {
	if r.Username == "" {
		return errors.New("report: username must not be empty")
	}
	switch r.Result {
	case game.ResultWin, game.ResultLose, game.ResultDraw:
	default:
		return fmt.Errorf("report: unknown result %q", r.Result)
	}
	return nil
}

type Reporter interface {
	Report(ctx context.Context, r Report) error
}

// Multi fans a report out to every reporter and joins their errors.
type Multi []Reporter

func (m Multi) Report(ctx context.Context, r Report) error {
	var errs []error
	for _, rep := range m {
		if err := rep.Report(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HTTPReporter posts results as JSON to the statistics service.
type HTTPReporter struct {
	url    string
	client *http.Client
}

func NewHTTPReporter(url string, timeout time.Duration) *HTTPReporter {
	return &HTTPReporter{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (h *HTTPReporter) Report(ctx context.Context, r Report) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("error marshalling game result: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("error building game result request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("error posting game result: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("statistics service answered %s", resp.Status)
	}
	return nil
}
