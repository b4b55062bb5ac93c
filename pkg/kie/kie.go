package kie

import (
	"context"
	"errors"
	"fmt"

	"github.com/vinylai/vinylai/pkg/poll"
)

type musicRequest struct {
	Prompt   string   `json:"prompt"`
	Title    string   `json:"title,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Duration int      `json:"duration,omitempty"`
	Model    string   `json:"model,omitempty"`
}

type musicResponse struct {
	TaskID string `json:"taskId"`
	Status string `json:"status"`
}

// MusicOptions tunes a synthesis submission.
type MusicOptions struct {
	Title    string
	Tags     []string
	Duration int
	Model    string
}

// GenerateMusic submits an asynchronous music synthesis task and returns its
// task id. The task must be driven to completion with MusicTask.
func (c *Client) GenerateMusic(ctx context.Context, prompt string, opts *MusicOptions) (string, error) {
	req := &musicRequest{
		Prompt: prompt,
	}
	if opts != nil {
		req.Title = opts.Title
		req.Tags = opts.Tags
		req.Duration = opts.Duration
		req.Model = opts.Model
	}
	if req.Duration == 0 {
		req.Duration = 30
	}
	if req.Model == "" {
		req.Model = "V4_5"
	}
	var resp musicResponse
	if _, err := c.do(ctx, "POST", "suno/generate", req, &resp); err != nil {
		return "", fmt.Errorf("kie: couldn't generate music: %w", err)
	}
	if resp.TaskID == "" {
		return "", errors.New("kie: empty task id")
	}
	return resp.TaskID, nil
}

type taskResponse struct {
	TaskID       string `json:"taskId"`
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage"`
	Response     struct {
		SunoData []trackData `json:"sunoData"`
	} `json:"response"`
}

type trackData struct {
	ID       string `json:"id"`
	AudioURL string `json:"audioUrl"`
	ImageURL string `json:"imageUrl"`
	Title    string `json:"title"`
}

// MusicTask checks the status of a synthesis task and maps the remote payload
// to a poll report.
func (c *Client) MusicTask(ctx context.Context, taskID string) (*poll.Report, error) {
	var resp taskResponse
	u := fmt.Sprintf("suno/task/%s", taskID)
	if _, err := c.do(ctx, "GET", u, nil, &resp); err != nil {
		return nil, fmt.Errorf("kie: couldn't get task %s: %w", taskID, err)
	}
	report := &poll.Report{
		Err: resp.ErrorMessage,
	}
	switch resp.Status {
	case "PENDING":
		report.State = poll.Pending
	case "PROCESSING", "TEXT_SUCCESS":
		report.State = poll.Processing
	case "FIRST_SUCCESS":
		report.State = poll.SuccessPartial
	case "SUCCESS":
		report.State = poll.Success
	case "FAILED", "CREATE_TASK_FAILED", "GENERATE_AUDIO_FAILED":
		report.State = poll.Failed
		if report.Err == "" {
			report.Err = resp.Status
		}
	default:
		return nil, fmt.Errorf("kie: unknown task status %q", resp.Status)
	}
	for _, t := range resp.Response.SunoData {
		report.Tracks = append(report.Tracks, poll.Track{
			ID:    t.ID,
			Audio: t.AudioURL,
			Image: t.ImageURL,
		})
	}
	return report, nil
}

type imageRequest struct {
	Prompt string `json:"prompt"`
	Size   string `json:"size,omitempty"`
	Format string `json:"format,omitempty"`
}

type imageResponse struct {
	ImageURL string `json:"imageUrl"`
}

// GenerateImage synthesizes a cover image for a description and returns its
// URL. The prompt wraps the description in a fixed album cover instruction.
func (c *Client) GenerateImage(ctx context.Context, description, style string) (string, error) {
	if style == "" {
		style = "Vintage vinyl record style, high quality, detailed"
	}
	req := &imageRequest{
		Prompt: fmt.Sprintf("Create a circular album cover image for: %s. %s", description, style),
		Size:   "512x512",
		Format: "png",
	}
	var resp imageResponse
	if _, err := c.do(ctx, "POST", "image/generate", req, &resp); err != nil {
		return "", fmt.Errorf("kie: couldn't generate image: %w", err)
	}
	if resp.ImageURL == "" {
		return "", errors.New("kie: empty image url")
	}
	return resp.ImageURL, nil
}
