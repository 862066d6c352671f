// Package notion queries the project tracker for open tasks. It speaks the
// tracker's HTTP API directly; only the database-query endpoint is needed.
package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// DefaultBaseURL is the tracker API endpoint.
const DefaultBaseURL = "https://api.notion.com"

const apiVersion = "2022-06-28"

// DefaultLookbackDays bounds the created-time window for task queries.
const DefaultLookbackDays = 90

// trackedStatuses are the non-terminal or recently-terminal states worth
// reporting on.
var trackedStatuses = []string{"In progress", "Testing", "Done"}

// Assignee is one person assigned to a task.
type Assignee struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Task is one tracker page mapped to the shape the agents consume.
type Task struct {
	CreatedTime    string     `json:"created_time"`
	LastEditedTime string     `json:"last_edited_time"`
	Title          string     `json:"title"`
	URL            string     `json:"url"`
	Status         string     `json:"status"`
	Assignees      []Assignee `json:"assignees"`
}

// Client queries one tracker database.
type Client struct {
	baseURL    string
	apiKey     string
	databaseID string
	http       *http.Client
	logger     zerolog.Logger
	now        func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint. Used by tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithLogger sets the client logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient creates a tracker client for one database.
func NewClient(apiKey, databaseID string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if databaseID == "" {
		return nil, fmt.Errorf("database id is required")
	}

	c := &Client{
		baseURL:    DefaultBaseURL,
		apiKey:     apiKey,
		databaseID: databaseID,
		http:       &http.Client{Timeout: 30 * time.Second},
		logger:     zerolog.Nop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FetchTasks queries tasks in a tracked status, with no sub-items, created
// within the lookback window.
func (c *Client) FetchTasks(ctx context.Context, lookbackDays int) ([]Task, error) {
	if lookbackDays <= 0 {
		lookbackDays = DefaultLookbackDays
	}

	filter := c.buildFilter(lookbackDays)
	body, err := json.Marshal(map[string]interface{}{"filter": filter})
	if err != nil {
		return nil, fmt.Errorf("failed to encode query: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/databases/%s/query", c.baseURL, c.databaseID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build query request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Notion-Version", apiVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read query response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("query returned status %d: %s", resp.StatusCode, string(data))
	}

	var out queryResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode query response: %w", err)
	}

	tasks := make([]Task, 0, len(out.Results))
	for _, page := range out.Results {
		if page.Object != "page" {
			continue
		}
		tasks = append(tasks, page.toTask())
	}

	c.logger.Debug().Int("tasks", len(tasks)).Msg("Fetched tracker tasks")
	return tasks, nil
}

func (c *Client) buildFilter(lookbackDays int) map[string]interface{} {
	statusClauses := make([]map[string]interface{}, 0, len(trackedStatuses))
	for _, s := range trackedStatuses {
		statusClauses = append(statusClauses, map[string]interface{}{
			"property": "Status",
			"status":   map[string]string{"equals": s},
		})
	}

	onOrAfter := c.now().AddDate(0, 0, -lookbackDays).Format("2006-01-02")

	return map[string]interface{}{
		"and": []map[string]interface{}{
			{"or": statusClauses},
			{
				"property": "Sub-tasks",
				"relation": map[string]bool{"is_empty": true},
			},
			{
				"property": "Created time",
				"date":     map[string]string{"on_or_after": onOrAfter},
			},
		},
	}
}

type queryResponse struct {
	Results []page `json:"results"`
}

type page struct {
	Object         string `json:"object"`
	CreatedTime    string `json:"created_time"`
	LastEditedTime string `json:"last_edited_time"`
	URL            string `json:"url"`
	Properties     struct {
		Task struct {
			Title []struct {
				Text struct {
					Content string `json:"content"`
				} `json:"text"`
			} `json:"title"`
		} `json:"Task"`
		Status struct {
			Status struct {
				Name string `json:"name"`
			} `json:"status"`
		} `json:"Status"`
		Assignee struct {
			People []struct {
				Name   string `json:"name"`
				Person struct {
					Email string `json:"email"`
				} `json:"person"`
			} `json:"people"`
		} `json:"Assignee"`
	} `json:"properties"`
}

func (p page) toTask() Task {
	task := Task{
		CreatedTime:    p.CreatedTime,
		LastEditedTime: p.LastEditedTime,
		URL:            p.URL,
		Status:         p.Properties.Status.Status.Name,
	}
	if len(p.Properties.Task.Title) > 0 {
		task.Title = p.Properties.Task.Title[0].Text.Content
	}
	task.Assignees = make([]Assignee, 0, len(p.Properties.Assignee.People))
	for _, person := range p.Properties.Assignee.People {
		name := person.Name
		if name == "" {
			name = "UNKNOWN"
		}
		email := person.Person.Email
		if email == "" {
			email = "UNKNOWN"
		}
		task.Assignees = append(task.Assignees, Assignee{Name: name, Email: email})
	}
	return task
}
