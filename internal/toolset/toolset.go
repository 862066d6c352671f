// Package toolset registers the model-callable tools against the registry,
// bridging them to the workspace, tracker, and reporting clients.
package toolset

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/longnt/sage/internal/notion"
	"github.com/longnt/sage/internal/slack"
	"github.com/longnt/sage/pkg/tools"
)

// RequestMarker prefixes the monitoring messages the request tools care
// about; everything else in the channel is noise.
const RequestMarker = "*REQUEST COUNTER*"

// SlackAPI is the workspace surface the tools need.
type SlackAPI interface {
	ConversationsHistory(ctx context.Context, channelID string, limit int, oldest time.Time) ([]slack.HistoryMessage, error)
	ConversationsList(ctx context.Context) ([]slack.Channel, error)
	UsersList(ctx context.Context) ([]slack.User, error)
}

// TaskSource fetches open tracker tasks.
type TaskSource interface {
	FetchTasks(ctx context.Context, lookbackDays int) ([]notion.Task, error)
}

// ReportSource fetches the request-count report.
type ReportSource interface {
	Fetch(ctx context.Context, fromDate, toDate string) (map[string]interface{}, error)
}

// Deps carries the external clients the tools delegate to.
type Deps struct {
	Slack   SlackAPI
	Tasks   TaskSource
	Reports ReportSource
	Logger  zerolog.Logger
	Now     func() time.Time
}

// Register wires every tool into the registry.
func Register(r *tools.Registry, deps Deps) error {
	if deps.Now == nil {
		deps.Now = time.Now
	}

	defs := []tools.Definition{
		{
			Name:        "fetch_channel_messages",
			Description: "Fetch request-counter messages from a channel within a lookback window.",
			Parameters: []tools.Parameter{
				{Name: "channel_id", Type: "string", Description: "The ID of the channel to fetch messages from.", Required: true},
				{Name: "limit", Type: "integer", Description: "The maximum number of messages to fetch.", Required: true},
				{Name: "days", Type: "integer", Description: "The number of days to look back for messages.", Required: true},
			},
			Handler: fetchChannelMessages(deps),
		},
		{
			Name:        "get_list_of_channels",
			Description: "Fetch a list of channels in the workspace with their IDs and names.",
			Handler: func(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
				deps.Logger.Info().Str("tool", "get_list_of_channels").Msg("Tool invoked")
				return deps.Slack.ConversationsList(ctx)
			},
		},
		{
			Name:        "get_list_of_users",
			Description: "Fetch a list of workspace users with their IDs and names. Bot accounts are excluded.",
			Handler: func(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
				deps.Logger.Info().Str("tool", "get_list_of_users").Msg("Tool invoked")
				return deps.Slack.UsersList(ctx)
			},
		},
		{
			Name:        "fetch_notion_tasks",
			Description: "Fetch open tasks from the project tracker, newest window first.",
			Parameters: []tools.Parameter{
				{Name: "days", Type: "integer", Description: "The number of days to look back for tasks."},
			},
			Handler: fetchNotionTasks(deps),
		},
		{
			Name:        "get_request_report",
			Description: "Fetch the request report between two dates in YYYY-MM-DD format.",
			Parameters: []tools.Parameter{
				{Name: "from_date", Type: "string", Description: "The start date in YYYY-MM-DD format.", Required: true},
				{Name: "to_date", Type: "string", Description: "The end date in YYYY-MM-DD format.", Required: true},
			},
			Handler: getRequestReport(deps),
		},
		{
			Name:        "summation_tool",
			Description: "Perform the summation of an array of integers.",
			Parameters: []tools.Parameter{
				{Name: "array", Type: "array", Description: "The integers to sum.", Required: true, Items: "integer"},
			},
			Handler: summation(deps),
		},
		{
			Name:        "get_today_date",
			Description: "Returns today's date in YYYY-MM-DD format.",
			Handler: func(_ context.Context, _ map[string]interface{}) (interface{}, error) {
				deps.Logger.Info().Str("tool", "get_today_date").Msg("Tool invoked")
				return deps.Now().Format("2006-01-02"), nil
			},
		},
	}

	for _, def := range defs {
		if err := r.Register(def); err != nil {
			return fmt.Errorf("failed to register %s: %w", def.Name, err)
		}
	}
	return nil
}

// FilteredMessage is one request-counter record.
type FilteredMessage struct {
	Time    string `json:"time"`
	Content string `json:"content"`
}

func fetchChannelMessages(deps Deps) tools.Handler {
	return func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		channelID, err := stringArg(args, "channel_id")
		if err != nil {
			return nil, err
		}
		limit, err := intArg(args, "limit")
		if err != nil {
			return nil, err
		}
		days, err := intArg(args, "days")
		if err != nil {
			return nil, err
		}

		deps.Logger.Info().
			Str("tool", "fetch_channel_messages").
			Str("channel_id", channelID).
			Int("limit", limit).
			Int("days", days).
			Msg("Tool invoked")

		oldest := deps.Now().AddDate(0, 0, -days)
		messages, err := deps.Slack.ConversationsHistory(ctx, channelID, limit, oldest)
		if err != nil {
			return nil, err
		}

		filtered := make([]FilteredMessage, 0, len(messages))
		for _, m := range messages {
			if !strings.HasPrefix(m.Text, RequestMarker) {
				continue
			}
			filtered = append(filtered, FilteredMessage{Time: m.TS, Content: m.Text})
		}
		return filtered, nil
	}
}

func fetchNotionTasks(deps Deps) tools.Handler {
	return func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		days := notion.DefaultLookbackDays
		if _, ok := args["days"]; ok {
			var err error
			if days, err = intArg(args, "days"); err != nil {
				return nil, err
			}
		}

		deps.Logger.Info().Str("tool", "fetch_notion_tasks").Int("days", days).Msg("Tool invoked")
		return deps.Tasks.FetchTasks(ctx, days)
	}
}

func getRequestReport(deps Deps) tools.Handler {
	return func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		fromDate, err := stringArg(args, "from_date")
		if err != nil {
			return nil, err
		}
		toDate, err := stringArg(args, "to_date")
		if err != nil {
			return nil, err
		}

		deps.Logger.Info().
			Str("tool", "get_request_report").
			Str("from_date", fromDate).
			Str("to_date", toDate).
			Msg("Tool invoked")

		return deps.Reports.Fetch(ctx, fromDate, toDate)
	}
}

func summation(deps Deps) tools.Handler {
	return func(_ context.Context, args map[string]interface{}) (interface{}, error) {
		raw, ok := args["array"].([]interface{})
		if !ok {
			return nil, fmt.Errorf("input must be a list")
		}

		sum := 0
		for _, v := range raw {
			n, ok := v.(float64)
			if !ok || n != math.Trunc(n) {
				return nil, fmt.Errorf("all elements in the list must be integers")
			}
			sum += int(n)
		}

		deps.Logger.Info().Str("tool", "summation_tool").Int("sum", sum).Msg("Tool invoked")
		return sum, nil
	}
}

func stringArg(args map[string]interface{}, name string) (string, error) {
	v, ok := args[name].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("%s must be a non-empty string", name)
	}
	return v, nil
}

func intArg(args map[string]interface{}, name string) (int, error) {
	n, ok := args[name].(float64)
	if !ok || n != math.Trunc(n) {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return int(n), nil
}
