package toolset

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/longnt/sage/internal/notion"
	"github.com/longnt/sage/internal/slack"
	"github.com/longnt/sage/pkg/tools"
)

type fakeSlack struct {
	history     []slack.HistoryMessage
	historyErr  error
	lastChannel string
	lastLimit   int
	lastOldest  time.Time
	channels    []slack.Channel
	users       []slack.User
}

func (f *fakeSlack) ConversationsHistory(_ context.Context, channelID string, limit int, oldest time.Time) ([]slack.HistoryMessage, error) {
	f.lastChannel = channelID
	f.lastLimit = limit
	f.lastOldest = oldest
	return f.history, f.historyErr
}

func (f *fakeSlack) ConversationsList(context.Context) ([]slack.Channel, error) {
	return f.channels, nil
}

func (f *fakeSlack) UsersList(context.Context) ([]slack.User, error) {
	return f.users, nil
}

type fakeTasks struct {
	tasks    []notion.Task
	lastDays int
}

func (f *fakeTasks) FetchTasks(_ context.Context, days int) ([]notion.Task, error) {
	f.lastDays = days
	return f.tasks, nil
}

type fakeReports struct {
	out      map[string]interface{}
	err      error
	lastFrom string
	lastTo   string
}

func (f *fakeReports) Fetch(_ context.Context, fromDate, toDate string) (map[string]interface{}, error) {
	f.lastFrom = fromDate
	f.lastTo = toDate
	return f.out, f.err
}

func fixedNow() time.Time {
	return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
}

func setupRegistry(t *testing.T) (*tools.Registry, *fakeSlack, *fakeTasks, *fakeReports) {
	t.Helper()

	sl := &fakeSlack{}
	ts := &fakeTasks{}
	rp := &fakeReports{out: map[string]interface{}{"total": 42}}

	r := tools.NewRegistry(zerolog.Nop())
	require.NoError(t, Register(r, Deps{
		Slack:   sl,
		Tasks:   ts,
		Reports: rp,
		Logger:  zerolog.Nop(),
		Now:     fixedNow,
	}))
	return r, sl, ts, rp
}

func dispatch(t *testing.T, r *tools.Registry, name string, args map[string]interface{}) tools.Result {
	t.Helper()
	return r.Dispatch(context.Background(), tools.Call{ID: "call_1", Name: name, Args: args})
}

func TestAllToolsRegistered(t *testing.T) {
	r, _, _, _ := setupRegistry(t)

	for _, name := range []string{
		"fetch_channel_messages",
		"get_list_of_channels",
		"get_list_of_users",
		"fetch_notion_tasks",
		"get_request_report",
		"summation_tool",
		"get_today_date",
	} {
		assert.NotNil(t, r.Get(name), name)
	}
}

func TestFetchChannelMessagesFiltersMarker(t *testing.T) {
	r, sl, _, _ := setupRegistry(t)
	sl.history = []slack.HistoryMessage{
		{TS: "1", Text: "*REQUEST COUNTER* client=acme count=10"},
		{TS: "2", Text: "random chat"},
		{TS: "3", Text: "*REQUEST COUNTER* client=beta count=3"},
	}

	result := dispatch(t, r, "fetch_channel_messages", map[string]interface{}{
		"channel_id": "C1",
		"limit":      float64(100),
		"days":       float64(7),
	})

	require.False(t, result.IsError(), result.Err)
	messages := result.Output.([]FilteredMessage)
	require.Len(t, messages, 2)
	assert.Equal(t, "1", messages[0].Time)
	assert.Equal(t, "3", messages[1].Time)

	assert.Equal(t, "C1", sl.lastChannel)
	assert.Equal(t, 100, sl.lastLimit)
	assert.Equal(t, fixedNow().AddDate(0, 0, -7), sl.lastOldest)
}

func TestFetchChannelMessagesMissingArgs(t *testing.T) {
	r, _, _, _ := setupRegistry(t)

	result := dispatch(t, r, "fetch_channel_messages", map[string]interface{}{"channel_id": "C1"})
	assert.True(t, result.IsError())
}

func TestFetchChannelMessagesHistoryErrorIsResult(t *testing.T) {
	r, sl, _, _ := setupRegistry(t)
	sl.historyErr = errors.New("channel_not_found")

	result := dispatch(t, r, "fetch_channel_messages", map[string]interface{}{
		"channel_id": "C404",
		"limit":      float64(10),
		"days":       float64(1),
	})

	assert.True(t, result.IsError())
	assert.Contains(t, result.Err, "channel_not_found")
}

func TestFetchNotionTasksDefaultsWindow(t *testing.T) {
	r, _, ts, _ := setupRegistry(t)
	ts.tasks = []notion.Task{{Title: "Ship report", Status: "In progress"}}

	result := dispatch(t, r, "fetch_notion_tasks", map[string]interface{}{})

	require.False(t, result.IsError(), result.Err)
	assert.Equal(t, notion.DefaultLookbackDays, ts.lastDays)

	result = dispatch(t, r, "fetch_notion_tasks", map[string]interface{}{"days": float64(14)})
	require.False(t, result.IsError(), result.Err)
	assert.Equal(t, 14, ts.lastDays)
}

func TestGetRequestReportPassesThrough(t *testing.T) {
	r, _, _, rp := setupRegistry(t)

	result := dispatch(t, r, "get_request_report", map[string]interface{}{
		"from_date": "2024-01-01",
		"to_date":   "2024-02-01",
	})

	require.False(t, result.IsError(), result.Err)
	assert.Equal(t, "2024-01-01", rp.lastFrom)
	assert.Equal(t, "2024-02-01", rp.lastTo)
	assert.Equal(t, map[string]interface{}{"total": 42}, result.Output)
}

func TestGetRequestReportErrorShaped(t *testing.T) {
	r, _, _, rp := setupRegistry(t)
	rp.out = nil
	rp.err = errors.New("from_date must be less than to_date")

	result := dispatch(t, r, "get_request_report", map[string]interface{}{
		"from_date": "2024-02-01",
		"to_date":   "2024-01-01",
	})

	assert.True(t, result.IsError())
	assert.JSONEq(t, `{"error":"from_date must be less than to_date"}`, result.Payload())
}

func TestSummation(t *testing.T) {
	r, _, _, _ := setupRegistry(t)

	result := dispatch(t, r, "summation_tool", map[string]interface{}{
		"array": []interface{}{float64(1), float64(2), float64(3)},
	})
	require.False(t, result.IsError(), result.Err)
	assert.Equal(t, 6, result.Output)
}

func TestSummationRejectsNonIntegerElements(t *testing.T) {
	r, _, _, _ := setupRegistry(t)

	result := dispatch(t, r, "summation_tool", map[string]interface{}{
		"array": []interface{}{float64(1), float64(2), "3"},
	})
	assert.True(t, result.IsError())

	result = dispatch(t, r, "summation_tool", map[string]interface{}{
		"array": []interface{}{float64(1), 2.5},
	})
	assert.True(t, result.IsError())
	assert.Contains(t, result.Err, "integers")
}

func TestSummationRejectsNonArray(t *testing.T) {
	r, _, _, _ := setupRegistry(t)

	result := dispatch(t, r, "summation_tool", map[string]interface{}{"array": "1,2,3"})
	assert.True(t, result.IsError())
}

func TestGetTodayDate(t *testing.T) {
	r, _, _, _ := setupRegistry(t)

	result := dispatch(t, r, "get_today_date", map[string]interface{}{})

	require.False(t, result.IsError(), result.Err)
	assert.Equal(t, "2025-06-15", result.Output)
}

func TestGetListOfUsers(t *testing.T) {
	r, sl, _, _ := setupRegistry(t)
	sl.users = []slack.User{{ID: "U1", Name: "longnt"}}

	result := dispatch(t, r, "get_list_of_users", map[string]interface{}{})

	require.False(t, result.IsError(), result.Err)
	users := result.Output.([]slack.User)
	require.Len(t, users, 1)
	assert.Equal(t, "longnt", users[0].Name)
}
