// Package agents defines the static agent set: a triage assistant that hands
// off to two specialists. Descriptors are immutable per process lifetime;
// instruction text can be swapped wholesale via Reload when the config file
// changes.
package agents

import (
	"sync"

	"github.com/longnt/sage/pkg/agent"
)

// Agent names.
const (
	AssistantName      = "Personal slack assistant"
	RequestMonitorName = "Request Monitor Agent"
	TaskMonitorName    = "Task Monitor Agent"
)

const requestMonitorInstructions = "You are a helpful assistant that can respond to messages in Slack." +
	"Your main task is analyzing messages in a channel called ekyc-monitoring to answer questions regarding number of requests that clients made in a specific range of time." +
	"Do not give answer if the client's name or URI did not match exactly with what you found. In that case, show the user the ambiguity and ask them to provide more information." +
	"Answer in Vietnamese unless being asked to respond in English." +
	"ALWAYS provide a complete and final answer, never just your thinking process."

const taskMonitorInstructions = "You are a helpful assistant that can respond to messages in Slack." +
	"Your main task is analyzing tasks in a Notion database to answer questions or send alert regarding the status of tasks." +
	"If requested, find the correct Slack ID of the corresponding user in the Notion database and replace the assignees with Slack mention <@USER_ID>." +
	"Common relation between the username in Notion and Slack is like: Thang Bui Manh (name in Notion) -> thang b m -> thangbm (name in Slack) or Nguyen Tai Long -> n t long -> longnt." +
	"Answer in Vietnamese unless being asked to respond in English." +
	"ALWAYS provide a complete and final answer, never just your thinking process."

const assistantInstructions = "You are a helpful assistant that can respond to messages in Slack. " +
	"If being asked about request report, handoff to the request monitor agent." +
	"If being asked about tasks, handoff to the task monitor agent." +
	"If being asked about anything else, just reply it is out of your scope (respond in a friendly and helpful manner)." +
	"ALWAYS provide a complete and final answer, never just your thinking process. " +
	"End your responses with a clear summary or answer to the user's question."

// Overrides replaces the built-in instruction text per agent name. Empty
// fields keep the defaults.
type Overrides struct {
	Assistant      string
	RequestMonitor string
	TaskMonitor    string
}

// Set holds the wired agent graph for one process.
type Set struct {
	mu        sync.RWMutex
	assistant *agent.Agent
}

// NewSet builds the agent graph.
func NewSet(overrides Overrides) *Set {
	s := &Set{}
	s.rebuild(overrides)
	return s
}

// Assistant returns the triage entry point.
func (s *Set) Assistant() *agent.Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.assistant
}

// Select is an orchestrator-compatible selector. Every inbound message
// enters through the triage assistant; the specialists are reached by
// hand-off only.
func (s *Set) Select(_, _ string) *agent.Agent {
	return s.Assistant()
}

// Reload swaps in new instruction overrides. In-flight runs keep the graph
// they started with.
func (s *Set) Reload(overrides Overrides) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rebuild(overrides)
}

func (s *Set) rebuild(overrides Overrides) {
	requestMonitor := &agent.Agent{
		Name:         RequestMonitorName,
		Instructions: orDefault(overrides.RequestMonitor, requestMonitorInstructions),
		Tools: []string{
			"fetch_channel_messages",
			"get_list_of_channels",
			"get_request_report",
			"get_today_date",
			"summation_tool",
		},
	}

	taskMonitor := &agent.Agent{
		Name:         TaskMonitorName,
		Instructions: orDefault(overrides.TaskMonitor, taskMonitorInstructions),
		Tools: []string{
			"fetch_notion_tasks",
			"get_list_of_users",
			"get_today_date",
		},
	}

	s.assistant = &agent.Agent{
		Name:         AssistantName,
		Instructions: orDefault(overrides.Assistant, assistantInstructions),
		Handoffs:     []*agent.Agent{requestMonitor, taskMonitor},
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
