package discord

import (
	"sort"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// CommandHandler defines the function signature for command handlers
type CommandHandler func(s *discordgo.Session, m *discordgo.MessageCreate, args []string)

// CommandDefinition holds information about a command
type CommandDefinition struct {
	Name        string
	Description string
	Usage       string
	Examples    []string
	GMOnly      bool
	Handler     CommandHandler
}

// Registry holds all registered commands
type Registry struct {
	commands map[string]CommandDefinition
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]CommandDefinition)}
}

// Register adds a command to the registry
func (r *Registry) Register(cmd CommandDefinition) {
	r.commands[strings.ToLower(cmd.Name)] = cmd
}

// Get retrieves a command from the registry
func (r *Registry) Get(name string) (CommandDefinition, bool) {
	cmd, exists := r.commands[strings.ToLower(name)]
	return cmd, exists
}

// All returns every command sorted by name
func (r *Registry) All() []CommandDefinition {
	out := make([]CommandDefinition, 0, len(r.commands))
	for _, cmd := range r.commands {
		out = append(out, cmd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Match parses a message into a registered command and its arguments.
// args[0] is the command word itself, the way handlers expect it.
func (r *Registry) Match(content string) (CommandDefinition, []string, bool) {
	args := strings.Fields(strings.TrimSpace(content))
	if len(args) == 0 {
		return CommandDefinition{}, nil, false
	}

	// Extract the command name (remove ! prefix)
	name := strings.ToLower(args[0])
	if !strings.HasPrefix(name, "!") {
		return CommandDefinition{}, nil, false
	}
	cmd, ok := r.Get(strings.TrimPrefix(name, "!"))
	if !ok {
		return CommandDefinition{}, args, false
	}
	return cmd, args, true
}
