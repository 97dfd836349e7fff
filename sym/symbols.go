// Package sym defines the glyphs chainable prints next to its commands.
// They are stable across help text, progress output and documentation.
package sym

// Command glyphs
const (
	AM    = "≡" // am - configuration and system settings
	Run   = "⟶" // run - execute a chain, one step after another
	Runs  = "⊔" // runs - stored runs in the database
	Usage = "꩜" // usage - model requests, tokens and cost
	Prose = "▣" // chapters written by a run
)

// entry binds a glyph to its command and description
type entry struct {
	glyph       string
	command     string
	description string
}

// registry is the canonical glyph table; order is help order
var registry = []entry{
	{Run, "run", "Execute a prompt chain"},
	{Runs, "runs", "Inspect stored chain runs"},
	{Usage, "usage", "Show model usage and cost"},
	{AM, "am", "Manage chainable configuration"},
}

// Lookup tables built from the registry at init time.
var (
	// SymbolToCommand maps glyph strings to their command names
	SymbolToCommand map[string]string
	// CommandToSymbol maps command names to their glyph strings
	CommandToSymbol map[string]string
	// CommandDescriptions is the one-line description of each command
	CommandDescriptions map[string]string
)

func init() {
	SymbolToCommand = make(map[string]string, len(registry))
	CommandToSymbol = make(map[string]string, len(registry))
	CommandDescriptions = make(map[string]string, len(registry))
	for _, e := range registry {
		SymbolToCommand[e.glyph] = e.command
		CommandToSymbol[e.command] = e.glyph
		CommandDescriptions[e.command] = e.description
	}
}

// Short returns "<glyph> <description>" for a command's cobra Short text,
// or "" for an unknown command
func Short(command string) string {
	glyph, ok := CommandToSymbol[command]
	if !ok {
		return ""
	}
	return glyph + " " + CommandDescriptions[command]
}
