package sym

import (
	"testing"
	"unicode/utf8"
)

func TestSymbolToCommandAndCommandToSymbolAreBidirectional(t *testing.T) {
	for symbol, cmd := range SymbolToCommand {
		got, ok := CommandToSymbol[cmd]
		if !ok {
			t.Errorf("SymbolToCommand has %q → %q, but CommandToSymbol has no entry for %q", symbol, cmd, cmd)
			continue
		}
		if got != symbol {
			t.Errorf("bidirectional mismatch: SymbolToCommand[%q] = %q, but CommandToSymbol[%q] = %q", symbol, cmd, cmd, got)
		}
	}

	if len(SymbolToCommand) != len(CommandToSymbol) {
		t.Errorf("map size mismatch: SymbolToCommand has %d entries, CommandToSymbol has %d",
			len(SymbolToCommand), len(CommandToSymbol))
	}
}

func TestGlyphsAreSingleRunes(t *testing.T) {
	for _, e := range registry {
		if n := utf8.RuneCountInString(e.glyph); n != 1 {
			t.Errorf("glyph for %q has %d runes, want 1", e.command, n)
		}
	}
}

func TestShort(t *testing.T) {
	if got := Short("am"); got != AM+" Manage chainable configuration" {
		t.Errorf("Short(am) = %q", got)
	}
	if got := Short("nope"); got != "" {
		t.Errorf("Short(nope) = %q, want empty", got)
	}
	for _, e := range registry {
		if CommandDescriptions[e.command] == "" {
			t.Errorf("command %q has no description", e.command)
		}
	}
}
