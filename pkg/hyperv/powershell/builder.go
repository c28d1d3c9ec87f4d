// Package powershell assembles PowerShell pipelines as strings so host and
// guest commands can be unit tested without a Windows machine.
package powershell

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"unicode/utf16"
)

// Builder accumulates PowerShell statements and renders them as one script.
type Builder struct {
	cmds []string
}

// New creates an empty Builder.
func New() *Builder {
	return &Builder{}
}

// Add appends a raw statement.
func (b *Builder) Add(cmd string) *Builder {
	b.cmds = append(b.cmds, strings.TrimSpace(cmd))
	return b
}

// Addf appends a formatted statement.
func (b *Builder) Addf(format string, args ...interface{}) *Builder {
	return b.Add(fmt.Sprintf(format, args...))
}

// ImportModule appends an Import-Module statement.
func (b *Builder) ImportModule(name string) *Builder {
	return b.Addf("Import-Module %s", name)
}

// Cmdlet appends a cmdlet invocation with splatted arguments. Parameter
// order is sorted so rendered scripts are deterministic.
func (b *Builder) Cmdlet(name string, params map[string]interface{}, switches ...string) *Builder {
	if len(params) == 0 && len(switches) == 0 {
		return b.Add(name)
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := []string{name}
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("-%s %s", k, Literal(params[k])))
	}
	for _, sw := range switches {
		parts = append(parts, "-"+sw)
	}
	return b.Add(strings.Join(parts, " "))
}

// Pipe appends a pipeline segment to the previous statement.
func (b *Builder) Pipe(segment string) *Builder {
	if len(b.cmds) == 0 {
		return b.Add(segment)
	}
	b.cmds[len(b.cmds)-1] = b.cmds[len(b.cmds)-1] + " | " + segment
	return b
}

// Script renders the statements joined by semicolons with a strict error
// preference prelude, matching how the scripts are shipped to the runner.
func (b *Builder) Script() string {
	stmts := append([]string{"$ErrorActionPreference = 'Stop'"}, b.cmds...)
	return strings.Join(stmts, "; ")
}

// Raw renders the statements without the prelude.
func (b *Builder) Raw() string {
	return strings.Join(b.cmds, "; ")
}

// Quote single-quotes a string for PowerShell, doubling embedded quotes.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Literal renders a Go value as a PowerShell literal.
func Literal(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "$null"
	case bool:
		if val {
			return "$true"
		}
		return "$false"
	case int:
		return fmt.Sprintf("%d", val)
	case int64:
		return fmt.Sprintf("%d", val)
	case uint64:
		return fmt.Sprintf("%d", val)
	case []string:
		quoted := make([]string, len(val))
		for i, s := range val {
			quoted[i] = Quote(s)
		}
		return "@(" + strings.Join(quoted, ",") + ")"
	case RawValue:
		return string(val)
	case string:
		return Quote(val)
	default:
		return Quote(fmt.Sprintf("%v", val))
	}
}

// RawValue is emitted verbatim by Literal, for expressions like
// (ConvertTo-SecureString ...) that must not be quoted.
type RawValue string

// SecureString renders an inline secure-string conversion for a secret.
func SecureString(secret string) RawValue {
	return RawValue(fmt.Sprintf("(ConvertTo-SecureString %s -AsPlainText -Force)", Quote(secret)))
}

// Credential renders an inline PSCredential construction.
func Credential(user, password string) RawValue {
	return RawValue(fmt.Sprintf(
		"(New-Object System.Management.Automation.PSCredential(%s, %s))",
		Quote(user), SecureString(password)))
}

// EncodeCommand converts a script to the UTF-16LE base64 form accepted by
// powershell.exe -EncodedCommand.
func EncodeCommand(script string) string {
	units := utf16.Encode([]rune(script))
	buf := make([]byte, len(units)*2)
	for i, u := range units {
		buf[i*2] = byte(u)
		buf[i*2+1] = byte(u >> 8)
	}
	return base64.StdEncoding.EncodeToString(buf)
}
