package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/x/ansi"
	"github.com/tinyrange/lirgen/internal/asm"
	"github.com/tinyrange/lirgen/internal/backend"
	"github.com/tinyrange/lirgen/internal/ir"
	"github.com/tinyrange/lirgen/internal/lir"
)

var (
	labelStyle    = ansi.Style{}.Bold().ForegroundColor(ansi.Yellow)
	mnemonicStyle = ansi.Style{}.ForegroundColor(ansi.Cyan)
	trapStyle     = ansi.Style{}.Bold().ForegroundColor(ansi.Red)
	headingStyle  = ansi.Style{}.Bold()
)

func styled(color bool, s ansi.Style, text string) string {
	if !color {
		return text
	}
	return s.Styled(text)
}

func heading(color bool, text string) string { return styled(color, headingStyle, text) }
func trapped(color bool, text string) string { return styled(color, trapStyle, text) }

// printListing writes the listing of p. Instructions that can trap are
// marked with the frame state they resume at.
func printListing(w io.Writer, p asm.Program, color bool) {
	for _, line := range p.Listing {
		if line.Mnemonic == "" {
			fmt.Fprintln(w, styled(color, labelStyle, line.String()))
			continue
		}
		text := line.Text
		if rest, ok := strings.CutPrefix(text, line.Mnemonic); ok {
			text = styled(color, mnemonicStyle, line.Mnemonic) + rest
		}
		out := fmt.Sprintf("%6x:  %s", line.Offset, text)
		if rec, ok := p.ExceptionAt(line.Offset); ok && line.Size > 0 {
			out += "  " + styled(color, trapStyle, "; trap -> "+rec.State.String())
		}
		fmt.Fprintln(w, out)
	}
}

func printHex(w io.Writer, code []byte) {
	for off := 0; off < len(code); off += 16 {
		end := min(off+16, len(code))
		fmt.Fprintf(w, "%6x: % x\n", off, code[off:end])
	}
}

// parseArgs reads comma-separated literals for the parameters of sig.
func parseArgs(sig backend.Signature, s string) ([]lir.Constant, error) {
	var fields []string
	if strings.TrimSpace(s) != "" {
		fields = strings.Split(s, ",")
	}
	if len(fields) != len(sig.Params) {
		return nil, fmt.Errorf("%d arguments for %d parameters", len(fields), len(sig.Params))
	}
	args := make([]lir.Constant, len(fields))
	for i, f := range fields {
		c, err := ir.ParseConstant(sig.Params[i], f)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		args[i] = c
	}
	return args, nil
}
