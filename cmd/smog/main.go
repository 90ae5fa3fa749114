package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/xray-lang/xray/pkg/ast"
	"github.com/xray-lang/xray/pkg/bytecode"
	"github.com/xray-lang/xray/pkg/compiler"
	"github.com/xray-lang/xray/pkg/object"
	"github.com/xray-lang/xray/pkg/parser"
	"github.com/xray-lang/xray/pkg/symbol"
	"github.com/xray-lang/xray/pkg/vm"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		runREPL()
		return
	}

	switch os.Args[1] {
	case "version", "-v", "--version":
		fmt.Printf("smog version %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	case "repl":
		runREPL()
	case "run":
		if len(os.Args) < 3 {
			fmt.Println("Error: no file specified")
			printUsage()
			os.Exit(1)
		}
		runFile(os.Args[2], hasFlag(os.Args[3:], "--dump-ast"), hasFlag(os.Args[3:], "--trace"))
	case "compile":
		if len(os.Args) < 3 {
			fmt.Println("Error: no file specified")
			fmt.Println("\nUsage: smog compile <input> [output.sg]")
			os.Exit(1)
		}
		out := ""
		if len(os.Args) >= 4 {
			out = os.Args[3]
		}
		compileFile(os.Args[2], out)
	case "disassemble", "disasm":
		if len(os.Args) < 3 {
			fmt.Println("Error: no file specified")
			fmt.Println("\nUsage: smog disassemble <file.sg|source file>")
			os.Exit(1)
		}
		disassembleFile(os.Args[2])
	case "-e":
		if len(os.Args) < 3 {
			fmt.Println("Error: -e requires a source string")
			os.Exit(1)
		}
		runSource(os.Args[2], "<-e>", false, false)
	default:
		runFile(os.Args[1], hasFlag(os.Args[2:], "--dump-ast"), hasFlag(os.Args[2:], "--trace"))
	}
}

func hasFlag(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}

func printUsage() {
	fmt.Println("smog - a register-based bytecode language")
	fmt.Println("\nUsage:")
	fmt.Println("  smog                          Start interactive REPL")
	fmt.Println("  smog [file]                   Run a source or .sg file")
	fmt.Println("  smog run [file] [--trace]     Run a source or .sg file")
	fmt.Println("  smog compile <in> [out]       Compile source to .sg bytecode")
	fmt.Println("  smog disassemble <file>       Disassemble a source or .sg file")
	fmt.Println("  smog repl                     Start interactive REPL")
	fmt.Println("  smog -e <source>              Run a source snippet directly")
	fmt.Println("  smog version                  Show version")
	fmt.Println("  smog help                     Show this help")
	fmt.Println("\nFlags (with run / default):")
	fmt.Println("  --dump-ast   Print the parsed AST before running")
	fmt.Println("  --trace      Print each executed instruction")
	fmt.Println("\nFile Extensions:")
	fmt.Println("  (anything else)   Source code (text)")
	fmt.Println("  .sg               Compiled bytecode (binary)")
}

// runFile runs a source file or a .sg bytecode file, dispatching on
// extension the same way the compile/disassemble pair does.
func runFile(filename string, dumpAST, trace bool) {
	if filepath.Ext(filename) == ".sg" {
		runBytecodeFile(filename, trace)
		return
	}
	src, err := os.ReadFile(filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading file: %v\n", err)
		os.Exit(1)
	}
	runSource(string(src), filename, dumpAST, trace)
}

func runSource(src, name string, dumpAST, trace bool) {
	p := parser.New(src)
	program := p.ParseProgram()
	if len(p.Errors()) > 0 {
		fmt.Fprintf(os.Stderr, "Parse errors in %s:\n", name)
		for _, e := range p.Errors() {
			fmt.Fprintf(os.Stderr, "  %s\n", e)
		}
		os.Exit(1)
	}
	if dumpAST {
		dumpProgram(program)
	}

	c := compiler.New()
	proto, err := c.Compile(program)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Compile error in %s: %v\n", name, err)
		os.Exit(1)
	}

	v := vm.New(c.Symbols())
	v.TraceExecution = trace
	result, err := v.Interpret(proto)
	if result == vm.ResultRuntimeError {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runBytecodeFile(filename string, trace bool) {
	f, err := os.Open(filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening file: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	mod, err := bytecode.Decode(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading bytecode: %v\n", err)
		os.Exit(1)
	}

	symbols := symbol.New()
	for _, name := range mod.Symbols {
		symbols.GetOrCreate(name)
	}

	v := vm.New(symbols)
	v.TraceExecution = trace
	result, err := v.Interpret(mod.Root)
	if result == vm.ResultRuntimeError {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// compileFile compiles a source file to a .sg bytecode file. The symbol
// table's non-predefined names are carried along in the Module so a later
// run/disassemble of the .sg can replay them into a fresh symbol.Table at
// the same indices the compiled INVOKE/GETPROP operands expect.
func compileFile(inputFile, outputFile string) {
	src, err := os.ReadFile(inputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading file: %v\n", err)
		os.Exit(1)
	}
	if outputFile == "" {
		ext := filepath.Ext(inputFile)
		outputFile = strings.TrimSuffix(inputFile, ext) + ".sg"
	}

	p := parser.New(string(src))
	program := p.ParseProgram()
	if len(p.Errors()) > 0 {
		fmt.Fprintf(os.Stderr, "Parse errors in %s:\n", inputFile)
		for _, e := range p.Errors() {
			fmt.Fprintf(os.Stderr, "  %s\n", e)
		}
		os.Exit(1)
	}

	c := compiler.New()
	proto, err := c.Compile(program)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Compile error in %s: %v\n", inputFile, err)
		os.Exit(1)
	}

	out, err := os.Create(outputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output file: %v\n", err)
		os.Exit(1)
	}
	defer out.Close()

	mod := bytecode.Module{Root: proto, Symbols: nonPredefinedSymbols(c.Symbols())}
	if err := bytecode.Encode(mod, out); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing bytecode: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Compiled %s -> %s\n", inputFile, outputFile)
}

// nonPredefinedSymbols skips the symbols every fresh symbol.Table installs
// on its own (symbol.New), so a .sg file only has to carry the
// method/property names this particular program actually declared.
func nonPredefinedSymbols(symbols *symbol.Table) []string {
	fresh := symbol.New()
	names := make([]string, 0, symbols.Count()-fresh.Count())
	for id := fresh.Count(); id < symbols.Count(); id++ {
		name, _ := symbols.Lookup(id)
		names = append(names, name)
	}
	return names
}

func disassembleFile(filename string) {
	var mod bytecode.Module
	if filepath.Ext(filename) == ".sg" {
		f, err := os.Open(filename)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		mod, err = bytecode.Decode(f)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading bytecode: %v\n", err)
			os.Exit(1)
		}
	} else {
		src, err := os.ReadFile(filename)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading file: %v\n", err)
			os.Exit(1)
		}
		p := parser.New(string(src))
		program := p.ParseProgram()
		if len(p.Errors()) > 0 {
			fmt.Fprintf(os.Stderr, "Parse errors in %s:\n", filename)
			for _, e := range p.Errors() {
				fmt.Fprintf(os.Stderr, "  %s\n", e)
			}
			os.Exit(1)
		}
		c := compiler.New()
		proto, err := c.Compile(program)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Compile error in %s: %v\n", filename, err)
			os.Exit(1)
		}
		mod = bytecode.Module{Root: proto, Symbols: nonPredefinedSymbols(c.Symbols())}
	}

	color := isatty.IsTerminal(os.Stdout.Fd())
	disassembleProto(mod.Root, 0, color)
}

// disassembleProto prints a Proto's constants and instructions, then
// recurses into its children with increasing indent.
func disassembleProto(p *object.Proto, depth int, color bool) {
	indent := strings.Repeat("  ", depth)
	fmt.Printf("%s== %s (%d params, %d registers) ==\n", indent, protoLabel(p), p.NumParams, p.MaxStack)

	if len(p.Constants) > 0 {
		fmt.Printf("%sconstants:\n", indent)
		for i, k := range p.Constants {
			fmt.Printf("%s  [%d] %s\n", indent, i, formatConstant(k))
		}
	}

	for pc, instr := range p.Code {
		line := 0
		if pc < len(p.Lines) {
			line = int(p.Lines[pc])
		}
		fmt.Printf("%s%s\n", indent, disassembleInstr(pc, line, instr, color))
	}

	for _, child := range p.Children {
		fmt.Println()
		disassembleProto(child, depth+1, color)
	}
}

func protoLabel(p *object.Proto) string {
	if p.Name == "" {
		return "<script>"
	}
	if p.OwnerClass != "" {
		return p.OwnerClass + "." + p.Name
	}
	return p.Name
}

func formatConstant(v object.Value) string {
	switch {
	case v.IsNull():
		return "null"
	case v.IsBool():
		return fmt.Sprintf("%v", v.AsBool())
	case v.IsInt():
		return fmt.Sprintf("%d", v.AsInt())
	case v.IsFloat():
		return fmt.Sprintf("%g", v.AsFloat())
	case v.IsObjType(object.ObjString):
		return fmt.Sprintf("%q", v.AsObject().(*object.String).Chars)
	default:
		return fmt.Sprintf("<%s>", v.ObjType())
	}
}

// disassembleInstr renders one instruction. Only JMP gets a resolved
// target column: every other control-flow opcode's effective target
// depends on the instruction immediately following it, which reads fine
// printed in sequence without extra annotation.
func disassembleInstr(pc, line int, instr uint32, color bool) string {
	op, _, _, _, _ := object.DecodeABCK(instr)
	name := op.String()
	if color {
		name = "\x1b[36m" + name + "\x1b[0m"
	}
	prefix := fmt.Sprintf("%04d  line %-5d %-12s", pc, line, name)

	switch op {
	case object.OpJmp:
		_, sj := object.DecodeSJ(instr)
		return fmt.Sprintf("%s -> %04d", prefix, pc+1+int(sj))
	case object.OpLoadI:
		_, a, sbx := object.DecodeAsBx(instr)
		return fmt.Sprintf("%s R%d %d", prefix, a, sbx)
	case object.OpLoadF, object.OpLoadK, object.OpClosure,
		object.OpGetGlobal, object.OpSetGlobal, object.OpDefGlobal, object.OpClass:
		_, a, bx := object.DecodeABx(instr)
		return fmt.Sprintf("%s R%d %d", prefix, a, bx)
	case object.OpEq, object.OpNe, object.OpLt, object.OpLe, object.OpGt, object.OpGe,
		object.OpLtI, object.OpLeI, object.OpGtI, object.OpGeI, object.OpTest, object.OpTestSet:
		_, a, b, c, k := object.DecodeABCK(instr)
		return fmt.Sprintf("%s R%d R%d R%d k=%v", prefix, a, b, c, k)
	default:
		_, a, b, c := object.DecodeABC(instr)
		return fmt.Sprintf("%s R%d R%d R%d", prefix, a, b, c)
	}
}

// dumpProgram prints a crude but complete view of the parsed AST, one line
// per top-level statement, for --dump-ast. It leans on %#v rather than a
// hand-rolled pretty-printer since this is a debug aid, not user output.
func dumpProgram(program *ast.Program) {
	fmt.Println("=== AST ===")
	for i, stmt := range program.Statements {
		fmt.Printf("[%d] %#v\n", i, stmt)
	}
	fmt.Println("===========")
}

// runREPL starts an interactive session. Each brace-balanced block of
// lines is parsed and compiled against a shared symbol.Table, so
// method/operator symbol ids and declared globals stay consistent across
// inputs, and run against one persistent VM so printed output and any
// declared globals are visible to later inputs.
func runREPL() {
	fmt.Printf("smog REPL v%s\n", version)
	fmt.Println("Type ':help' for help, ':quit' or ':exit' to exit")
	fmt.Println()

	symbols := symbol.New()
	v := vm.New(symbols)
	scanner := bufio.NewScanner(os.Stdin)

	// One compiler continuation spans the whole session: each input gets a
	// fresh compiler that inherits the previous one's symbol table and
	// global-index assignments, so a global declared on an earlier line
	// keeps its slot on later ones.
	session := compiler.NewWithSymbols(symbols)

	var buf strings.Builder
	depth := 0

	for {
		if buf.Len() == 0 {
			fmt.Print("smog> ")
		} else {
			fmt.Print("....> ")
		}

		if !scanner.Scan() {
			break
		}
		line := scanner.Text()

		if buf.Len() == 0 {
			switch strings.TrimSpace(line) {
			case ":quit", ":exit":
				fmt.Println("Goodbye!")
				return
			case ":help":
				printREPLHelp()
				continue
			case ":stats":
				printREPLStats(v, symbols)
				continue
			case "":
				continue
			}
		}

		buf.WriteString(line)
		buf.WriteString("\n")
		depth += strings.Count(line, "{") - strings.Count(line, "}")
		if depth > 0 {
			continue
		}

		input := buf.String()
		buf.Reset()
		depth = 0
		session = evalREPL(v, session, input)
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
	}
}

// evalREPL compiles and runs one brace-balanced input, returning the
// compiler to continue the session from (the input's own compiler on
// success, the previous one when the input failed to parse or compile so a
// bad line can't poison later global-index assignments).
func evalREPL(v *vm.VM, session *compiler.Compiler, input string) *compiler.Compiler {
	p := parser.New(input)
	program := p.ParseProgram()
	if len(p.Errors()) > 0 {
		for _, e := range p.Errors() {
			fmt.Fprintf(os.Stderr, "parse error: %s\n", e)
		}
		return session
	}

	c := session.NewContinuation()
	proto, err := c.Compile(program)
	if err != nil {
		fmt.Fprintf(os.Stderr, "compile error: %v\n", err)
		return session
	}

	if result, err := v.Interpret(proto); result == vm.ResultRuntimeError {
		fmt.Fprintln(os.Stderr, err)
	}
	return c
}

func printREPLHelp() {
	fmt.Println("smog REPL Help")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  :help     Show this help message")
	fmt.Println("  :stats    Show live-object and symbol table counters")
	fmt.Println("  :quit     Exit the REPL")
	fmt.Println("  :exit     Exit the REPL")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  - Enter statements and press Enter")
	fmt.Println("  - An unbalanced '{' keeps reading until braces close")
	fmt.Println()
	fmt.Println("Example:")
	fmt.Println("  smog> x = 42;")
	fmt.Println("  smog> print x + 8;")
	fmt.Println("  50")
	fmt.Println()
	fmt.Println("Globals assigned on one line stay visible on later ones;")
	fmt.Println("'let' locals live only within their own input.")
}

// printREPLStats reports this session's allocation pressure and symbol
// table growth, the same byte-humanizing the --trace path uses.
func printREPLStats(v *vm.VM, symbols *symbol.Table) {
	fmt.Printf("live objects: %s\n", humanize.Bytes(v.Objects.Bytes))
	fmt.Printf("symbols:      %d (%d user-defined)\n", symbols.Count(), len(nonPredefinedSymbols(symbols)))
	fmt.Printf("run id:       %s\n", v.RunID)
}
