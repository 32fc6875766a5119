// Package formula は方策探索エージェントが使う数式を表す。
// 数式は後置記法のトークン列で、変数は X0, X1, ... と書く。
package formula

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/sw965/bamcp/serial"
)

type Formula interface {
	serial.Serializable
	Evaluate(vars []float64) (float64, error)
	// NumVars は数式が参照する変数の数 (最大の添字+1) を返す。
	NumVars() int
	String() string
}

const RPNTag = "formula.RPN"

func init() {
	serial.MustRegister(RPNTag, decodeRPN)
}

type opKind int

const (
	opConst opKind = iota
	opVar
	opUnary
	opBinary
)

type token struct {
	kind   opKind
	text   string
	value  float64
	index  int
	unary  func(float64) float64
	binary func(float64, float64) float64
}

var unaryOps = map[string]func(float64) float64{
	"log":  math.Log,
	"sqrt": math.Sqrt,
	"abs":  math.Abs,
	"neg":  func(a float64) float64 { return -a },
	"inv":  func(a float64) float64 { return 1 / a },
}

var binaryOps = map[string]func(float64, float64) float64{
	"+":   func(a, b float64) float64 { return a + b },
	"-":   func(a, b float64) float64 { return a - b },
	"*":   func(a, b float64) float64 { return a * b },
	"/":   func(a, b float64) float64 { return a / b },
	"min": math.Min,
	"max": math.Max,
}

type RPN struct {
	tokens  []token
	numVars int
}

// Parse は空白区切りの後置記法を読む。スタックが1つの値で終わらなければエラー。
func Parse(s string) (*RPN, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil, fmt.Errorf("formula must not be empty")
	}

	f := &RPN{tokens: make([]token, 0, len(fields))}
	depth := 0
	for i, field := range fields {
		var tok token
		switch {
		case unaryOps[field] != nil:
			if depth < 1 {
				return nil, fmt.Errorf("token %d (%s): missing operand", i, field)
			}
			tok = token{kind: opUnary, text: field, unary: unaryOps[field]}
		case binaryOps[field] != nil:
			if depth < 2 {
				return nil, fmt.Errorf("token %d (%s): missing operand", i, field)
			}
			tok = token{kind: opBinary, text: field, binary: binaryOps[field]}
			depth--
		case strings.HasPrefix(field, "X"):
			idx, err := strconv.Atoi(field[1:])
			if err != nil || idx < 0 {
				return nil, fmt.Errorf("token %d: invalid variable %q", i, field)
			}
			tok = token{kind: opVar, text: field, index: idx}
			f.numVars = max(f.numVars, idx+1)
			depth++
		default:
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("token %d: unknown token %q", i, field)
			}
			tok = token{kind: opConst, text: field, value: v}
			depth++
		}
		f.tokens = append(f.tokens, tok)
	}
	if depth != 1 {
		return nil, fmt.Errorf("formula leaves %d values on the stack", depth)
	}
	return f, nil
}

func MustParse(s string) *RPN {
	f, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return f
}

func (f *RPN) NumVars() int {
	return f.numVars
}

func (f *RPN) Evaluate(vars []float64) (float64, error) {
	if len(vars) < f.numVars {
		return 0, fmt.Errorf("formula needs %d variables, got %d", f.numVars, len(vars))
	}
	stack := make([]float64, 0, len(f.tokens))
	for _, tok := range f.tokens {
		switch tok.kind {
		case opConst:
			stack = append(stack, tok.value)
		case opVar:
			stack = append(stack, vars[tok.index])
		case opUnary:
			n := len(stack)
			stack[n-1] = tok.unary(stack[n-1])
		case opBinary:
			n := len(stack)
			stack[n-2] = tok.binary(stack[n-2], stack[n-1])
			stack = stack[:n-1]
		}
	}
	return stack[0], nil
}

func (f *RPN) String() string {
	ss := make([]string, len(f.tokens))
	for i, tok := range f.tokens {
		ss[i] = tok.text
	}
	return strings.Join(ss, " ")
}

func (f *RPN) TypeTag() string {
	return RPNTag
}

func (f *RPN) Serialize(e *serial.Encoder) {
	e.String("rpn", f.String())
}

func decodeRPN(d *serial.Decoder) (serial.Serializable, error) {
	s := d.String("rpn")
	if err := d.Err(); err != nil {
		return nil, err
	}
	f, err := Parse(s)
	if err != nil {
		return nil, err
	}
	return f, nil
}
