package tools

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Calculate evaluates a basic arithmetic expression: + - * / // % ** with
// unary signs and parentheses. Nothing else lexes; there is no name lookup
// and no call syntax, so untrusted expressions stay arithmetic.
func Calculate(expression string) (float64, error) {
	if strings.TrimSpace(expression) == "" {
		return 0, errors.New("expression cannot be empty")
	}
	tokens, err := lexExpression(expression)
	if err != nil {
		return 0, err
	}
	p := &exprParser{tokens: tokens}
	value, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	if tok, ok := p.peek(); ok {
		return 0, fmt.Errorf("unexpected %q after expression", tok.text)
	}
	return value, nil
}

var errDivisionByZero = errors.New("division by zero")

type calcToken struct {
	text   string
	value  float64
	number bool
}

func lexExpression(s string) ([]calcToken, error) {
	var tokens []calcToken
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c >= '0' && c <= '9' || c == '.':
			j := i
			for j < len(s) && (s[j] >= '0' && s[j] <= '9' || s[j] == '.') {
				j++
			}
			if j < len(s) && (s[j] == 'e' || s[j] == 'E') {
				k := j + 1
				if k < len(s) && (s[k] == '+' || s[k] == '-') {
					k++
				}
				for k < len(s) && s[k] >= '0' && s[k] <= '9' {
					k++
				}
				j = k
			}
			text := s[i:j]
			value, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q", text)
			}
			tokens = append(tokens, calcToken{text: text, value: value, number: true})
			i = j
		case c == '*':
			if i+1 < len(s) && s[i+1] == '*' {
				tokens = append(tokens, calcToken{text: "**"})
				i += 2
			} else {
				tokens = append(tokens, calcToken{text: "*"})
				i++
			}
		case c == '/':
			if i+1 < len(s) && s[i+1] == '/' {
				tokens = append(tokens, calcToken{text: "//"})
				i += 2
			} else {
				tokens = append(tokens, calcToken{text: "/"})
				i++
			}
		case c == '+' || c == '-' || c == '%' || c == '(' || c == ')':
			tokens = append(tokens, calcToken{text: string(c)})
			i++
		default:
			return nil, fmt.Errorf("unexpected character %q in expression", string(c))
		}
	}
	return tokens, nil
}

// exprParser is a recursive-descent evaluator with the usual precedence:
// additive < multiplicative < unary sign < power, power right-associative.
type exprParser struct {
	tokens []calcToken
	pos    int
}

func (p *exprParser) peek() (calcToken, bool) {
	if p.pos >= len(p.tokens) {
		return calcToken{}, false
	}
	return p.tokens[p.pos], true
}

func (p *exprParser) acceptOp(ops ...string) (string, bool) {
	tok, ok := p.peek()
	if !ok || tok.number {
		return "", false
	}
	for _, op := range ops {
		if tok.text == op {
			p.pos++
			return op, true
		}
	}
	return "", false
}

func (p *exprParser) parseExpr() (float64, error) {
	left, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		op, ok := p.acceptOp("+", "-")
		if !ok {
			return left, nil
		}
		right, err := p.parseTerm()
		if err != nil {
			return 0, err
		}
		if op == "+" {
			left += right
		} else {
			left -= right
		}
	}
}

func (p *exprParser) parseTerm() (float64, error) {
	left, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	for {
		op, ok := p.acceptOp("*", "/", "//", "%")
		if !ok {
			return left, nil
		}
		right, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		switch op {
		case "*":
			left *= right
		case "/":
			if right == 0 {
				return 0, errDivisionByZero
			}
			left /= right
		case "//":
			if right == 0 {
				return 0, errDivisionByZero
			}
			left = math.Floor(left / right)
		case "%":
			if right == 0 {
				return 0, errDivisionByZero
			}
			left = floorMod(left, right)
		}
	}
}

func (p *exprParser) parseUnary() (float64, error) {
	if op, ok := p.acceptOp("+", "-"); ok {
		value, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		if op == "-" {
			value = -value
		}
		return value, nil
	}
	return p.parsePower()
}

// parsePower binds tighter than unary sign on the left, so -2**2 is -4, and
// allows a signed exponent on the right, so 2**-1 is 0.5.
func (p *exprParser) parsePower() (float64, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return 0, err
	}
	if _, ok := p.acceptOp("**"); ok {
		exponent, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		return math.Pow(base, exponent), nil
	}
	return base, nil
}

func (p *exprParser) parsePrimary() (float64, error) {
	tok, ok := p.peek()
	if !ok {
		return 0, errors.New("unexpected end of expression")
	}
	if tok.number {
		p.pos++
		return tok.value, nil
	}
	if tok.text == "(" {
		p.pos++
		value, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		if _, ok := p.acceptOp(")"); !ok {
			return 0, errors.New("missing closing parenthesis")
		}
		return value, nil
	}
	return 0, fmt.Errorf("unexpected %q in expression", tok.text)
}

// floorMod is the modulo of floored division: the result takes the divisor's
// sign, so floorMod(-7, 3) is 2.
func floorMod(a, b float64) float64 {
	m := math.Mod(a, b)
	if m != 0 && (m < 0) != (b < 0) {
		m += b
	}
	return m
}
