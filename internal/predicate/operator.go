package predicate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MrSnakeDoc/fedcheck/internal/software"
)

// ErrUnknownOperator is returned for operator strings ParseOperator does not know.
var ErrUnknownOperator = errors.New("unknown operator")

// Operator is the relation a match predicate checks.
type Operator int

const (
	ANY Operator = iota
	LT
	LE
	GT
	GE
	EQ
	NE
)

var operatorSymbols = map[string]Operator{
	"":    ANY,
	"*":   ANY,
	"any": ANY,
	"<":   LT,
	"<=":  LE,
	">":   GT,
	">=":  GE,
	"=":   EQ,
	"==":  EQ,
	"===": EQ,
	"!=":  NE,
	"!==": NE,
	"≠":   NE,
	"lt":  LT,
	"le":  LE,
	"gt":  GT,
	"ge":  GE,
	"eq":  EQ,
	"ne":  NE,
}

// ParseOperator reads the symbolic or two-letter form of an operator.
func ParseOperator(s string) (Operator, error) {
	op, ok := operatorSymbols[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return ANY, fmt.Errorf("%w %q", ErrUnknownOperator, s)
	}
	return op, nil
}

func (op Operator) String() string {
	switch op {
	case LT:
		return "<"
	case LE:
		return "<="
	case GT:
		return ">"
	case GE:
		return ">="
	case EQ:
		return "=="
	case NE:
		return "!="
	default:
		return "any"
	}
}

// Holds reports whether an ordering satisfies op. Incomparable never does.
func (op Operator) Holds(o software.Ordering) bool {
	switch o {
	case software.Less:
		return op == LT || op == LE || op == NE
	case software.Equal:
		return op == LE || op == GE || op == EQ
	case software.Greater:
		return op == GT || op == GE || op == NE
	default:
		return false
	}
}
