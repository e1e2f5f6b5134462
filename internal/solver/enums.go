package solver

import (
	"fmt"
	"sort"
	"strings"
)

// MinimizerType selects the outer optimization loop.
type MinimizerType int

const (
	TrustRegion MinimizerType = iota
	LineSearch
)

// TrustRegionStrategyType selects how trust-region steps are computed.
type TrustRegionStrategyType int

const (
	LevenbergMarquardt TrustRegionStrategyType = iota
	Dogleg
)

// LinearSolverType selects how the trust-region linear system is solved.
type LinearSolverType int

const (
	DenseQR LinearSolverType = iota
	DenseNormalCholesky
	DenseSchur
)

// LineSearchDirectionType selects the quasi-Newton direction of the line
// search minimizer.
type LineSearchDirectionType int

const (
	LBFGS LineSearchDirectionType = iota
	BFGS
)

// LoggingType controls per-iteration trace output.
type LoggingType int

const (
	Silent LoggingType = iota
	PerMinimizerIteration
)

var (
	minimizerNames = map[MinimizerType]string{
		TrustRegion: "trust_region",
		LineSearch:  "line_search",
	}
	strategyNames = map[TrustRegionStrategyType]string{
		LevenbergMarquardt: "levenberg_marquardt",
		Dogleg:             "dogleg",
	}
	linearSolverNames = map[LinearSolverType]string{
		DenseQR:             "dense_qr",
		DenseNormalCholesky: "dense_normal_cholesky",
		DenseSchur:          "dense_schur",
	}
	lineSearchNames = map[LineSearchDirectionType]string{
		LBFGS: "lbfgs",
		BFGS:  "bfgs",
	}
	loggingNames = map[LoggingType]string{
		Silent:                "silent",
		PerMinimizerIteration: "per_minimizer_iteration",
	}
)

func enumString[T ~int](names map[T]string, v T) string {
	if s, ok := names[v]; ok {
		return s
	}
	return fmt.Sprintf("unknown(%d)", int(v))
}

func parseEnum[T ~int](names map[T]string, s, what string) (T, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for v, n := range names {
		if n == name {
			return v, nil
		}
	}
	var zero T
	return zero, fmt.Errorf("unknown %s %q (valid: %s)", what, s, enumChoices(names))
}

func enumChoices[T ~int](names map[T]string) string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, n)
	}
	sort.Strings(out)
	return strings.Join(out, ", ")
}

func (t MinimizerType) String() string           { return enumString(minimizerNames, t) }
func (t TrustRegionStrategyType) String() string { return enumString(strategyNames, t) }
func (t LinearSolverType) String() string        { return enumString(linearSolverNames, t) }
func (t LineSearchDirectionType) String() string { return enumString(lineSearchNames, t) }
func (t LoggingType) String() string             { return enumString(loggingNames, t) }

// ParseMinimizerType parses a minimizer_type value.
func ParseMinimizerType(s string) (MinimizerType, error) {
	return parseEnum(minimizerNames, s, "minimizer type")
}

// ParseTrustRegionStrategyType parses a trust_region_strategy_type value.
func ParseTrustRegionStrategyType(s string) (TrustRegionStrategyType, error) {
	return parseEnum(strategyNames, s, "trust region strategy")
}

// ParseLinearSolverType parses a linear_solver_type value.
func ParseLinearSolverType(s string) (LinearSolverType, error) {
	return parseEnum(linearSolverNames, s, "linear solver type")
}

// ParseLineSearchDirectionType parses a line_search_direction_type value.
func ParseLineSearchDirectionType(s string) (LineSearchDirectionType, error) {
	return parseEnum(lineSearchNames, s, "line search direction")
}

// ParseLoggingType parses a logging_type value.
func ParseLoggingType(s string) (LoggingType, error) {
	return parseEnum(loggingNames, s, "logging type")
}
