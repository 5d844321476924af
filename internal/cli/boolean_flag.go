package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const (
	booleanFlagTypeName         = "bool"
	booleanFlagTrueLiteral      = "true"
	booleanFlagAcceptedLiterals = "true, false, yes, no, on, off, 1, 0"
	invalidBooleanFlagFormat    = "invalid boolean value %q for --%s; accepted values: %s"
	unboundBooleanFlagFormat    = "flag --%s is not bound"
	booleanFlagAssignmentFormat = "--%s=%s"
	longFlagPrefix              = "--"
	argumentTerminator          = "--"
	shortFlagPrefix             = "-"
	flagAssignmentSeparator     = "="
)

var booleanFlagLiterals = map[string]bool{
	"true":  true,
	"t":     true,
	"1":     true,
	"yes":   true,
	"y":     true,
	"on":    true,
	"false": false,
	"f":     false,
	"0":     false,
	"no":    false,
	"n":     false,
	"off":   false,
}

// booleanFlag accepts the yes/no/on/off spellings in addition to strconv's.
type booleanFlag struct {
	target *bool
	name   string
}

func (flag *booleanFlag) Set(input string) error {
	if flag.target == nil {
		return fmt.Errorf(unboundBooleanFlagFormat, flag.name)
	}
	literal := strings.ToLower(strings.TrimSpace(input))
	if literal == "" {
		literal = booleanFlagTrueLiteral
	}
	parsed, known := booleanFlagLiterals[literal]
	if !known {
		return fmt.Errorf(invalidBooleanFlagFormat, input, flag.name, booleanFlagAcceptedLiterals)
	}
	*flag.target = parsed
	return nil
}

func (flag *booleanFlag) String() string {
	if flag.target == nil {
		return strconv.FormatBool(false)
	}
	return strconv.FormatBool(*flag.target)
}

func (flag *booleanFlag) Type() string {
	return booleanFlagTypeName
}

// registerBooleanFlag binds a flag that may be given bare, with =value, or followed by a literal.
func registerBooleanFlag(flagSet *pflag.FlagSet, target *bool, name string, shorthand string, defaultValue bool, usage string) {
	if flagSet == nil || target == nil {
		return
	}
	*target = defaultValue
	flagSet.VarP(&booleanFlag{target: target, name: name}, name, shorthand, usage)
	registered := flagSet.Lookup(name)
	registered.DefValue = strconv.FormatBool(defaultValue)
	registered.NoOptDefVal = booleanFlagTrueLiteral
}

// normalizeBooleanFlagArguments joins "--flag literal" pairs into "--flag=literal" for every
// boolean flag of the command tree so that a bare flag followed by a positional is not misread.
func normalizeBooleanFlagArguments(command *cobra.Command, arguments []string) []string {
	booleanFlagNames := map[string]struct{}{}
	collectBooleanFlagNames(command, booleanFlagNames)
	if len(booleanFlagNames) == 0 {
		return arguments
	}
	normalized := make([]string, 0, len(arguments))
	for index := 0; index < len(arguments); index++ {
		argument := arguments[index]
		if argument == argumentTerminator {
			return append(normalized, arguments[index:]...)
		}
		if joined, consumed := joinBooleanLiteral(booleanFlagNames, argument, arguments[index+1:]); consumed {
			normalized = append(normalized, joined)
			index++
			continue
		}
		normalized = append(normalized, argument)
	}
	return normalized
}

func joinBooleanLiteral(booleanFlagNames map[string]struct{}, argument string, remaining []string) (string, bool) {
	if !strings.HasPrefix(argument, longFlagPrefix) || strings.Contains(argument, flagAssignmentSeparator) || len(remaining) == 0 {
		return "", false
	}
	flagName := strings.TrimPrefix(argument, longFlagPrefix)
	if _, isBoolean := booleanFlagNames[flagName]; !isBoolean {
		return "", false
	}
	nextArgument := remaining[0]
	if strings.HasPrefix(nextArgument, shortFlagPrefix) {
		return "", false
	}
	if _, isLiteral := booleanFlagLiterals[strings.ToLower(strings.TrimSpace(nextArgument))]; !isLiteral {
		return "", false
	}
	return fmt.Sprintf(booleanFlagAssignmentFormat, flagName, nextArgument), true
}

func collectBooleanFlagNames(command *cobra.Command, target map[string]struct{}) {
	if command == nil {
		return
	}
	record := func(flag *pflag.Flag) {
		if flag.Value != nil && flag.Value.Type() == booleanFlagTypeName {
			target[flag.Name] = struct{}{}
		}
	}
	command.PersistentFlags().VisitAll(record)
	command.Flags().VisitAll(record)
	for _, child := range command.Commands() {
		collectBooleanFlagNames(child, target)
	}
}
