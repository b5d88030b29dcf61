package output

import (
	"context"
	"fmt"
	"strings"
)

// ParseArgument splits an --out value "type=arg" into its type and
// argument. The argument is optional: "json" and "json=" are equivalent.
func ParseArgument(s string) (outputType, arg string, err error) {
	outputType, arg, _ = strings.Cut(strings.TrimSpace(s), "=")
	outputType = strings.TrimSpace(outputType)
	if outputType == "" {
		return "", "", fmt.Errorf("invalid output %q: expected type[=argument]", s)
	}
	return outputType, strings.TrimSpace(arg), nil
}

// CreateOutputs builds one output per --out value. Outputs already created
// are stopped when a later one fails.
func CreateOutputs(ctx context.Context, args []string, params Params) ([]Output, error) {
	outputs := make([]Output, 0, len(args))

	for _, a := range args {
		typ, arg, err := ParseArgument(a)
		if err == nil {
			p := params
			p.ConfigArgument = arg
			var out Output
			out, err = Create(ctx, typ, p)
			if err == nil {
				outputs = append(outputs, out)
				continue
			}
		}

		for _, o := range outputs {
			_ = o.Stop()
		}
		return nil, fmt.Errorf("创建输出 %s 失败: %w", a, err)
	}

	return outputs, nil
}
