package template

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/noetl/noetl/internal/domain"
)

// applyFilter implements the small filter set named in the design notes:
// join, default, to_json, upper, lower, length.
func applyFilter(name string, in domain.Value, args []domain.Value) (domain.Value, error) {
	switch name {
	case "default":
		if in.IsNull() {
			if len(args) > 0 {
				return args[0], nil
			}
			return domain.Null(), nil
		}
		return in, nil

	case "join":
		sep := ","
		if len(args) > 0 {
			sep = args[0].AsString()
		}
		if in.Kind != domain.KindList {
			return domain.Null(), fmt.Errorf("template: 'join' requires a list")
		}
		parts := make([]string, len(in.L))
		for i, e := range in.L {
			parts[i] = e.AsString()
		}
		return domain.Str(strings.Join(parts, sep)), nil

	case "to_json":
		b, err := json.Marshal(in.ToInterface())
		if err != nil {
			return domain.Null(), fmt.Errorf("template: to_json: %w", err)
		}
		return domain.Str(string(b)), nil

	case "upper":
		return domain.Str(strings.ToUpper(in.AsString())), nil

	case "lower":
		return domain.Str(strings.ToLower(in.AsString())), nil

	case "length":
		switch in.Kind {
		case domain.KindList:
			return domain.Int(int64(len(in.L))), nil
		case domain.KindMap:
			return domain.Int(int64(len(in.M))), nil
		case domain.KindString:
			return domain.Int(int64(len([]rune(in.S)))), nil
		case domain.KindNull:
			return domain.Int(0), nil
		}
		return domain.Null(), fmt.Errorf("template: 'length' requires a list, map, or string")

	case "trim":
		return domain.Str(strings.TrimSpace(in.AsString())), nil
	}
	return domain.Null(), fmt.Errorf("template: unknown filter %q", name)
}
